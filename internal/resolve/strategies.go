package resolve

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// AutoStrategy selects the engine's own best candidate, or skips.
type AutoStrategy struct{}

func (AutoStrategy) ResolveNode(nodeType string, candidates []string) (NodeDecision, error) {
	if len(candidates) > 0 {
		return NodeDecision{Kind: DecisionChoose, PackageID: candidates[0]}, nil
	}
	return NodeDecision{Kind: DecisionSkip}, nil
}

func (AutoStrategy) ResolveModel(filename string, refs []models.ModelReference, candidates []ModelCandidate) (ModelDecision, error) {
	if len(candidates) > 0 {
		return ModelDecision{Kind: DecisionChoose, RelativePath: candidates[0].Location.RelativePath}, nil
	}
	return ModelDecision{Kind: DecisionSkip}, nil
}

// ScriptedStrategy replays injected decisions; used by the engine tests.
type ScriptedStrategy struct {
	NodeDecisions  map[string]NodeDecision
	ModelDecisions map[string]ModelDecision

	// Calls records each solicitation so tests can assert the strategy was
	// (or was not) consulted.
	Calls []string
}

func (s *ScriptedStrategy) ResolveNode(nodeType string, candidates []string) (NodeDecision, error) {
	s.Calls = append(s.Calls, "node:"+nodeType)
	if d, ok := s.NodeDecisions[nodeType]; ok {
		return d, nil
	}
	return NodeDecision{Kind: DecisionSkip}, nil
}

func (s *ScriptedStrategy) ResolveModel(filename string, refs []models.ModelReference, candidates []ModelCandidate) (ModelDecision, error) {
	s.Calls = append(s.Calls, "model:"+filename)
	if d, ok := s.ModelDecisions[filename]; ok {
		return d, nil
	}
	return ModelDecision{Kind: DecisionSkip}, nil
}

// InteractiveStrategy prompts the user with huh forms.
type InteractiveStrategy struct{}

func (InteractiveStrategy) ResolveNode(nodeType string, candidates []string) (NodeDecision, error) {
	const (
		optManual   = "\x00manual"
		optOptional = "\x00optional"
		optSkip     = "\x00skip"
	)

	options := make([]huh.Option[string], 0, len(candidates)+3)
	for _, c := range candidates {
		options = append(options, huh.NewOption(c, c))
	}
	options = append(options,
		huh.NewOption("Enter a package id or git URL manually", optManual),
		huh.NewOption("Mark this node type optional", optOptional),
		huh.NewOption("Skip for now", optSkip),
	)

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Which package provides %q?", nodeType)).
			Options(options...).
			Value(&choice),
	)).WithTheme(huh.ThemeCharm())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return NodeDecision{}, cgerr.New(cgerr.KindUser, "resolution cancelled", "prior decisions are preserved", err)
		}
		return NodeDecision{}, err
	}

	switch choice {
	case optOptional:
		return NodeDecision{Kind: DecisionOptional}, nil
	case optSkip:
		return NodeDecision{Kind: DecisionSkip}, nil
	case optManual:
		var ref string
		input := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Package id or git URL").Value(&ref),
		)).WithTheme(huh.ThemeCharm())
		if err := input.Run(); err != nil {
			return NodeDecision{}, err
		}
		return NodeDecision{Kind: DecisionManual, ManualRef: ref}, nil
	default:
		return NodeDecision{Kind: DecisionChoose, PackageID: choice}, nil
	}
}

func (InteractiveStrategy) ResolveModel(filename string, refs []models.ModelReference, candidates []ModelCandidate) (ModelDecision, error) {
	const (
		optManual   = "\x00manual"
		optOptional = "\x00optional"
		optSkip     = "\x00skip"
	)

	options := make([]huh.Option[string], 0, len(candidates)+3)
	for _, c := range candidates {
		label := c.Location.RelativePath
		if c.Confidence != "" {
			label = fmt.Sprintf("%s (%s match)", label, c.Confidence)
		}
		options = append(options, huh.NewOption(label, c.Location.RelativePath))
	}
	options = append(options,
		huh.NewOption("Provide a download URL", optManual),
		huh.NewOption("Mark this model optional", optOptional),
		huh.NewOption("Skip for now", optSkip),
	)

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Which indexed file is %q?", filename)).
			Options(options...).
			Value(&choice),
	)).WithTheme(huh.ThemeCharm())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ModelDecision{}, cgerr.New(cgerr.KindUser, "resolution cancelled", "prior decisions are preserved", err)
		}
		return ModelDecision{}, err
	}

	switch choice {
	case optOptional:
		return ModelDecision{Kind: DecisionOptional}, nil
	case optSkip:
		return ModelDecision{Kind: DecisionSkip}, nil
	case optManual:
		var sourceURL string
		input := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Download URL").Value(&sourceURL),
		)).WithTheme(huh.ThemeCharm())
		if err := input.Run(); err != nil {
			return ModelDecision{}, err
		}
		return ModelDecision{Kind: DecisionManual, SourceURL: sourceURL}, nil
	default:
		return ModelDecision{Kind: DecisionChoose, RelativePath: choice}, nil
	}
}
