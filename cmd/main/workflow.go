package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"comfygit/internal/reconcile"
	"comfygit/internal/resolve"
	"comfygit/internal/workflow"
	"comfygit/internal/workspace"
)

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show workflow and snapshot state",
		RunE:  runStatus,
	}

	syncAuto     bool
	syncStrategy string

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Analyze workflows, resolve their dependencies, and reconcile the environment",
		RunE:  runSync,
	}
)

var (
	stateStyle = map[reconcile.WorkflowState]lipgloss.Style{
		reconcile.WorkflowNew:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		reconcile.WorkflowModified: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		reconcile.WorkflowDeleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		reconcile.WorkflowSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

func init() {
	syncCmd.Flags().BoolVar(&syncAuto, "auto", false, "resolve without prompting, taking the best candidate")
	syncCmd.Flags().StringVar(&syncStrategy, "models", string(reconcile.DownloadSkip), "model download strategy: all, required, or skip")
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}

	fmt.Printf("Environment: %s\n", env.Name)

	states, err := env.Mirror.Status()
	if err != nil {
		return err
	}
	synced := true
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nWorkflows:")
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for _, name := range names {
		state := states[name]
		if state != reconcile.WorkflowSynced {
			synced = false
		}
		fmt.Printf("  %-40s %s\n", name, stateStyle[state].Render(string(state)))
	}

	clean, err := env.Snap.IsClean()
	if err != nil {
		return err
	}
	if !clean {
		synced = false
	}

	if blockers := env.CommitBlockers(); len(blockers) > 0 {
		synced = false
		fmt.Println("\nUnresolved:")
		for _, b := range blockers {
			fmt.Printf("  %s\n", b)
		}
	}

	fmt.Printf("\nis_synced: %v\n", synced)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	_, env, err := openEnv()
	if err != nil {
		return err
	}

	if err := resolveWorkflows(env, syncAuto); err != nil {
		return err
	}

	result, err := env.Reconciler().Run(cmd.Context(), reconcile.Options{
		AcquireModels: syncStrategy != string(reconcile.DownloadSkip),
		Strategy:      reconcile.DownloadStrategy(syncStrategy),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Nodes: %d installed, %d removed, %d updated\n",
		result.NodesInstalled, result.NodesRemoved, result.NodesUpdated)
	fmt.Printf("Workflows: %d restored, %d deleted\n", result.WorkflowsRestored, result.WorkflowsDeleted)
	if result.ModelsDownloaded+result.ModelsFailed > 0 {
		fmt.Printf("Models: %d downloaded, %d failed\n", result.ModelsDownloaded, result.ModelsFailed)
	}
	for _, op := range result.Errors() {
		fmt.Printf("  error: %s %s: %v\n", op.Type, op.Target, op.Error)
	}
	return nil
}

// resolveWorkflows analyzes every active workflow and runs the resolution
// engine over it.
func resolveWorkflows(env *workspace.Env, auto bool) error {
	repos := env.Repos()
	registry := env.Registry()

	// Refresh the node mapping table opportunistically; resolution works
	// from the cached copy when the registry is unreachable.
	if mappings, err := registry.NodeMappings(rootCmd.Context()); err == nil {
		if err := repos.NodeMappings.PutAll(mappings); err != nil {
			return err
		}
	}

	var strategy resolve.Strategy = resolve.InteractiveStrategy{}
	if auto {
		strategy = resolve.AutoStrategy{}
	}

	analyzer := workflow.NewAnalyzer(repos, workflow.DefaultNormalizer(), cfg.ModelFileExtensions)
	engine := resolve.NewEngine(env.Manifest, repos, strategy, nil)

	entries, err := os.ReadDir(env.Mirror.ActiveDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(env.Mirror.ActiveDir, e.Name()))
		if err != nil {
			return err
		}
		analysis, err := analyzer.Analyze(raw)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		result, err := engine.ResolveWorkflow(name, analysis)
		if err != nil {
			return err
		}
		if n := result.UnresolvedCount(); n > 0 {
			fmt.Printf("%s: %d entries still unresolved\n", name, n)
		}
	}
	return nil
}
