package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"comfygit/internal/comfyui"
	"comfygit/internal/db/repositories"
	"comfygit/internal/gitsnap"
	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/internal/modelindex"
	"comfygit/internal/nodes"
	"comfygit/internal/pyenv"
	"comfygit/internal/reconcile"
	"comfygit/internal/sources"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// Env is an opened environment: every subsystem wired to its paths.
type Env struct {
	Name     string
	Paths    models.Environment
	Manifest *manifest.Store
	Snap     *gitsnap.Manager
	Broker   *pyenv.Broker
	Nodes    *nodes.Manager
	Mirror   *reconcile.WorkflowMirror
	Symlink  *reconcile.Symlink

	workspace *Store
	repos     *repositories.Repositories
	registry  sources.Registry
	download  sources.Downloader
	scanner   *modelindex.Scanner
}

// OpenEnvironment wires the subsystems for an existing environment.
func (s *Store) OpenEnvironment(name string, repos *repositories.Repositories, registry sources.Registry, downloader sources.Downloader) (*Env, error) {
	paths := s.EnvironmentPaths(name)
	if _, err := os.Stat(paths.Root); err != nil {
		return nil, cgerr.Userf("environment %q does not exist", name)
	}

	store, err := manifest.Load(paths.CECDir)
	if err != nil {
		return nil, err
	}
	snap, err := gitsnap.Open(paths.CECDir)
	if err != nil {
		return nil, err
	}

	cfg := s.cfg
	broker := pyenv.NewBroker(store, paths.CECDir, paths.VenvDir, cfg.ExternalTimeout)
	customNodesDir := filepath.Join(paths.ComfyUIDir, "custom_nodes")
	cache := nodes.NewArchiveCache(cfg.NodeCacheDir(), downloader)
	devNodesDir := filepath.Join(paths.CECDir, "dev_nodes")
	nodeMgr := nodes.NewManager(store, registry, cache, customNodesDir, devNodesDir, broker)

	var scanner *modelindex.Scanner
	if repos != nil {
		scanner = modelindex.NewScanner(repos, cfg.ModelsDir(), cfg.ModelFileExtensions, cfg.HashWorkers)
	}

	return &Env{
		Name:     name,
		Paths:    paths,
		Manifest: store,
		Snap:     snap,
		Broker:   broker,
		Nodes:    nodeMgr,
		Mirror: &reconcile.WorkflowMirror{
			CommittedDir: filepath.Join(paths.CECDir, "workflows"),
			ActiveDir:    filepath.Join(paths.ComfyUIDir, "user", "default", "workflows"),
		},
		Symlink: &reconcile.Symlink{
			LinkPath: paths.ModelsLink,
			Target:   cfg.ModelsDir(),
		},
		workspace: s,
		repos:     repos,
		registry:  registry,
		download:  downloader,
		scanner:   scanner,
	}, nil
}

// CreateOptions configures a new environment.
type CreateOptions struct {
	ComfyUIRef    string
	PythonVersion string
	TorchBackend  string
	Activate      bool
}

// CreateEnvironment builds a full environment shell: ComfyUI checkout,
// .cec with an initialized git repo and manifest, a virtualenv, and the
// models symlink, finishing with the initial snapshot. A failure removes
// the partial tree.
func (s *Store) CreateEnvironment(ctx context.Context, name string, opts CreateOptions, repos *repositories.Repositories, registry sources.Registry, downloader sources.Downloader) (*Env, error) {
	paths := s.EnvironmentPaths(name)
	if _, err := os.Stat(paths.Root); err == nil {
		return nil, cgerr.Userf("environment %q already exists", name)
	}

	cleanup := func() {
		if err := os.RemoveAll(paths.Root); err != nil {
			logging.Error("failed to clean up partial environment %s: %v", name, err)
		}
	}

	for _, dir := range []string{paths.Root, paths.CECDir, filepath.Join(paths.CECDir, "workflows"), filepath.Join(paths.CECDir, "dev_nodes")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			cleanup()
			return nil, cgerr.New(cgerr.KindFilesystem, "create environment directory "+dir, "", err)
		}
	}

	checkout := comfyui.NewCheckout(s.cfg.ComfyUICacheDir())
	if err := checkout.Materialize(ctx, opts.ComfyUIRef, paths.ComfyUIDir); err != nil {
		cleanup()
		return nil, err
	}

	if _, err := gitsnap.Init(paths.CECDir); err != nil {
		cleanup()
		return nil, err
	}

	store, err := manifest.Load(paths.CECDir)
	if err != nil {
		cleanup()
		return nil, err
	}
	store.Document().Project.Name = name
	store.SetEnvironmentConfig(models.EnvironmentConfig{
		ComfyUIRef:    firstNonEmpty(opts.ComfyUIRef, comfyui.DefaultRef),
		PythonVersion: opts.PythonVersion,
		TorchBackend:  opts.TorchBackend,
	})
	if err := store.Save(); err != nil {
		cleanup()
		return nil, err
	}

	env, err := s.OpenEnvironment(name, repos, registry, downloader)
	if err != nil {
		cleanup()
		return nil, err
	}

	if err := env.Symlink.Create(); err != nil {
		cleanup()
		return nil, err
	}

	if err := env.Broker.Ensure(ctx); err != nil {
		// A missing uv binary should not destroy the shell; the venv can be
		// created later with sync.
		logging.Warn("virtualenv not created: %v", err)
	}

	if _, err := env.Snap.Commit(fmt.Sprintf("Create environment %s", name)); err != nil {
		cleanup()
		return nil, err
	}

	if opts.Activate {
		if err := s.SetActiveEnvironment(name); err != nil {
			return env, err
		}
	}
	return env, nil
}

// Repos exposes the shared model index repositories.
func (e *Env) Repos() *repositories.Repositories { return e.repos }

// Registry exposes the registry client this environment was opened with.
func (e *Env) Registry() sources.Registry { return e.registry }

// Reconciler builds the sync pipeline for this environment.
func (e *Env) Reconciler() *reconcile.Reconciler {
	return &reconcile.Reconciler{
		Manifest:    e.Manifest,
		Nodes:       e.Nodes,
		Python:      e.Broker,
		Mirror:      e.Mirror,
		Symlink:     e.Symlink,
		Downloader:  e.download,
		Scanner:     e.scanner,
		ModelsDir:   e.workspace.cfg.ModelsDir(),
		CustomNodes: filepath.Join(e.Paths.ComfyUIDir, "custom_nodes"),
	}
}

// CommitBlockers returns the workflow entries that violate the commit
// safety predicate: unresolved entries not explicitly marked optional.
func (e *Env) CommitBlockers() []string {
	var blockers []string
	for _, wf := range e.Manifest.ListWorkflows() {
		for _, wm := range wf.Models {
			if wm.Status == models.StatusUnresolved && wm.Criticality != models.ModelCategoryOptional {
				blockers = append(blockers, fmt.Sprintf("workflow %s: model %s unresolved", wf.Name, wm.Filename))
			}
		}
		for nodeType, target := range wf.CustomNodeMap {
			if target == nil {
				blockers = append(blockers, fmt.Sprintf("workflow %s: node %s unresolved", wf.Name, nodeType))
			}
		}
	}
	return blockers
}

// Commit captures active workflows into .cec, enforces the safety
// predicate, and snapshots. The returned string is the new version tag.
func (e *Env) Commit(message string, allowIssues bool) (string, error) {
	captured, deleted, err := e.Mirror.CaptureCommitted()
	if err != nil {
		return "", cgerr.New(cgerr.KindFilesystem, "capture workflows", "", err)
	}
	logging.Debug("captured %d workflows, deleted %d", len(captured), len(deleted))

	// Workflows removed from ComfyUI stop being tracked in the manifest too.
	for _, name := range deleted {
		e.Manifest.DeleteWorkflow(trimJSON(name))
	}
	if len(deleted) > 0 {
		if err := e.Manifest.Save(); err != nil {
			return "", err
		}
	}

	if !allowIssues {
		if blockers := e.CommitBlockers(); len(blockers) > 0 {
			return "", cgerr.New(cgerr.KindResolution,
				fmt.Sprintf("%d unresolved entries block the commit", len(blockers)),
				"resolve them with the sync command or pass --allow-issues", nil)
		}
	}

	return e.Snap.Commit(message)
}

// Rollback restores a snapshot and re-mirrors workflows, ending with the
// auto-commit. The working tree ends clean.
func (e *Env) Rollback(target string) (string, error) {
	return e.Snap.Rollback(target, func() error {
		// Manifest content changed under us; reload before reconciling.
		store, err := manifest.Load(e.Paths.CECDir)
		if err != nil {
			return err
		}
		*e.Manifest = *store

		if _, _, err := e.Mirror.RestoreActive(); err != nil {
			return err
		}
		return nil
	})
}

// Pull fast-forwards from a remote and reconciles the merged state.
func (e *Env) Pull(ctx context.Context, remote string, force bool, strategy reconcile.DownloadStrategy) (*reconcile.Result, error) {
	var result *reconcile.Result
	err := e.Snap.Pull(ctx, remote, force, func() error {
		store, err := manifest.Load(e.Paths.CECDir)
		if err != nil {
			return err
		}
		*e.Manifest = *store

		var rerr error
		result, rerr = e.Reconciler().Run(ctx, reconcile.Options{AcquireModels: true, Strategy: strategy})
		return rerr
	})
	return result, err
}

func trimJSON(name string) string {
	const suffix = ".json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
