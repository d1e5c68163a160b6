package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"

	"comfygit/internal/comfyui"
	"comfygit/internal/db/repositories"
	"comfygit/internal/gitsnap"
	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/internal/reconcile"
	"comfygit/internal/sources"
	"comfygit/internal/workspace"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// ImportOptions configures archive consumption.
type ImportOptions struct {
	// TorchBackend is the target host's backend label; the archive's torch
	// pins are stripped and rebuilt for it.
	TorchBackend string
	// Strategy selects which unresolved models to download.
	Strategy reconcile.DownloadStrategy
	// Activate makes the imported environment active.
	Activate bool
}

// Import consumes an archive into a new environment. Nothing in the archive
// binds an OS or GPU; platform state is derived here from the chosen
// backend label.
func Import(ctx context.Context, ws *workspace.Store, archivePath, envName string, opts ImportOptions,
	repos *repositories.Repositories, registry sources.Registry, downloader sources.Downloader) (*workspace.Env, error) {

	// 1. Extract to scratch and create the environment shell.
	scratch, err := os.MkdirTemp("", "comfygit-import-*")
	if err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "create scratch directory", "", err)
	}
	defer os.RemoveAll(scratch)

	if err := extractTarGz(archivePath, scratch); err != nil {
		return nil, cgerr.New(cgerr.KindExternal, "extract archive", "the archive may be corrupt", err)
	}
	if _, err := os.Stat(filepath.Join(scratch, manifest.FileName)); err != nil {
		return nil, cgerr.Userf("archive has no %s; not a comfygit export", manifest.FileName)
	}

	paths := ws.EnvironmentPaths(envName)
	if _, err := os.Stat(paths.Root); err == nil {
		return nil, cgerr.Userf("environment %q already exists", envName)
	}
	cleanup := func() { os.RemoveAll(paths.Root) }

	for _, dir := range []string{paths.Root, paths.CECDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			cleanup()
			return nil, cgerr.New(cgerr.KindFilesystem, "create environment directory "+dir, "", err)
		}
	}

	// Materialize the archive's .cec contents.
	for _, name := range []string{manifest.FileName, "uv.lock", "workflows", "dev_nodes", ".git"} {
		src := filepath.Join(scratch, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := cp.Copy(src, filepath.Join(paths.CECDir, name)); err != nil {
			cleanup()
			return nil, cgerr.New(cgerr.KindFilesystem, "copy archive contents", "", err)
		}
	}
	for _, dir := range []string{filepath.Join(paths.CECDir, "workflows"), filepath.Join(paths.CECDir, "dev_nodes")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			cleanup()
			return nil, err
		}
	}

	// 9a. Fresh history for tarball imports; a packed .git is preserved.
	if _, err := os.Stat(filepath.Join(paths.CECDir, ".git")); os.IsNotExist(err) {
		if _, err := gitsnap.Init(paths.CECDir); err != nil {
			cleanup()
			return nil, err
		}
	}

	store, err := manifest.Load(paths.CECDir)
	if err != nil {
		cleanup()
		return nil, err
	}

	// 2. ComfyUI at the archive's declared ref, from the clone cache.
	ref := store.EnvironmentConfig().ComfyUIRef
	checkout := comfyui.NewCheckout(ws.Config().ComfyUICacheDir())
	if err := checkout.Materialize(ctx, ref, paths.ComfyUIDir); err != nil {
		cleanup()
		return nil, err
	}

	env, err := ws.OpenEnvironment(envName, repos, registry, downloader)
	if err != nil {
		cleanup()
		return nil, err
	}

	if err := env.Symlink.Create(); err != nil {
		cleanup()
		return nil, err
	}

	// 3. Torch backend strip-and-reinstall for this host.
	if opts.TorchBackend != "" {
		if err := env.Broker.SetTorchBackend(ctx, opts.TorchBackend); err != nil {
			cleanup()
			return nil, err
		}
	}

	// 4. Python dependencies; optional-group failures are warnings.
	if err := env.Broker.Sync(ctx); err != nil {
		logging.Warn("optional dependency groups may be incomplete: %v", err)
	}

	// 5. Development nodes: symlink from .cec/dev_nodes so the source stays
	// editable in one place.
	customNodesDir := filepath.Join(paths.ComfyUIDir, "custom_nodes")
	if err := os.MkdirAll(customNodesDir, 0755); err != nil {
		cleanup()
		return nil, err
	}
	devNodesDir := filepath.Join(paths.CECDir, "dev_nodes")
	if entries, err := os.ReadDir(devNodesDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			link := filepath.Join(customNodesDir, e.Name())
			if err := os.Symlink(filepath.Join(devNodesDir, e.Name()), link); err != nil && !os.IsExist(err) {
				logging.Warn("failed to link development node %s: %v", e.Name(), err)
			}
		}
	}

	// 6. Registry and git nodes.
	for _, entry := range env.Manifest.ListNodes() {
		if entry.Source == models.NodeSourceDevelopment {
			continue
		}
		if err := env.Nodes.EnsureInstalled(ctx, entry); err != nil {
			logging.Warn("failed to install node %s: %v", entry.PackageID, err)
		}
	}

	// 7. Workflows into the active directory.
	if _, _, err := env.Mirror.RestoreActive(); err != nil {
		cleanup()
		return nil, err
	}

	// 8. Model strategy; failures keep their download intents.
	if opts.Strategy != "" && opts.Strategy != reconcile.DownloadSkip {
		result, err := env.Reconciler().Run(ctx, reconcile.Options{AcquireModels: true, Strategy: opts.Strategy})
		if err != nil {
			cleanup()
			return nil, err
		}
		if result.ModelsFailed > 0 {
			logging.Warn("%d models could not be downloaded; their intents are preserved", result.ModelsFailed)
		}
	}

	// 9b. Initial snapshot of the post-setup state.
	if _, err := env.Snap.Commit(fmt.Sprintf("Import environment %s", envName)); err != nil {
		cleanup()
		return nil, err
	}

	if opts.Activate {
		if err := ws.SetActiveEnvironment(envName); err != nil {
			return env, err
		}
	}
	return env, nil
}
