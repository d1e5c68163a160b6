package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"comfygit/internal/manifest"
	"comfygit/internal/pyenv"
	"comfygit/internal/workspace"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// ExportOptions controls archive production.
type ExportOptions struct {
	// AllowIssues exports even when models lack source URLs.
	AllowIssues bool
	// IncludeGit packs the .cec/.git tree so a git-URL import preserves
	// history.
	IncludeGit bool
}

// ExportReport lists what preflight found.
type ExportReport struct {
	ArchivePath    string
	MissingSources []string // model filenames with no reacquisition URL
}

// Export produces a self-contained archive for the environment. Preflight
// refuses dirty state: uncommitted workflows or .cec changes.
func Export(env *workspace.Env, destPath string, opts ExportOptions) (*ExportReport, error) {
	clean, err := env.Snap.IsClean()
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, cgerr.New(cgerr.KindUser, "uncommitted changes in .cec/", "commit before exporting", nil)
	}
	synced, err := env.Mirror.IsSynced()
	if err != nil {
		return nil, err
	}
	if !synced {
		return nil, cgerr.New(cgerr.KindUser, "uncommitted workflow changes", "commit before exporting", nil)
	}

	report := &ExportReport{ArchivePath: destPath}
	for _, category := range []string{models.ModelCategoryRequired, models.ModelCategoryOptional} {
		for _, entry := range env.Manifest.ListModels(category) {
			if len(entry.Sources) == 0 {
				report.MissingSources = append(report.MissingSources, entry.Filename)
			}
		}
	}
	if len(report.MissingSources) > 0 && !opts.AllowIssues {
		return report, cgerr.New(cgerr.KindUser,
			fmt.Sprintf("%d models have no download source and cannot be reacquired", len(report.MissingSources)),
			"add sources with the model command, or pass --allow-issues", nil)
	}

	cec := env.Paths.CECDir
	entries := map[string]string{
		manifest.FileName: filepath.Join(cec, manifest.FileName),
	}
	if _, err := os.Stat(filepath.Join(cec, pyenv.LockFileName)); err == nil {
		entries[pyenv.LockFileName] = filepath.Join(cec, pyenv.LockFileName)
	}

	// Pin the Python version for the importing side.
	pythonVersion := env.Manifest.EnvironmentConfig().PythonVersion
	pinFile := filepath.Join(os.TempDir(), fmt.Sprintf("comfygit-python-version-%d", os.Getpid()))
	if err := os.WriteFile(pinFile, []byte(pythonVersion+"\n"), 0644); err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "write python version pin", "", err)
	}
	defer os.Remove(pinFile)
	entries[".python-version"] = pinFile

	if _, err := os.Stat(filepath.Join(cec, "workflows")); err == nil {
		entries["workflows"] = filepath.Join(cec, "workflows")
	}
	if _, err := os.Stat(filepath.Join(cec, "dev_nodes")); err == nil {
		entries["dev_nodes"] = filepath.Join(cec, "dev_nodes")
	}
	if opts.IncludeGit {
		entries[".git"] = filepath.Join(cec, ".git")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "create archive directory", "", err)
	}
	if err := writeTarGz(destPath, entries); err != nil {
		os.Remove(destPath)
		return nil, cgerr.New(cgerr.KindFilesystem, "write archive", "", err)
	}
	return report, nil
}
