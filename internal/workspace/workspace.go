package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"comfygit/internal/config"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// Store owns the workspace.json record and the workspace directory layout.
type Store struct {
	cfg *config.Config
}

func NewStore(cfg *config.Config) *Store {
	return &Store{cfg: cfg}
}

// Exists reports whether the workspace has been initialized.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.cfg.WorkspaceJSONPath())
	return err == nil
}

// Init creates the workspace skeleton and its metadata record. Idempotent:
// an existing workspace is returned unchanged.
func (s *Store) Init() (*models.Workspace, error) {
	if s.Exists() {
		return s.Load()
	}

	for _, dir := range []string{
		s.cfg.MetadataDir(),
		s.cfg.EnvironmentsDir(),
		s.cfg.ModelsDir(),
		s.cfg.NodeCacheDir(),
		s.cfg.ComfyUICacheDir(),
		s.cfg.APICacheDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, cgerr.New(cgerr.KindFilesystem, "create workspace directory "+dir, "", err)
		}
	}

	ws := &models.Workspace{
		Version:   models.WorkspaceSchemaVersion,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Save(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// Load reads workspace.json. A missing workspace is a state error: most
// commands require bootstrap first.
func (s *Store) Load() (*models.Workspace, error) {
	raw, err := os.ReadFile(s.cfg.WorkspaceJSONPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, cgerr.New(cgerr.KindFilesystem, "workspace not initialized",
			"run the init command to create one", err)
	}
	if err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "read workspace.json", "", err)
	}
	var ws models.Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "parse workspace.json", "the file is corrupt; restore or re-init", err)
	}
	if ws.Version > models.WorkspaceSchemaVersion {
		return nil, cgerr.Userf("workspace.json schema v%d is newer than this build supports", ws.Version)
	}
	return &ws, nil
}

// Save writes workspace.json atomically.
func (s *Store) Save(ws *models.Workspace) error {
	raw, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	path := s.cfg.WorkspaceJSONPath()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".workspace-*.json")
	if err != nil {
		return cgerr.New(cgerr.KindFilesystem, "save workspace.json", "", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// SetModelDirectory points the workspace at a model pool. When external, the
// workspace models/ path becomes a symlink to it.
func (s *Store) SetModelDirectory(path string) error {
	ws, err := s.Load()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return cgerr.Userf("invalid models directory %q", path)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return cgerr.Userf("models directory %q does not exist", path)
	}

	pool := s.cfg.ModelsDir()
	if abs != pool {
		if info, err := os.Lstat(pool); err == nil {
			if info.Mode()&os.ModeSymlink == 0 {
				if entries, _ := os.ReadDir(pool); len(entries) > 0 {
					return cgerr.New(cgerr.KindFilesystem, "workspace models/ already contains files",
						"move them into the new pool first", nil)
				}
			}
			if err := os.Remove(pool); err != nil {
				return cgerr.New(cgerr.KindFilesystem, "replace models link", "", err)
			}
		}
		if err := os.Symlink(abs, pool); err != nil {
			return cgerr.New(cgerr.KindFilesystem, "link models pool", "", err)
		}
	}

	ws.GlobalModelDirectory = &models.GlobalModelDirectory{Path: abs, AddedAt: time.Now().UTC()}
	return s.Save(ws)
}

// TouchModelSync records a completed index sync time.
func (s *Store) TouchModelSync() error {
	ws, err := s.Load()
	if err != nil {
		return err
	}
	if ws.GlobalModelDirectory == nil {
		return nil
	}
	now := time.Now().UTC()
	ws.GlobalModelDirectory.LastSync = &now
	return s.Save(ws)
}

// ActiveEnvironment returns the recorded active environment name.
func (s *Store) ActiveEnvironment() (string, error) {
	ws, err := s.Load()
	if err != nil {
		return "", err
	}
	if ws.ActiveEnvironment == "" {
		return "", cgerr.New(cgerr.KindFilesystem, "no active environment",
			"create one or activate an existing one", nil)
	}
	return ws.ActiveEnvironment, nil
}

// SetActiveEnvironment records the active environment. Exactly one may be
// active at a time.
func (s *Store) SetActiveEnvironment(name string) error {
	if _, err := os.Stat(s.cfg.EnvironmentDir(name)); err != nil {
		return cgerr.Userf("environment %q does not exist", name)
	}
	ws, err := s.Load()
	if err != nil {
		return err
	}
	ws.ActiveEnvironment = name
	return s.Save(ws)
}

// ListEnvironments returns every environment name, sorted.
func (s *Store) ListEnvironments() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.EnvironmentsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// EnvironmentPaths derives the normative layout of one environment.
func (s *Store) EnvironmentPaths(name string) models.Environment {
	root := s.cfg.EnvironmentDir(name)
	return models.Environment{
		Name:       name,
		Root:       root,
		ComfyUIDir: filepath.Join(root, "ComfyUI"),
		CECDir:     filepath.Join(root, ".cec"),
		VenvDir:    filepath.Join(root, ".venv"),
		ModelsLink: filepath.Join(root, "ComfyUI", "models"),
	}
}

// DeleteEnvironment removes an environment tree. The active pointer is
// cleared when it referenced the deleted environment.
func (s *Store) DeleteEnvironment(name string) error {
	dir := s.cfg.EnvironmentDir(name)
	if _, err := os.Stat(dir); err != nil {
		return cgerr.Userf("environment %q does not exist", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "delete environment "+name, "", err)
	}
	ws, err := s.Load()
	if err != nil {
		return err
	}
	if ws.ActiveEnvironment == name {
		ws.ActiveEnvironment = ""
		return s.Save(ws)
	}
	return nil
}

// Config exposes the workspace configuration handle.
func (s *Store) Config() *config.Config { return s.cfg }

func (s *Store) String() string {
	return fmt.Sprintf("workspace at %s", s.cfg.WorkspaceRoot)
}
