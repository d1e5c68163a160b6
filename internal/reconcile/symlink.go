package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"comfygit/internal/logging"
	"comfygit/pkg/cgerr"
)

// placeholderFiles are the only contents that allow silently replacing a
// real models directory with the symlink.
var placeholderFiles = map[string]bool{
	".gitkeep":            true,
	".gitignore":          true,
	"Put models here.txt": true,
}

// Symlink makes ComfyUI/models resolve to the workspace model pool. Many
// community nodes call ComfyUI's path APIs directly instead of honoring the
// path override config, so only a real link makes the pool universally
// visible.
type Symlink struct {
	LinkPath string // ComfyUI/models
	Target   string // workspace models directory
}

// Create establishes the link, handling every occupancy case: correct link
// (no-op), wrong link (recreate), placeholder-only directory (replace), and
// populated directory (rename aside to models.backup).
func (s *Symlink) Create() error {
	info, err := os.Lstat(s.LinkPath)
	if os.IsNotExist(err) {
		return s.link()
	}
	if err != nil {
		return cgerr.New(cgerr.KindFilesystem, "inspect "+s.LinkPath, "", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		current, err := os.Readlink(s.LinkPath)
		if err == nil && sameTarget(current, s.Target, s.LinkPath) {
			return nil
		}
		if err := os.Remove(s.LinkPath); err != nil {
			return cgerr.New(cgerr.KindFilesystem, "replace stale models link", "", err)
		}
		return s.link()
	}

	if !info.IsDir() {
		return cgerr.New(cgerr.KindFilesystem, s.LinkPath+" exists and is not a directory or link",
			"remove the file and re-run", nil)
	}

	onlyPlaceholders, err := containsOnlyPlaceholders(s.LinkPath)
	if err != nil {
		return cgerr.New(cgerr.KindFilesystem, "inspect "+s.LinkPath, "", err)
	}
	if onlyPlaceholders {
		if err := os.RemoveAll(s.LinkPath); err != nil {
			return cgerr.New(cgerr.KindFilesystem, "remove placeholder models directory", "", err)
		}
		return s.link()
	}

	backup := s.LinkPath + ".backup"
	logging.Warn("moving existing models directory to %s", backup)
	if err := os.Rename(s.LinkPath, backup); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "back up models directory",
			"move "+s.LinkPath+" aside manually and re-run", err)
	}
	return s.link()
}

func (s *Symlink) link() error {
	if err := os.MkdirAll(filepath.Dir(s.LinkPath), 0755); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "create "+filepath.Dir(s.LinkPath), "", err)
	}
	if runtime.GOOS == "windows" {
		// Windows also gets a directory symbolic link, not a junction;
		// creating it needs Developer Mode or an elevated process.
		if err := os.Symlink(s.Target, s.LinkPath); err != nil {
			return cgerr.New(cgerr.KindFilesystem, "create models symlink",
				"enable Developer Mode or run elevated", err)
		}
		return nil
	}
	if err := os.Symlink(s.Target, s.LinkPath); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "create models symlink", "", err)
	}
	return nil
}

// Validate reports whether the link is present and points at the pool,
// logging the anomaly it found otherwise.
func (s *Symlink) Validate() bool {
	info, err := os.Lstat(s.LinkPath)
	if err != nil {
		logging.Debug("models link missing at %s", s.LinkPath)
		return false
	}
	if info.Mode()&os.ModeSymlink == 0 {
		logging.Warn("%s is a real directory, not a link", s.LinkPath)
		return false
	}
	current, err := os.Readlink(s.LinkPath)
	if err != nil || !sameTarget(current, s.Target, s.LinkPath) {
		logging.Warn("%s points at %s, expected %s", s.LinkPath, current, s.Target)
		return false
	}
	return true
}

// Remove deletes the link only when it actually is one; real directories
// are never touched.
func (s *Symlink) Remove() error {
	info, err := os.Lstat(s.LinkPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%s is not a symlink; refusing to remove", s.LinkPath)
	}
	return os.Remove(s.LinkPath)
}

func sameTarget(current, target, linkPath string) bool {
	if current == target {
		return true
	}
	if !filepath.IsAbs(current) {
		current = filepath.Join(filepath.Dir(linkPath), current)
	}
	a, err1 := filepath.Abs(current)
	b, err2 := filepath.Abs(target)
	return err1 == nil && err2 == nil && a == b
}

func containsOnlyPlaceholders(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() || !placeholderFiles[e.Name()] {
			return false, nil
		}
	}
	return true, nil
}
