package nodes

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gofrs/flock"
	cp "github.com/otiai10/copy"

	"comfygit/internal/logging"
	"comfygit/internal/sources"
	"comfygit/pkg/cgerr"
)

// ArchiveCache is the workspace-wide node source cache, keyed by
// (package-id, resolved-ref). Reads are shared; writes take a per-key
// lockfile so concurrent environments do not corrupt an entry.
type ArchiveCache struct {
	dir        string
	downloader sources.Downloader
}

func NewArchiveCache(dir string, downloader sources.Downloader) *ArchiveCache {
	return &ArchiveCache{dir: dir, downloader: downloader}
}

func (c *ArchiveCache) keyDir(packageID, ref string) string {
	if ref == "" {
		ref = "default"
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s@%s", packageID, ref))
}

// Has reports whether an entry is already populated.
func (c *ArchiveCache) Has(packageID, ref string) bool {
	info, err := os.Stat(c.keyDir(packageID, ref))
	return err == nil && info.IsDir()
}

// CopyTo materializes a cache entry into dest.
func (c *ArchiveCache) CopyTo(packageID, ref, dest string) error {
	src := c.keyDir(packageID, ref)
	return cp.Copy(src, dest, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
	})
}

// Remove drops a cache entry.
func (c *ArchiveCache) Remove(packageID, ref string) error {
	return os.RemoveAll(c.keyDir(packageID, ref))
}

// withLock runs fn while holding the entry's lockfile.
func (c *ArchiveCache) withLock(packageID, ref string, fn func() error) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}
	lock := flock.New(c.keyDir(packageID, ref) + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock cache entry %s@%s: %w", packageID, ref, err)
	}
	defer lock.Unlock()
	return fn()
}

// PopulateFromGit clones repoURL at ref into the cache entry. ref may be a
// branch, a tag, a commit SHA, or empty for the default branch; branch and
// tag clones are shallow, a commit SHA is checked out from a full clone.
func (c *ArchiveCache) PopulateFromGit(ctx context.Context, packageID, ref, repoURL string) error {
	return c.withLock(packageID, ref, func() error {
		dest := c.keyDir(packageID, ref)
		if c.Has(packageID, ref) {
			return nil
		}

		tmp := dest + ".tmp"
		os.RemoveAll(tmp)

		opts := &git.CloneOptions{URL: repoURL, Depth: 1}
		if ref != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
			opts.SingleBranch = true
		}
		_, err := git.PlainCloneContext(ctx, tmp, false, opts)
		if err != nil && ref != "" {
			// Branch miss: the ref may be a tag.
			os.RemoveAll(tmp)
			opts.ReferenceName = plumbing.NewTagReferenceName(ref)
			_, err = git.PlainCloneContext(ctx, tmp, false, opts)
		}
		if err != nil && ref != "" {
			// Tag miss too: a pinned commit SHA needs a full clone.
			os.RemoveAll(tmp)
			repo, cloneErr := git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{URL: repoURL})
			err = cloneErr
			if err == nil {
				if wt, wtErr := repo.Worktree(); wtErr == nil {
					err = wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)})
				} else {
					err = wtErr
				}
			}
		}
		if err != nil {
			os.RemoveAll(tmp)
			return cgerr.New(cgerr.KindExternal, fmt.Sprintf("clone %s", repoURL), "check the URL and network connectivity", err)
		}
		return os.Rename(tmp, dest)
	})
}

// PopulateFromArchive downloads and extracts a tar.gz archive into the
// cache entry.
func (c *ArchiveCache) PopulateFromArchive(ctx context.Context, packageID, ref, archiveURL string) error {
	return c.withLock(packageID, ref, func() error {
		dest := c.keyDir(packageID, ref)
		if c.Has(packageID, ref) {
			return nil
		}

		tmpArchive := dest + ".download"
		defer os.Remove(tmpArchive)
		if err := c.downloader.Download(ctx, archiveURL, tmpArchive); err != nil {
			return err
		}

		tmp := dest + ".tmp"
		os.RemoveAll(tmp)
		if err := extractTarGz(tmpArchive, tmp); err != nil {
			os.RemoveAll(tmp)
			return cgerr.New(cgerr.KindExternal, "extract "+archiveURL, "the archive may be corrupt; retry", err)
		}
		return os.Rename(tmp, dest)
	})
}

// extractTarGz unpacks archivePath into destDir, flattening a single
// top-level directory when the archive has one.
func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	prefix := ""
	tr := tar.NewReader(gz)
	first := true
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := filepath.ToSlash(hdr.Name)
		if first {
			if i := strings.Index(name, "/"); i > 0 {
				prefix = name[:i+1]
			}
			first = false
		}
		if prefix != "" && strings.HasPrefix(name, prefix) {
			name = name[len(prefix):]
		}
		if name == "" {
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		rel, err := filepath.Rel(destDir, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			logging.Warn("skipping archive entry escaping destination: %s", hdr.Name)
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}
