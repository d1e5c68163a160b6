package comfyui

import (
	"context"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	cp "github.com/otiai10/copy"

	"comfygit/internal/logging"
	"comfygit/pkg/cgerr"
)

// UpstreamURL is the ComfyUI repository environments are checked out from.
const UpstreamURL = "https://github.com/comfyanonymous/ComfyUI"

// DefaultRef is used when the manifest does not pin a ComfyUI ref.
const DefaultRef = "master"

// Checkout materializes ComfyUI trees from a workspace-wide clone cache so
// repeated environment creation does not re-clone upstream.
type Checkout struct {
	cacheDir string
}

func NewCheckout(cacheDir string) *Checkout {
	return &Checkout{cacheDir: cacheDir}
}

func (c *Checkout) cachePath(ref string) string {
	if ref == "" {
		ref = DefaultRef
	}
	return filepath.Join(c.cacheDir, ref)
}

// Materialize places a ComfyUI checkout at ref into destDir, cloning into
// the cache on a miss.
func (c *Checkout) Materialize(ctx context.Context, ref, destDir string) error {
	if ref == "" {
		ref = DefaultRef
	}
	cached := c.cachePath(ref)

	if _, err := os.Stat(cached); os.IsNotExist(err) {
		logging.Info("cloning ComfyUI at %s", ref)
		tmp := cached + ".tmp"
		os.RemoveAll(tmp)

		opts := &git.CloneOptions{URL: UpstreamURL, Depth: 1, SingleBranch: true}
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		_, cloneErr := git.PlainCloneContext(ctx, tmp, false, opts)
		if cloneErr != nil {
			os.RemoveAll(tmp)
			opts.ReferenceName = plumbing.NewTagReferenceName(ref)
			_, cloneErr = git.PlainCloneContext(ctx, tmp, false, opts)
		}
		if cloneErr != nil {
			os.RemoveAll(tmp)
			return cgerr.New(cgerr.KindExternal, "clone ComfyUI at "+ref, "check the ref and network connectivity", cloneErr)
		}
		if err := os.Rename(tmp, cached); err != nil {
			return cgerr.New(cgerr.KindFilesystem, "populate clone cache", "", err)
		}
	}

	if err := cp.Copy(cached, destDir, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
	}); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "copy ComfyUI checkout", "", err)
	}
	return nil
}
