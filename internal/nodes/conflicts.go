package nodes

import (
	"os"

	git "github.com/go-git/go-git/v5"

	"comfygit/pkg/cgerr"
)

// DetectConflict classifies what occupies an install target before any
// mutation happens. A nil return means the path is free.
func DetectConflict(dir, packageID, targetURL string) *cgerr.NodeConflictError {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return &cgerr.NodeConflictError{Kind: cgerr.DirectoryExists, PackageID: packageID, Dir: dir}
	}

	remotes, err := repo.Remotes()
	if err != nil || len(remotes) == 0 {
		return &cgerr.NodeConflictError{Kind: cgerr.LocalRepo, PackageID: packageID, Dir: dir}
	}

	for _, remote := range remotes {
		for _, u := range remote.Config().URLs {
			if targetURL != "" && SameRepoURL(u, targetURL) {
				return &cgerr.NodeConflictError{Kind: cgerr.SameRepo, PackageID: packageID, Dir: dir, Remote: u}
			}
		}
	}

	remoteURL := ""
	if urls := remotes[0].Config().URLs; len(urls) > 0 {
		remoteURL = urls[0]
	}
	return &cgerr.NodeConflictError{Kind: cgerr.DifferentRepo, PackageID: packageID, Dir: dir, Remote: remoteURL}
}
