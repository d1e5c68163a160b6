package gitsnap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"comfygit/internal/logging"
	"comfygit/pkg/cgerr"
)

// Manager versions the .cec/ contents: manifest, lockfile, workflow mirror,
// and metadata files.
type Manager struct {
	dir  string
	repo *git.Repository
}

var versionTagRe = regexp.MustCompile(`^v(\d+)$`)

// Init creates the .cec git repository. Idempotent: an existing repository
// is opened.
func Init(dir string) (*Manager, error) {
	repo, err := git.PlainInit(dir, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return Open(dir)
	}
	if err != nil {
		return nil, cgerr.New(cgerr.KindGit, "init snapshot repository", "", err)
	}
	return &Manager{dir: dir, repo: repo}, nil
}

// Open opens an existing .cec repository.
func Open(dir string) (*Manager, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, cgerr.New(cgerr.KindGit, "open snapshot repository", "the environment's .cec directory is missing its git repo", err)
	}
	return &Manager{dir: dir, repo: repo}, nil
}

func signature() *object.Signature {
	return &object.Signature{Name: "comfygit", Email: "comfygit@localhost", When: time.Now()}
}

// IsClean reports whether the working tree has no uncommitted changes.
func (m *Manager) IsClean() (bool, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	return status.IsClean(), nil
}

// Commit stages everything under .cec/ and creates a snapshot with the next
// monotonic vN tag. Committing a clean tree fails with a git-kind error
// from the commit step.
func (m *Manager) Commit(message string) (string, error) {
	return m.commitWith(message, false)
}

// commitWith allows empty commits for rollback's auto-commit, where landing
// on an identical tree is still a new snapshot.
func (m *Manager) commitWith(message string, allowEmpty bool) (string, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return "", cgerr.New(cgerr.KindGit, "commit", "", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", cgerr.New(cgerr.KindGit, "stage changes", "", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: signature(), AllowEmptyCommits: allowEmpty})
	if err != nil {
		return "", cgerr.New(cgerr.KindGit, "commit", "", err)
	}

	tag, err := m.nextVersionTag()
	if err != nil {
		return "", err
	}
	if _, err := m.repo.CreateTag(tag, hash, nil); err != nil {
		return "", cgerr.New(cgerr.KindGit, "tag "+tag, "", err)
	}
	logging.Debug("created snapshot %s (%s)", tag, hash.String()[:8])
	return tag, nil
}

// nextVersionTag scans the v<N> namespace and returns v<max+1>. The
// sequence is monotonic across the repository's whole life: rollbacks
// append, they never rewind the counter.
func (m *Manager) nextVersionTag() (string, error) {
	max := 0
	tags, err := m.repo.Tags()
	if err != nil {
		return "", cgerr.New(cgerr.KindGit, "list tags", "", err)
	}
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		if match := versionTagRe.FindStringSubmatch(ref.Name().Short()); match != nil {
			if n, err := strconv.Atoi(match[1]); err == nil && n > max {
				max = n
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d", max+1), nil
}

// ResolveTarget turns a user-supplied target (vN tag, short or long SHA,
// HEAD~k) into a commit hash.
func (m *Manager) ResolveTarget(target string) (plumbing.Hash, error) {
	if versionTagRe.MatchString(target) {
		ref, err := m.repo.Tag(target)
		if err == nil {
			return ref.Hash(), nil
		}
	}
	hash, err := m.repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return plumbing.ZeroHash, cgerr.New(cgerr.KindUser, fmt.Sprintf("unknown version %q", target),
			"run the log command to list snapshots", err)
	}
	return *hash, nil
}

// Rollback restores the tracked tree to the target snapshot. Tracked paths
// absent from the target are deleted, so files created after the target do
// not survive. afterRestore runs between the tree restore and the
// auto-commit (the workflow mirror). Any failure restores the pre-rollback
// state before surfacing.
func (m *Manager) Rollback(target string, afterRestore func() error) (string, error) {
	targetHash, err := m.ResolveTarget(target)
	if err != nil {
		return "", err
	}

	head, err := m.repo.Head()
	if err != nil {
		return "", cgerr.New(cgerr.KindGit, "rollback", "the repository has no snapshots yet", err)
	}
	preHash := head.Hash()

	wt, err := m.repo.Worktree()
	if err != nil {
		return "", cgerr.New(cgerr.KindGit, "rollback", "", err)
	}

	revert := func() {
		if err := wt.Reset(&git.ResetOptions{Commit: preHash, Mode: git.HardReset}); err != nil {
			logging.Error("failed to restore pre-rollback state: %v", err)
		}
	}

	// Hard reset materializes the target tree (deleting tracked extras),
	// then a soft reset moves the branch back so the restored tree lands in
	// a NEW snapshot instead of rewriting history.
	if err := wt.Reset(&git.ResetOptions{Commit: targetHash, Mode: git.HardReset}); err != nil {
		return "", cgerr.New(cgerr.KindGit, "restore target tree", "", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: preHash, Mode: git.SoftReset}); err != nil {
		revert()
		return "", cgerr.New(cgerr.KindGit, "rollback", "", err)
	}

	if afterRestore != nil {
		if err := afterRestore(); err != nil {
			revert()
			return "", err
		}
	}

	tag, err := m.commitWith(fmt.Sprintf("Rollback to %s", target), true)
	if err != nil {
		revert()
		return "", err
	}
	return tag, nil
}

// Push publishes the snapshot branch and tags. Uncommitted changes refuse
// the push; force uses forced refspecs.
func (m *Manager) Push(ctx context.Context, remote string, force bool) error {
	clean, err := m.IsClean()
	if err != nil {
		return err
	}
	if !clean {
		return cgerr.New(cgerr.KindUser, "uncommitted changes in .cec/", "commit before pushing", nil)
	}

	head, err := m.repo.Head()
	if err != nil {
		return cgerr.New(cgerr.KindGit, "push", "", err)
	}
	branch := head.Name().Short()

	branchSpec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	tagSpec := "refs/tags/v*:refs/tags/v*"
	if force {
		branchSpec = "+" + branchSpec
		tagSpec = "+" + tagSpec
	}

	err = m.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(branchSpec), config.RefSpec(tagSpec)},
		Force:      force,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return cgerr.New(cgerr.KindGit, "push to "+remote, "use --force to overwrite the remote history", err)
	}
	return nil
}

// Pull fetches and fast-forwards, runs reconcile on the merged state, and
// auto-commits the result. Any reconcile error rolls the git state back to
// the pre-pull snapshot. Uncommitted changes refuse the pull unless force
// discards them.
func (m *Manager) Pull(ctx context.Context, remote string, force bool, reconcile func() error) error {
	clean, err := m.IsClean()
	if err != nil {
		return err
	}
	wt, err := m.repo.Worktree()
	if err != nil {
		return cgerr.New(cgerr.KindGit, "pull", "", err)
	}
	if !clean {
		if !force {
			return cgerr.New(cgerr.KindUser, "uncommitted changes in .cec/", "commit first, or pass --force to discard them", nil)
		}
		head, err := m.repo.Head()
		if err != nil {
			return cgerr.New(cgerr.KindGit, "pull", "", err)
		}
		if err := wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
			return cgerr.New(cgerr.KindGit, "discard changes", "", err)
		}
	}

	head, err := m.repo.Head()
	if err != nil {
		return cgerr.New(cgerr.KindGit, "pull", "", err)
	}
	preHash := head.Hash()

	revert := func() {
		if err := wt.Reset(&git.ResetOptions{Commit: preHash, Mode: git.HardReset}); err != nil {
			logging.Error("failed to restore pre-pull state: %v", err)
		}
	}

	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: remote})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		err = nil
	}
	if err != nil {
		if errors.Is(err, git.ErrNonFastForwardUpdate) {
			return cgerr.New(cgerr.KindGit, "pull from "+remote,
				"the histories diverged; resolve manually in .cec/ or re-clone", err)
		}
		return cgerr.New(cgerr.KindExternal, "pull from "+remote, "check network connectivity and authentication", err)
	}

	if reconcile != nil {
		if err := reconcile(); err != nil {
			revert()
			return err
		}
	}

	// Auto-commit whatever reconcile produced (restored workflows,
	// refreshed lockfile). A clean tree after reconcile is fine.
	if clean, err := m.IsClean(); err == nil && !clean {
		if _, err := m.Commit("Reconcile after pull"); err != nil {
			revert()
			return err
		}
	}
	return nil
}

// RemoteAdd registers a named remote.
func (m *Manager) RemoteAdd(name, url string) error {
	_, err := m.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if errors.Is(err, git.ErrRemoteExists) {
		return cgerr.Userf("remote %q already exists", name)
	}
	if err != nil {
		return cgerr.New(cgerr.KindGit, "add remote", "", err)
	}
	return nil
}

// RemoteRemove deletes a named remote.
func (m *Manager) RemoteRemove(name string) error {
	if err := m.repo.DeleteRemote(name); err != nil {
		return cgerr.New(cgerr.KindGit, "remove remote", "", err)
	}
	return nil
}

// RemoteList returns name → URLs for every configured remote.
func (m *Manager) RemoteList() (map[string][]string, error) {
	remotes, err := m.repo.Remotes()
	if err != nil {
		return nil, cgerr.New(cgerr.KindGit, "list remotes", "", err)
	}
	out := make(map[string][]string, len(remotes))
	for _, r := range remotes {
		out[r.Config().Name] = r.Config().URLs
	}
	return out, nil
}

// LogEntry is one snapshot in the history listing.
type LogEntry struct {
	Tag     string
	Hash    string
	Message string
	When    time.Time
}

// Log returns snapshots in reverse chronological order, newest first.
func (m *Manager) Log(limit int) ([]LogEntry, error) {
	tagByCommit := map[plumbing.Hash]string{}
	tags, err := m.repo.Tags()
	if err != nil {
		return nil, cgerr.New(cgerr.KindGit, "list tags", "", err)
	}
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		if versionTagRe.MatchString(ref.Name().Short()) {
			tagByCommit[ref.Hash()] = ref.Name().Short()
		}
		return nil
	})

	head, err := m.repo.Head()
	if err != nil {
		return nil, nil
	}
	iter, err := m.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, cgerr.New(cgerr.KindGit, "read log", "", err)
	}

	var entries []LogEntry
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(entries) >= limit {
			return errStopIteration
		}
		entries = append(entries, LogEntry{
			Tag:     tagByCommit[c.Hash],
			Hash:    c.Hash.String(),
			Message: c.Message,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].When.After(entries[j].When) })
	return entries, nil
}

var errStopIteration = errors.New("stop iteration")
