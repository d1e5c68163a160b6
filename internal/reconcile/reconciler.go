package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"

	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/internal/modelindex"
	"comfygit/internal/nodes"
	"comfygit/internal/sources"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// DownloadStrategy selects which unresolved models get acquired.
type DownloadStrategy string

const (
	DownloadAll      DownloadStrategy = "all"
	DownloadRequired DownloadStrategy = "required"
	DownloadSkip     DownloadStrategy = "skip"
)

// Options controls one reconciliation run.
type Options struct {
	// AcquireModels turns on the model acquisition step (pull and import).
	AcquireModels bool
	Strategy      DownloadStrategy
}

// OperationType tags one entry in the reconciliation report.
type OperationType string

const (
	OpInstall  OperationType = "install"
	OpRemove   OperationType = "remove"
	OpUpdate   OperationType = "update"
	OpRestore  OperationType = "restore"
	OpDelete   OperationType = "delete"
	OpDownload OperationType = "download"
	OpError    OperationType = "error"
)

// Operation is a single reconciliation action and its outcome.
type Operation struct {
	Type        OperationType
	Target      string
	Description string
	Error       error
}

// Result is the structured outcome of a pipeline run.
type Result struct {
	NodesInstalled    int
	NodesRemoved      int
	NodesUpdated      int
	PackagesSynced    bool
	WorkflowsRestored int
	WorkflowsDeleted  int
	ModelsDownloaded  int
	ModelsFailed      int
	Operations        []Operation
	Duration          time.Duration
}

func (r *Result) record(op Operation) {
	r.Operations = append(r.Operations, op)
	if op.Error != nil {
		logging.Error("%s %s: %v", op.Type, op.Target, op.Error)
	}
}

// Errors returns the failed operations.
func (r *Result) Errors() []Operation {
	var out []Operation
	for _, op := range r.Operations {
		if op.Error != nil {
			out = append(out, op)
		}
	}
	return out
}

// PythonSyncer is the broker surface the reconciler needs.
type PythonSyncer interface {
	Sync(ctx context.Context) error
}

// Reconciler drives the per-environment sync pipeline triggered by
// creation, pull, rollback, import, and explicit sync.
type Reconciler struct {
	Manifest    *manifest.Store
	Nodes       *nodes.Manager
	Python      PythonSyncer
	Mirror      *WorkflowMirror
	Symlink     *Symlink
	Downloader  sources.Downloader
	Scanner     *modelindex.Scanner
	ModelsDir   string
	CustomNodes string
}

// Run executes the pipeline in its fixed order. Step failures are collected;
// only the model symlink and a node step in which every mutation failed are
// fatal.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{}

	// 1. Model symlink.
	if err := r.Symlink.Create(); err != nil {
		return result, err
	}

	// 2. Node reconciliation.
	if err := r.reconcileNodes(ctx, result); err != nil {
		return result, err
	}

	// 3. Python environment sync.
	if r.Python != nil {
		if err := r.Python.Sync(ctx); err != nil {
			result.record(Operation{Type: OpError, Target: "python", Error: err})
		} else {
			result.PackagesSynced = true
		}
	}

	// 4. Workflow restoration.
	restored, deleted, err := r.Mirror.RestoreActive()
	if err != nil {
		result.record(Operation{Type: OpError, Target: "workflows", Error: err})
	}
	result.WorkflowsRestored = len(restored)
	result.WorkflowsDeleted = len(deleted)
	for _, name := range restored {
		result.record(Operation{Type: OpRestore, Target: name})
	}
	for _, name := range deleted {
		result.record(Operation{Type: OpDelete, Target: name})
	}

	// 5. Model acquisition (pull/import only).
	if opts.AcquireModels && opts.Strategy != DownloadSkip {
		r.acquireModels(ctx, opts.Strategy, result)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// reconcileNodes computes the manifest ⊖ filesystem difference and closes
// it. Per-node failures are non-fatal unless every mutation fails.
func (r *Reconciler) reconcileNodes(ctx context.Context, result *Result) error {
	declared := map[string]models.NodeEntry{}
	for _, entry := range r.Manifest.ListNodes() {
		declared[entry.Name] = entry
	}
	installed, err := r.Nodes.Installed()
	if err != nil {
		return cgerr.New(cgerr.KindFilesystem, "list custom_nodes", "", err)
	}
	installedSet := map[string]bool{}
	for _, name := range installed {
		installedSet[name] = true
	}

	attempts, failures := 0, 0

	// Additions: declared but missing on disk.
	for name, entry := range declared {
		if installedSet[name] {
			continue
		}
		attempts++
		if err := r.Nodes.EnsureInstalled(ctx, entry); err != nil {
			failures++
			result.record(Operation{Type: OpError, Target: entry.PackageID, Error: err})
			continue
		}
		result.NodesInstalled++
		result.record(Operation{Type: OpInstall, Target: entry.PackageID, Description: "installed " + name})
	}

	// Removals: on disk but not declared. Directories that are not git
	// clones with a remote may be user-authored, so they are disabled
	// rather than deleted.
	for _, name := range installed {
		if _, ok := declared[name]; ok {
			continue
		}
		attempts++
		dir := filepath.Join(r.CustomNodes, name)
		var err error
		if isGitClone(dir) {
			err = os.RemoveAll(dir)
		} else {
			err = os.Rename(dir, dir+nodes.DisabledSuffix)
		}
		if err != nil {
			failures++
			result.record(Operation{Type: OpError, Target: name, Error: err})
			continue
		}
		result.NodesRemoved++
		result.record(Operation{Type: OpRemove, Target: name})
	}

	// Version drift: declared and present, but the checkout is at another
	// commit.
	for name, entry := range declared {
		if !installedSet[name] || entry.Source == models.NodeSourceDevelopment || entry.Version == "" {
			continue
		}
		dir := filepath.Join(r.CustomNodes, name)
		head, ok := gitHead(dir)
		if !ok || matchesRef(head, entry.Version) {
			continue
		}
		attempts++
		if _, err := r.Nodes.Update(ctx, entry.PackageID, nodes.InstallOptions{Ref: entry.Version, NoTest: true}); err != nil {
			failures++
			result.record(Operation{Type: OpError, Target: entry.PackageID, Error: err})
			continue
		}
		result.NodesUpdated++
		result.record(Operation{Type: OpUpdate, Target: entry.PackageID, Description: "updated to " + entry.Version})
	}

	if attempts > 0 && failures == attempts {
		return cgerr.New(cgerr.KindFilesystem, "node reconciliation failed for every node",
			"check network connectivity and custom_nodes/ permissions", nil)
	}
	return nil
}

// acquireModels downloads unresolved models that carry source URLs,
// persisting each success. Failures keep their download intent.
func (r *Reconciler) acquireModels(ctx context.Context, strategy DownloadStrategy, result *Result) {
	for _, wf := range r.Manifest.ListWorkflows() {
		for _, wm := range wf.Models {
			if wm.Status != models.StatusUnresolved || len(wm.Sources) == 0 {
				continue
			}
			if strategy == DownloadRequired && wm.Criticality == models.ModelCategoryOptional {
				continue
			}

			category := wm.Category
			if category == "" {
				category = "checkpoints"
			}
			dest := filepath.Join(r.ModelsDir, category, wm.Filename)

			var lastErr error
			downloaded := false
			for _, url := range wm.Sources {
				if err := r.Downloader.Download(ctx, url, dest); err != nil {
					lastErr = err
					continue
				}
				downloaded = true
				break
			}
			if !downloaded {
				result.ModelsFailed++
				result.record(Operation{Type: OpError, Target: wm.Filename, Error: lastErr})
				continue
			}

			hash, size, err := modelindex.QuickHash(dest)
			if err != nil {
				result.ModelsFailed++
				result.record(Operation{Type: OpError, Target: wm.Filename, Error: err})
				continue
			}
			if wm.Hash != "" && wm.Hash != hash {
				logging.Warn("downloaded %s hashes to %s, expected %s", wm.Filename, hash[:12], wm.Hash[:12])
			}

			wm.Hash = hash
			wm.Status = models.StatusResolved
			r.Manifest.UpsertWorkflowModel(wf.Name, wm)
			r.Manifest.UpsertModel(wm.Criticality, models.ModelEntry{
				Hash:         hash,
				Filename:     wm.Filename,
				Size:         size,
				RelativePath: category + "/" + wm.Filename,
				Sources:      wm.Sources,
			})
			if err := r.Manifest.Save(); err != nil {
				result.record(Operation{Type: OpError, Target: wm.Filename, Error: err})
				continue
			}

			result.ModelsDownloaded++
			result.record(Operation{Type: OpDownload, Target: wm.Filename, Description: fmt.Sprintf("%d bytes", size)})
		}
	}

	if result.ModelsDownloaded > 0 && r.Scanner != nil {
		if _, err := r.Scanner.Sync(); err != nil {
			logging.Warn("model index sync after download failed: %v", err)
		}
	}
}

func isGitClone(dir string) bool {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false
	}
	remotes, err := repo.Remotes()
	return err == nil && len(remotes) > 0
}

func gitHead(dir string) (string, bool) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", false
	}
	return head.Hash().String(), true
}

// matchesRef compares a commit hash against a declared version, which may
// be a short SHA or a non-SHA ref (branch or tag, never drift-checked).
func matchesRef(head, version string) bool {
	if len(version) >= 7 && len(version) <= len(head) {
		for i := 0; i < len(version); i++ {
			c := version[i]
			isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
			if !isHex {
				return true // not a SHA pin; no drift check
			}
		}
		return head[:len(version)] == version
	}
	return true
}
