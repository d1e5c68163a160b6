package nodes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	cp "github.com/otiai10/copy"

	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/internal/sources"
	"comfygit/pkg/cgerr"
	"comfygit/pkg/models"
)

// DisabledSuffix marks a development node that was removed without deleting
// its source.
const DisabledSuffix = ".disabled"

// DependencyTester lets the manager dry-run the Python resolver after an
// install without importing the broker package.
type DependencyTester interface {
	TestResolution(ctx context.Context) error
}

// Manager makes custom_nodes/ match the manifest's declared nodes.
type Manager struct {
	manifest       *manifest.Store
	registry       sources.Registry
	cache          *ArchiveCache
	customNodesDir string
	devNodesDir    string // .cec/dev_nodes holding area; empty disables mirroring
	tester         DependencyTester // nil disables the post-install test
}

func NewManager(store *manifest.Store, registry sources.Registry, cache *ArchiveCache, customNodesDir, devNodesDir string, tester DependencyTester) *Manager {
	return &Manager{
		manifest:       store,
		registry:       registry,
		cache:          cache,
		customNodesDir: customNodesDir,
		devNodesDir:    devNodesDir,
		tester:         tester,
	}
}

// InstallOptions mirror the CLI flags that alter install behavior.
type InstallOptions struct {
	Dev    bool
	Force  bool
	NoTest bool
	Ref    string
}

// InstallResult reports what one install did.
type InstallResult struct {
	PackageID    string
	Name         string
	Source       models.NodeSource
	Version      string
	Requirements []string
}

// resolvedTarget is the identifier-resolution output.
type resolvedTarget struct {
	packageID string
	name      string // directory name under custom_nodes/
	repoURL   string
	ref       string
	source    models.NodeSource
	archive   string // registry archive URL, when available
}

func (m *Manager) resolveIdentifier(ctx context.Context, identifier string, opts InstallOptions) (*resolvedTarget, error) {
	base, refFromID := SplitRef(identifier)
	ref := firstNonEmpty(opts.Ref, refFromID)

	if IsGitURL(base) {
		id := PackageIDFromURL(base)
		name := repoNameFromURL(base)
		source := models.NodeSourceGit
		if opts.Dev {
			source = models.NodeSourceDevelopment
		}
		return &resolvedTarget{packageID: id, name: name, repoURL: base, ref: ref, source: source}, nil
	}

	if opts.Dev {
		// Local directory name; never touched by acquisition.
		return &resolvedTarget{
			packageID: strings.ToLower(base),
			name:      base,
			source:    models.NodeSourceDevelopment,
		}, nil
	}

	pkg, err := m.registry.GetPackage(ctx, strings.ToLower(base))
	if err != nil {
		return nil, err
	}
	return &resolvedTarget{
		packageID: pkg.ID,
		name:      firstNonEmpty(pkg.Name, pkg.ID),
		repoURL:   pkg.Repository,
		ref:       firstNonEmpty(ref, pkg.LatestVersion),
		source:    models.NodeSourceRegistry,
		archive:   pkg.DownloadURL,
	}, nil
}

// Install runs the full pipeline: resolve, detect conflicts, acquire from
// cache or upstream, scan requirements, update the manifest, and test the
// Python resolution. Filesystem and manifest mutations are paired: if the
// manifest cannot be saved the filesystem change is reverted.
func (m *Manager) Install(ctx context.Context, identifier string, opts InstallOptions) (*InstallResult, error) {
	target, err := m.resolveIdentifier(ctx, identifier, opts)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(m.customNodesDir, target.name)
	disabled := dir + DisabledSuffix

	if target.source == models.NodeSourceDevelopment {
		return m.installDevelopment(target, dir, disabled)
	}

	// A re-enabled install wins over a lingering .disabled sibling.
	if _, err := os.Stat(disabled); err == nil {
		if err := os.RemoveAll(disabled); err != nil {
			return nil, cgerr.New(cgerr.KindFilesystem, "remove "+disabled, "", err)
		}
	}

	if conflict := DetectConflict(dir, target.packageID, target.repoURL); conflict != nil {
		if !opts.Force {
			return nil, conflict
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, cgerr.New(cgerr.KindFilesystem, "remove "+dir, "", err)
		}
	}

	if !m.cache.Has(target.packageID, target.ref) {
		if target.archive != "" {
			err = m.cache.PopulateFromArchive(ctx, target.packageID, target.ref, target.archive)
		} else {
			err = m.cache.PopulateFromGit(ctx, target.packageID, target.ref, target.repoURL)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := m.cache.CopyTo(target.packageID, target.ref, dir); err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "copy into "+dir, "", err)
	}

	result, err := m.recordInstall(target, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if err := m.runResolutionTest(ctx, opts); err != nil {
		m.manifest.RemoveNode(target.packageID)
		if saveErr := m.manifest.Save(); saveErr != nil {
			logging.Error("manifest revert failed: %v", saveErr)
		}
		os.RemoveAll(dir)
		return nil, err
	}
	return result, nil
}

// installDevelopment adopts a user-authored directory. Acquisition never
// touches development sources; a .disabled sibling is re-enabled in place.
func (m *Manager) installDevelopment(target *resolvedTarget, dir, disabled string) (*InstallResult, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if _, derr := os.Stat(disabled); derr == nil {
			if err := os.Rename(disabled, dir); err != nil {
				return nil, cgerr.New(cgerr.KindFilesystem, "re-enable "+disabled, "", err)
			}
		} else {
			return nil, cgerr.New(cgerr.KindUser, fmt.Sprintf("development node directory %s does not exist", dir),
				"create the directory under custom_nodes/ first", nil)
		}
	}

	// The holding area keeps the source exportable; an existing copy is
	// never overwritten, so remove/re-add leaves it untouched.
	if m.devNodesDir != "" {
		held := filepath.Join(m.devNodesDir, target.name)
		if _, err := os.Stat(held); os.IsNotExist(err) {
			if err := cp.Copy(dir, held, cp.Options{
				Skip: func(info os.FileInfo, src, dest string) (bool, error) {
					base := filepath.Base(src)
					return base == "__pycache__" || strings.HasSuffix(base, ".pyc"), nil
				},
			}); err != nil {
				return nil, cgerr.New(cgerr.KindFilesystem, "mirror development node source", "", err)
			}
		}
	}

	result, err := m.recordInstall(target, dir)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) recordInstall(target *resolvedTarget, dir string) (*InstallResult, error) {
	specs, err := ScanRequirements(dir)
	if err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "scan requirements.txt", "", err)
	}
	if len(specs) > 0 {
		m.manifest.AddFromRequirements(manifest.NodeGroup(target.packageID), specs)
	}

	entry := models.NodeEntry{
		PackageID: target.packageID,
		Name:      target.name,
		Version:   target.ref,
		Source:    target.source,
	}
	if target.source != models.NodeSourceDevelopment {
		entry.Repository = target.repoURL
	}
	m.manifest.AddNode(entry)

	if err := m.manifest.Save(); err != nil {
		return nil, err
	}

	return &InstallResult{
		PackageID:    target.packageID,
		Name:         target.name,
		Source:       target.source,
		Version:      target.ref,
		Requirements: specs,
	}, nil
}

func (m *Manager) runResolutionTest(ctx context.Context, opts InstallOptions) error {
	if opts.NoTest || m.tester == nil {
		return nil
	}
	return m.tester.TestResolution(ctx)
}

// EnsureInstalled materializes a declared node onto disk without touching
// the manifest. The reconciler uses it to close the manifest → filesystem
// gap; .disabled development nodes are re-enabled in place.
func (m *Manager) EnsureInstalled(ctx context.Context, entry models.NodeEntry) error {
	dir := filepath.Join(m.customNodesDir, entry.Name)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	disabled := dir + DisabledSuffix
	if _, err := os.Stat(disabled); err == nil {
		return os.Rename(disabled, dir)
	}

	if entry.Source == models.NodeSourceDevelopment {
		if m.devNodesDir != "" {
			held := filepath.Join(m.devNodesDir, entry.Name)
			if _, err := os.Stat(held); err == nil {
				return os.Symlink(held, dir)
			}
		}
		return cgerr.New(cgerr.KindFilesystem, fmt.Sprintf("development node %s has no source on disk", entry.PackageID),
			"restore the directory under custom_nodes/ or import its dev_nodes source", nil)
	}

	if !m.cache.Has(entry.PackageID, entry.Version) {
		if err := m.cache.PopulateFromGit(ctx, entry.PackageID, entry.Version, entry.Repository); err != nil {
			return err
		}
	}
	return m.cache.CopyTo(entry.PackageID, entry.Version, dir)
}

// Remove deletes a node per its source kind. Registry and git checkouts are
// deleted outright; development sources are renamed aside. The manifest
// cascade (node entry, dependency group, custom_node_map references) runs
// in both cases.
func (m *Manager) Remove(packageID string) error {
	entry, ok := m.manifest.GetNode(packageID)
	if !ok {
		return cgerr.Userf("node %q is not declared in the manifest", packageID)
	}

	dir := filepath.Join(m.customNodesDir, entry.Name)

	if entry.Source == models.NodeSourceDevelopment {
		disabled := dir + DisabledSuffix
		if _, err := os.Stat(dir); err == nil {
			if err := os.Rename(dir, disabled); err != nil {
				return cgerr.New(cgerr.KindFilesystem, "disable "+dir, "", err)
			}
		}
		m.manifest.RemoveNode(packageID)
		if err := m.manifest.Save(); err != nil {
			// Pair the mutations: restore the rename on manifest failure.
			if rerr := os.Rename(disabled, dir); rerr != nil {
				logging.Error("failed to restore %s: %v", dir, rerr)
			}
			return err
		}
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "remove "+dir, "", err)
	}
	m.manifest.RemoveNode(packageID)
	return m.manifest.Save()
}

// Update brings one installed node to a newer ref. Development nodes get a
// requirements re-scan only.
func (m *Manager) Update(ctx context.Context, packageID string, opts InstallOptions) (*InstallResult, error) {
	entry, ok := m.manifest.GetNode(packageID)
	if !ok {
		return nil, cgerr.Userf("node %q is not declared in the manifest", packageID)
	}
	dir := filepath.Join(m.customNodesDir, entry.Name)

	if entry.Source == models.NodeSourceDevelopment {
		specs, err := ScanRequirements(dir)
		if err != nil {
			return nil, cgerr.New(cgerr.KindFilesystem, "scan requirements.txt", "", err)
		}
		m.manifest.AddFromRequirements(manifest.NodeGroup(packageID), specs)
		if err := m.manifest.Save(); err != nil {
			return nil, err
		}
		return &InstallResult{PackageID: packageID, Name: entry.Name, Source: entry.Source, Requirements: specs}, nil
	}

	newRef := firstNonEmpty(opts.Ref, entry.Version)
	if repo, err := git.PlainOpen(dir); err == nil {
		wt, err := repo.Worktree()
		if err == nil {
			err = wt.PullContext(ctx, &git.PullOptions{})
			if err != nil && err != git.NoErrAlreadyUpToDate {
				return nil, cgerr.New(cgerr.KindExternal, "pull "+entry.Name, "the checkout may have local changes", err)
			}
		}
		if head, err := repo.Head(); err == nil {
			newRef = head.Hash().String()
		}
	} else {
		// Archive-installed node: re-fetch at the requested ref.
		if err := m.cache.Remove(packageID, newRef); err != nil {
			return nil, err
		}
		if err := m.cache.PopulateFromGit(ctx, packageID, newRef, entry.Repository); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, cgerr.New(cgerr.KindFilesystem, "remove "+dir, "", err)
		}
		if err := m.cache.CopyTo(packageID, newRef, dir); err != nil {
			return nil, err
		}
	}

	specs, err := ScanRequirements(dir)
	if err != nil {
		return nil, cgerr.New(cgerr.KindFilesystem, "scan requirements.txt", "", err)
	}
	m.manifest.AddFromRequirements(manifest.NodeGroup(packageID), specs)

	entry.Version = newRef
	m.manifest.AddNode(entry)
	if err := m.manifest.Save(); err != nil {
		return nil, err
	}

	if err := m.runResolutionTest(ctx, opts); err != nil {
		return nil, err
	}

	return &InstallResult{PackageID: packageID, Name: entry.Name, Source: entry.Source, Version: newRef, Requirements: specs}, nil
}

// Prune removes installed nodes that no tracked workflow references, either
// through its nodes list or a custom_node_map entry. Exclusions are kept.
func (m *Manager) Prune(exclusions []string) ([]string, error) {
	referenced := map[string]bool{}
	for _, wf := range m.manifest.ListWorkflows() {
		for _, id := range wf.Nodes {
			referenced[id] = true
		}
		for _, target := range wf.CustomNodeMap {
			if id, ok := target.(string); ok {
				referenced[id] = true
			}
		}
	}
	excluded := map[string]bool{}
	for _, id := range exclusions {
		excluded[strings.ToLower(id)] = true
	}

	var removed []string
	for _, entry := range m.manifest.ListNodes() {
		if referenced[entry.PackageID] || excluded[entry.PackageID] {
			continue
		}
		if err := m.Remove(entry.PackageID); err != nil {
			return removed, err
		}
		removed = append(removed, entry.PackageID)
	}
	sort.Strings(removed)
	return removed, nil
}

// Installed lists the directories under custom_nodes/, ignoring .disabled
// siblings and hidden entries.
func (m *Manager) Installed() ([]string, error) {
	entries, err := os.ReadDir(m.customNodesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), DisabledSuffix) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func repoNameFromURL(url string) string {
	s := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
