package pyenv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"comfygit/internal/logging"
	"comfygit/internal/manifest"
	"comfygit/pkg/cgerr"
)

// LockFileName is the lockfile uv maintains next to the manifest.
const LockFileName = "uv.lock"

// torchPackages are the distributions governed by the backend label.
var torchPackages = []string{"torch", "torchvision", "torchaudio"}

// Broker keeps an environment's virtualenv coherent with the manifest by
// delegating to the external uv tool. One concurrent invocation per
// environment is assumed.
type Broker struct {
	manifest *manifest.Store
	cecDir   string // working directory: holds pyproject.toml and uv.lock
	venvDir  string
	timeout  time.Duration
}

func NewBroker(store *manifest.Store, cecDir, venvDir string, timeout time.Duration) *Broker {
	return &Broker{manifest: store, cecDir: cecDir, venvDir: venvDir, timeout: timeout}
}

// run executes uv with the broker's working directory and venv binding.
func (b *Broker) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "uv", args...)
	cmd.Dir = b.cecDir
	cmd.Env = append(os.Environ(), "UV_PROJECT_ENVIRONMENT="+b.venvDir)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	logging.Debug("uv %s", strings.Join(args, " "))
	err := cmd.Run()
	output := buf.String()
	if ctx.Err() == context.DeadlineExceeded {
		return output, cgerr.New(cgerr.KindExternal, "uv "+args[0], "the operation timed out; retry or raise the timeout", ctx.Err())
	}
	return output, err
}

// Ensure creates the virtualenv at the declared Python version when it does
// not exist yet.
func (b *Broker) Ensure(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(b.venvDir, "pyvenv.cfg")); err == nil {
		return nil
	}
	args := []string{"venv", b.venvDir}
	if v := b.manifest.EnvironmentConfig().PythonVersion; v != "" {
		args = append(args, "--python", v)
	}
	if out, err := b.run(ctx, args...); err != nil {
		return cgerr.New(cgerr.KindExternal, "create virtualenv", strings.TrimSpace(out), err)
	}
	return nil
}

// Sync installs or updates the venv to match the manifest and lockfile.
// Every node group is an extra, so all extras are synced.
func (b *Broker) Sync(ctx context.Context) error {
	if err := b.Ensure(ctx); err != nil {
		return err
	}
	out, err := b.run(ctx, "sync", "--all-extras")
	if err != nil {
		if conflict := ParseResolutionConflict(out); conflict.Subject != "" {
			return cgerr.New(cgerr.KindResolution, "python environment sync", "adjust constraints or remove the conflicting node", conflict)
		}
		return cgerr.New(cgerr.KindExternal, "python environment sync", strings.TrimSpace(out), err)
	}
	return nil
}

// TestResolution dry-runs the resolver against the current manifest without
// mutating the venv. Failures come back as a structured conflict.
func (b *Broker) TestResolution(ctx context.Context) error {
	out, err := b.run(ctx, "lock", "--dry-run")
	if err != nil {
		conflict := ParseResolutionConflict(out)
		return cgerr.New(cgerr.KindResolution, "dependency resolution test",
			"use --no-test to install anyway, or add a constraint", conflict)
	}
	return nil
}

// Add records a requirement in the manifest (optionally in a group) and
// re-syncs.
func (b *Broker) Add(ctx context.Context, spec, group string) error {
	b.manifest.AddDependency(spec, group)
	if err := b.manifest.Save(); err != nil {
		return err
	}
	return b.Sync(ctx)
}

// Remove drops a requirement by name and re-syncs.
func (b *Broker) Remove(ctx context.Context, name, group string) error {
	b.manifest.RemoveDependency(name, group)
	if err := b.manifest.Save(); err != nil {
		return err
	}
	return b.Sync(ctx)
}

// RemoveGroup drops an entire optional group and re-syncs.
func (b *Broker) RemoveGroup(ctx context.Context, group string) error {
	b.manifest.RemoveGroup(group)
	if err := b.manifest.Save(); err != nil {
		return err
	}
	return b.Sync(ctx)
}

// ConstraintAdd records a global version constraint. Nothing is installed;
// the constraint binds future resolutions.
func (b *Broker) ConstraintAdd(spec string) error {
	b.manifest.AddConstraint(spec)
	return b.manifest.Save()
}

// ConstraintRemove drops a constraint. The constrained package stays
// installed; a later sync may choose a newer version.
func (b *Broker) ConstraintRemove(name string) error {
	b.manifest.RemoveConstraint(name)
	return b.manifest.Save()
}

func (b *Broker) ConstraintList() []string {
	return b.manifest.ListConstraints()
}

// List returns the requirement specs declared in the manifest, either the
// main group only or everything.
func (b *Broker) List(mainOnly bool) map[string][]string {
	if mainOnly {
		return map[string][]string{"": b.manifest.MainDependencies()}
	}
	return b.manifest.AllDependencies()
}

var pipShowVersionRe = regexp.MustCompile(`(?m)^Version:\s*(\S+)`)

// SetTorchBackend strips any previously pinned torch distributions, installs
// the target backend's wheel, and writes the concrete installed version and
// index URL back into the manifest. Import performs this on cross-platform
// transfer.
func (b *Broker) SetTorchBackend(ctx context.Context, label string) error {
	if err := b.Ensure(ctx); err != nil {
		return err
	}

	for _, pkg := range torchPackages {
		b.manifest.RemoveDependency(pkg, "")
		b.manifest.RemoveConstraint(pkg)
	}

	indexURL := TorchIndexURL(label)
	args := []string{"pip", "install", "--python", b.venvDir, "torch", "torchvision", "torchaudio"}
	if indexURL != "" {
		args = append(args, "--index-url", indexURL)
	}
	if out, err := b.run(ctx, args...); err != nil {
		return cgerr.New(cgerr.KindExternal, "install torch backend "+label, strings.TrimSpace(out), err)
	}

	out, err := b.run(ctx, "pip", "show", "--python", b.venvDir, "torch")
	if err != nil {
		return cgerr.New(cgerr.KindExternal, "read installed torch version", strings.TrimSpace(out), err)
	}
	installed := ""
	if m := pipShowVersionRe.FindStringSubmatch(out); m != nil {
		installed = m[1]
	}
	if installed == "" {
		return cgerr.Internalf("torch installed but its version could not be read back")
	}

	cfg := b.manifest.EnvironmentConfig()
	cfg.TorchBackend = label
	cfg.TorchVersion = installed
	cfg.TorchIndexURL = indexURL
	b.manifest.SetEnvironmentConfig(cfg)
	b.manifest.AddDependency(fmt.Sprintf("torch==%s", installed), "")
	return b.manifest.Save()
}

// TorchIndexURL maps a backend label to the wheel index serving it. An
// empty label returns an empty string, meaning "no index override".
func TorchIndexURL(label string) string {
	if label == "" {
		return ""
	}
	return "https://download.pytorch.org/whl/" + label
}

// LockfilePath returns the uv lockfile location for this environment.
func (b *Broker) LockfilePath() string {
	return filepath.Join(b.cecDir, LockFileName)
}
