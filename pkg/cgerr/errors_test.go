package cgerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindExitCodes(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindUser, 1},
		{KindResolution, 1},
		{KindManifest, 2},
		{KindFilesystem, 2},
		{KindExternal, 3},
		{KindGit, 3},
		{KindInternal, 4},
	}
	for _, tc := range cases {
		if got := tc.kind.ExitCode(); got != tc.want {
			t.Errorf("%v.ExitCode() = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindExternal, "download", "retry later", errors.New("timeout")))
	if got := KindOf(err); got != KindExternal {
		t.Errorf("KindOf = %v, want external", got)
	}
	if got := HintOf(err); got != "retry later" {
		t.Errorf("HintOf = %q", got)
	}
	if got := ExitCodeOf(err); got != 3 {
		t.Errorf("ExitCodeOf = %d, want 3", got)
	}
}

func TestExitCodeOfNil(t *testing.T) {
	if got := ExitCodeOf(nil); got != 0 {
		t.Errorf("ExitCodeOf(nil) = %d, want 0", got)
	}
}

func TestNodeConflictError(t *testing.T) {
	err := &NodeConflictError{Kind: SameRepo, PackageID: "comfyui-impact-pack", Dir: "custom_nodes/ImpactPack", Remote: "https://github.com/ltdrdata/ComfyUI-Impact-Pack.git"}

	if KindOf(err) != KindFilesystem {
		t.Errorf("conflict errors map to the filesystem kind")
	}
	if HintOf(err) == "" {
		t.Error("SameRepo should carry a remediation hint")
	}

	var conflict *NodeConflictError
	wrapped := fmt.Errorf("install failed: %w", err)
	if !errors.As(wrapped, &conflict) {
		t.Fatal("conflict should survive wrapping")
	}
	if conflict.Kind != SameRepo {
		t.Errorf("Kind = %v, want SameRepo", conflict.Kind)
	}
}
