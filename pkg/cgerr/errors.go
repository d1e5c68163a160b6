package cgerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code mapping and rendering.
type Kind int

const (
	KindUser Kind = iota
	KindManifest
	KindFilesystem
	KindExternal
	KindResolution
	KindGit
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindManifest:
		return "manifest"
	case KindFilesystem:
		return "filesystem"
	case KindExternal:
		return "external"
	case KindResolution:
		return "resolution"
	case KindGit:
		return "git"
	default:
		return "internal"
	}
}

// ExitCode maps an error kind to the CLI exit code contract.
func (k Kind) ExitCode() int {
	switch k {
	case KindUser, KindResolution:
		return 1
	case KindManifest, KindFilesystem:
		return 2
	case KindExternal, KindGit:
		return 3
	default:
		return 4
	}
}

// Error is the structured error value surfaced to the CLI layer.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "node install"
	Hint string // remediation hint rendered to the user
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a structured error with a remediation hint.
func New(kind Kind, op, hint string, err error) *Error {
	return &Error{Kind: kind, Op: op, Hint: hint, Err: err}
}

func Userf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUser, Op: fmt.Sprintf(format, args...)}
}

func Internalf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Op: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain; unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var c *NodeConflictError
	if errors.As(err, &c) {
		return KindFilesystem
	}
	return KindInternal
}

// HintOf returns the remediation hint attached to an error chain, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	var c *NodeConflictError
	if errors.As(err, &c) {
		return c.Hint()
	}
	return ""
}

// ExitCodeOf maps an error chain to the CLI exit code contract.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

// ConflictKind classifies what was found at a node install target.
type ConflictKind int

const (
	// DirectoryExists means a non-git directory occupies the target.
	DirectoryExists ConflictKind = iota
	// LocalRepo means a git working tree with no remote occupies the target.
	LocalRepo
	// SameRepo means a git working tree whose remote matches the install URL.
	SameRepo
	// DifferentRepo means a git working tree with an unrelated remote.
	DifferentRepo
)

func (c ConflictKind) String() string {
	switch c {
	case DirectoryExists:
		return "directory-exists"
	case LocalRepo:
		return "local-repo"
	case SameRepo:
		return "same-repo"
	default:
		return "different-repo"
	}
}

// NodeConflictError reports a collision between an install target and the
// existing contents of custom_nodes/.
type NodeConflictError struct {
	Kind      ConflictKind
	PackageID string
	Dir       string // path of the colliding directory
	Remote    string // remote URL of the existing repo, when one exists
}

func (e *NodeConflictError) Error() string {
	switch e.Kind {
	case DirectoryExists:
		return fmt.Sprintf("directory %s already exists and is not a git repository", e.Dir)
	case LocalRepo:
		return fmt.Sprintf("directory %s is a git repository with no remote", e.Dir)
	case SameRepo:
		return fmt.Sprintf("directory %s already tracks %s", e.Dir, e.Remote)
	default:
		return fmt.Sprintf("directory %s tracks a different repository (%s)", e.Dir, e.Remote)
	}
}

// Hint suggests a remediation for the conflict.
func (e *NodeConflictError) Hint() string {
	switch e.Kind {
	case SameRepo:
		return "re-run with --dev to adopt the existing checkout, or --force to replace it"
	case DirectoryExists, LocalRepo:
		return "re-run with --dev to track the directory as a development node, or --force to replace it"
	default:
		return "remove the directory or pick a different package id, then re-run"
	}
}
