// Package workspace decides which ComfyUI installation an invocation acts on.
//
// Resolution consults, in order, the explicit selectors, the current directory,
// the stored default, the most recently used workspace and finally a fixed
// fallback location. Only the selectors are validated before any I/O happens.
package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"comfycli/internal/paths"
)

// Source names the rule that produced a Resolution.
type Source string

const (
	SourceSpecified  Source = "specified"
	SourceRecent     Source = "recent"
	SourceHere       Source = "here"
	SourceCurrentDir Source = "current_dir"
	SourceDefault    Source = "default"
	SourceFallback   Source = "fallback"
)

// Requirement states what a command needs from the resolved workspace.
type Requirement string

const (
	// RequireNone accepts any resolved path, installed or not.
	RequireNone Requirement = "none"
	// RequireInstallable accepts a path that does not exist yet.
	RequireInstallable Requirement = "installable"
	// RequireExisting demands an installed application at the path.
	RequireExisting Requirement = "existing"
)

// ParseRequirement maps an annotation value to a Requirement, defaulting to
// RequireExisting for unknown or empty values.
func ParseRequirement(v string) Requirement {
	switch Requirement(strings.TrimSpace(v)) {
	case RequireNone:
		return RequireNone
	case RequireInstallable:
		return RequireInstallable
	default:
		return RequireExisting
	}
}

// Selectors are the mutually exclusive user choices from the command line.
type Selectors struct {
	Workspace string
	Recent    bool
	Here      bool
}

func (s Selectors) active() []string {
	var flags []string
	if strings.TrimSpace(s.Workspace) != "" {
		flags = append(flags, "--workspace")
	}
	if s.Recent {
		flags = append(flags, "--recent")
	}
	if s.Here {
		flags = append(flags, "--here")
	}
	return flags
}

// Validate rejects more than one active selector.
func (s Selectors) Validate() error {
	if flags := s.active(); len(flags) > 1 {
		return &ConflictingSelectorsError{Flags: flags}
	}
	return nil
}

// Store is the persisted state the resolver reads.
type Store interface {
	DefaultWorkspace() string
	RecencyStore
}

// RecencyStore holds the most recently used workspace.
type RecencyStore interface {
	RecentWorkspace() string
	RecordRecentWorkspace(path string) error
}

// Resolution is the outcome of resolving a workspace.
type Resolution struct {
	Path   string
	Source Source
	Exists bool
}

// Paths returns the standard layout of the resolved workspace.
func (r Resolution) Paths() paths.WorkspacePaths {
	return paths.ForWorkspace(r.Path)
}

// Require checks the resolution against what a command needs.
func (r Resolution) Require(req Requirement) error {
	if req != RequireExisting || r.Exists {
		return nil
	}
	return &WorkspaceNotFoundError{Path: r.Path, Source: r.Source}
}

// Resolver turns selectors and persisted state into a workspace path. The
// function fields default to the real environment and are replaced in tests.
type Resolver struct {
	Store       Store
	Getwd       func() (string, error)
	Fallback    func() (string, error)
	IsWorkspace func(path string) bool
}

// NewResolver returns a resolver backed by the process environment.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		Store:       store,
		Getwd:       os.Getwd,
		Fallback:    paths.FallbackWorkspace,
		IsWorkspace: IsWorkspace,
	}
}

// Resolve picks the workspace for sel. It never writes state.
func (r *Resolver) Resolve(sel Selectors) (Resolution, error) {
	if err := sel.Validate(); err != nil {
		return Resolution{}, err
	}

	switch {
	case strings.TrimSpace(sel.Workspace) != "":
		abs, err := paths.Absolute(sel.Workspace)
		if err != nil {
			return Resolution{}, err
		}
		return r.resolution(abs, SourceSpecified), nil

	case sel.Recent:
		recent := r.Store.RecentWorkspace()
		if recent == "" {
			return Resolution{}, &NoRecentWorkspaceError{}
		}
		return r.stored(recent, SourceRecent)

	case sel.Here:
		cwd, err := r.Getwd()
		if err != nil {
			return Resolution{}, err
		}
		if root, ok := r.enclosingRoot(cwd); ok {
			return Resolution{Path: root, Source: SourceHere, Exists: true}, nil
		}
		return r.resolution(filepath.Clean(cwd), SourceHere), nil
	}

	cwd, err := r.Getwd()
	if err != nil {
		return Resolution{}, err
	}
	if root, ok := r.enclosingRoot(cwd); ok {
		return Resolution{Path: root, Source: SourceCurrentDir, Exists: true}, nil
	}
	if def := r.Store.DefaultWorkspace(); def != "" {
		return r.stored(def, SourceDefault)
	}
	if recent := r.Store.RecentWorkspace(); recent != "" {
		return r.stored(recent, SourceRecent)
	}

	fallback, err := r.Fallback()
	if err != nil {
		return Resolution{}, err
	}
	return r.resolution(filepath.Clean(fallback), SourceFallback), nil
}

func (r *Resolver) stored(path string, src Source) (Resolution, error) {
	abs, err := paths.Absolute(path)
	if err != nil {
		return Resolution{}, err
	}
	return r.resolution(abs, src), nil
}

func (r *Resolver) resolution(path string, src Source) Resolution {
	return Resolution{Path: path, Source: src, Exists: r.IsWorkspace(path)}
}

// enclosingRoot walks from dir towards the filesystem root and returns the
// first directory carrying the application marker.
func (r *Resolver) enclosingRoot(dir string) (string, bool) {
	current := filepath.Clean(dir)
	for {
		if r.IsWorkspace(current) {
			return current, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// IsWorkspace reports whether path holds an installed application: its comfy
// package directory and main.py entry point.
func IsWorkspace(path string) bool {
	wp := paths.ForWorkspace(path)
	if ok, err := paths.DirExists(wp.PackageDir); err != nil || !ok {
		return false
	}
	ok, err := paths.FileExists(wp.MainScript)
	return err == nil && ok
}

// Record stores res as the most recent workspace. The write is skipped when
// the stored value already matches.
func Record(store RecencyStore, res Resolution) error {
	if store.RecentWorkspace() == res.Path {
		return nil
	}
	return store.RecordRecentWorkspace(res.Path)
}
