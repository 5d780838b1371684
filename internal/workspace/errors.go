package workspace

import (
	"fmt"
	"strings"

	"comfycli/internal/exitcode"
)

// ConflictingSelectorsError reports more than one workspace selector.
type ConflictingSelectorsError struct {
	Flags []string
}

func (e *ConflictingSelectorsError) Error() string {
	return fmt.Sprintf("conflicting workspace selectors: %s", strings.Join(e.Flags, ", "))
}

func (e *ConflictingSelectorsError) ExitCode() int { return exitcode.ConflictingSelectors }

func (e *ConflictingSelectorsError) Remedy() string {
	return "use only one of --workspace, --recent or --here"
}

// NoRecentWorkspaceError reports --recent with nothing recorded.
type NoRecentWorkspaceError struct{}

func (e *NoRecentWorkspaceError) Error() string { return "no recent workspace has been recorded" }

func (e *NoRecentWorkspaceError) ExitCode() int { return exitcode.NoRecentWorkspace }

func (e *NoRecentWorkspaceError) Remedy() string {
	return "specify --workspace or run a command inside a workspace first"
}

// WorkspaceNotFoundError reports a resolved path without an installed
// application.
type WorkspaceNotFoundError struct {
	Path   string
	Source Source
}

func (e *WorkspaceNotFoundError) Error() string {
	return fmt.Sprintf("no ComfyUI installation at %s (resolved from %s)", e.Path, e.Source)
}

func (e *WorkspaceNotFoundError) ExitCode() int { return exitcode.WorkspaceNotFound }

func (e *WorkspaceNotFoundError) Remedy() string {
	if e.Source == SourceFallback {
		return "run `comfy install` first or specify --workspace"
	}
	return fmt.Sprintf("run `comfy --workspace=%s install` first or specify another --workspace", e.Path)
}
