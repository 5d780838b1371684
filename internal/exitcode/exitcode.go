// Package exitcode lists the process exit codes used by the comfy CLI.
package exitcode

import "errors"

const (
	OK                   = 0
	Failure              = 1
	ConflictingSelectors = 2
	InvalidPath          = 3
	NoRecentWorkspace    = 4
	WorkspaceNotFound    = 5
	CorruptLockFile      = 6
	MalformedConfig      = 7
)

// Coder is implemented by errors that map to a specific exit code.
type Coder interface {
	ExitCode() int
}

// Remedier is implemented by errors that can suggest a next step to the user.
type Remedier interface {
	Remedy() string
}

// For returns the exit code carried by err, Failure for other errors and OK
// for nil.
func For(err error) int {
	if err == nil {
		return OK
	}
	var coder Coder
	if errors.As(err, &coder) && coder.ExitCode() > 0 {
		return coder.ExitCode()
	}
	return Failure
}
