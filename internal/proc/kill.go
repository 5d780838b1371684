package proc

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Kill when the process is already gone.
var ErrNotRunning = errors.New("process is not running")

// Kill terminates the process with the given pid together with the group it
// leads, if any.
func Kill(pid int) error {
	if !Alive(pid) {
		return ErrNotRunning
	}
	if err := killTree(pid); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}
