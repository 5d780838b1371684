package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

type codedError struct{ code int }

func (e codedError) Error() string { return "coded" }
func (e codedError) ExitCode() int { return e.code }

func TestFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, OK},
		{"plain", errors.New("boom"), Failure},
		{"coded", codedError{code: WorkspaceNotFound}, WorkspaceNotFound},
		{"wrapped", fmt.Errorf("resolve: %w", codedError{code: CorruptLockFile}), CorruptLockFile},
		{"non-positive", codedError{code: -1}, Failure},
	}
	for _, tt := range tests {
		if got := For(tt.err); got != tt.want {
			t.Errorf("%s: For() = %d, want %d", tt.name, got, tt.want)
		}
	}
}
