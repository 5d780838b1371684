package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const pythonEnv = "COMFY_PYTHON"

// ErrPythonNotFound is returned when no interpreter can be located.
var ErrPythonNotFound = errors.New("python interpreter not found")

// Python locates the interpreter used for a workspace: COMFY_PYTHON, then a
// virtual environment inside the workspace, then python3 or python on PATH.
func Python(workspace string) (string, error) {
	if override := strings.TrimSpace(os.Getenv(pythonEnv)); override != "" {
		return override, nil
	}

	if workspace != "" {
		for _, venv := range []string{"venv", ".venv"} {
			candidate := venvPython(filepath.Join(workspace, venv))
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: set %s or install python3", ErrPythonNotFound, pythonEnv)
}

func venvPython(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts", "python.exe")
	}
	return filepath.Join(dir, "bin", "python")
}
