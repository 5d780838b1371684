package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// LockFileName is the per-workspace state file.
	LockFileName = "comfy.lock.yaml"
	// ConfigFileName is the user-level configuration file inside ConfigDir.
	ConfigFileName = "config.ini"
	// ManagerDirName is the directory the extension manager is cloned into.
	ManagerDirName = "ComfyUI-Manager"
	// DisabledSuffix marks a custom node directory or file as disabled.
	DisabledSuffix = ".disabled"

	configDirEnv = "COMFY_CLI_CONFIG_DIR"
)

// WorkspacePaths captures canonical locations inside a ComfyUI workspace.
type WorkspacePaths struct {
	Root           string
	PackageDir     string
	MainScript     string
	LockFile       string
	EnvFile        string
	CustomNodesDir string
	ManagerDir     string
	ModelsDir      string
	Requirements   string
}

// ForWorkspace derives the standard layout for the workspace rooted at root.
func ForWorkspace(root string) WorkspacePaths {
	customNodes := filepath.Join(root, "custom_nodes")
	return WorkspacePaths{
		Root:           root,
		PackageDir:     filepath.Join(root, "comfy"),
		MainScript:     filepath.Join(root, "main.py"),
		LockFile:       filepath.Join(root, LockFileName),
		EnvFile:        filepath.Join(root, ".env"),
		CustomNodesDir: customNodes,
		ManagerDir:     filepath.Join(customNodes, ManagerDirName),
		ModelsDir:      filepath.Join(root, "models"),
		Requirements:   filepath.Join(root, "requirements.txt"),
	}
}

// ModelDir resolves a model directory relative to the workspace root unless
// rel is already absolute.
func (p WorkspacePaths) ModelDir(rel string) string {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return filepath.Join(p.ModelsDir, "checkpoints")
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(p.Root, rel)
}

// Rel returns target relative to the workspace root using forward slashes, or
// target unchanged when it lies outside the workspace.
func (p WorkspacePaths) Rel(target string) string {
	rel, err := filepath.Rel(p.Root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return target
	}
	return filepath.ToSlash(rel)
}

// Contains reports whether target lies inside the workspace root.
func (p WorkspacePaths) Contains(target string) bool {
	rel, err := filepath.Rel(p.Root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ConfigDir returns the per-user comfy-cli configuration directory. The
// COMFY_CLI_CONFIG_DIR environment variable overrides the platform default.
func ConfigDir() (string, error) {
	if override, ok := os.LookupEnv(configDirEnv); ok && override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", configDirEnv, err)
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "comfy-cli"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "comfy-cli"), nil
		}
		return filepath.Join(home, "AppData", "Local", "comfy-cli"), nil
	default:
		return filepath.Join(home, ".config", "comfy-cli"), nil
	}
}

// ConfigFile returns the path of the global config.ini.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LogsDir returns the global logs directory, creating it if needed.
func LogsDir() (string, error) {
	return ensureConfigSubdir("logs")
}

// SessionDir returns the scratch directory used for launch sessions, creating
// it if needed.
func SessionDir() (string, error) {
	return ensureConfigSubdir("tmp")
}

func ensureConfigSubdir(name string) (string, error) {
	root, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", name, err)
	}
	return dir, nil
}

// FallbackWorkspace is the workspace used when nothing else selects one.
func FallbackWorkspace() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}
	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(home, "Documents", "comfy", "ComfyUI"), nil
	default:
		return filepath.Join(home, "comfy", "ComfyUI"), nil
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Absolute expands "~" and returns a cleaned absolute path.
func Absolute(p string) (string, error) {
	expanded, err := ExpandHome(strings.TrimSpace(p))
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}

// FileExists reports whether a path exists and is a regular file.
func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
