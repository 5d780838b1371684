// Package launcher runs ComfyUI from a workspace, either attached to the
// terminal or detached in the background.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/mattn/go-shellwords"

	"comfycli/internal/paths"
	"comfycli/internal/proc"
)

const (
	// SessionEnv tells the manager extension where to leave its reboot
	// marker.
	SessionEnv = "__COMFY_CLI_SESSION__"
	// BackgroundEnv is set on the detached child process.
	BackgroundEnv = "COMFY_CLI_BACKGROUND"

	rebootSuffix = ".reboot"
)

// ExitError carries the exit status of the application process.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ComfyUI exited with status %d", e.Code)
}

func (e *ExitError) ExitCode() int { return e.Code }

// Spec describes one run of the application process.
type Spec struct {
	Python string
	Dir    string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// Launcher starts the application.
type Launcher struct {
	Logger hclog.Logger
	// SessionDir holds reboot markers and background logs.
	SessionDir string
	// Python overrides interpreter discovery.
	Python string
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	run func(ctx context.Context, spec Spec) error
}

// New returns a launcher writing to the process's standard streams.
func New(logger hclog.Logger, sessionDir string) *Launcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Launcher{
		Logger:     logger.Named("launcher"),
		SessionDir: sessionDir,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Stdin:      os.Stdin,
		run:        runProcess,
	}
}

// SplitExtras splits a stored launch-extras string into arguments using
// shell quoting rules.
func SplitExtras(extras string) ([]string, error) {
	extras = strings.TrimSpace(extras)
	if extras == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(extras)
	if err != nil {
		return nil, fmt.Errorf("parse launch extras %q: %w", extras, err)
	}
	return args, nil
}

// Environment returns the process environment for a workspace: the current
// environment overlaid with the workspace .env file, if present.
func Environment(wp paths.WorkspacePaths) ([]string, error) {
	env := os.Environ()
	ok, err := paths.FileExists(wp.EnvFile)
	if err != nil || !ok {
		return env, err
	}
	values, err := godotenv.Read(wp.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", wp.EnvFile, err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+values[k])
	}
	return env, nil
}

func (l *Launcher) python(root string) (string, error) {
	if l.Python != "" {
		return l.Python, nil
	}
	return proc.Python(root)
}

func (l *Launcher) newSession() (string, error) {
	if err := os.MkdirAll(l.SessionDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare session dir: %w", err)
	}
	return filepath.Join(l.SessionDir, uuid.NewString()), nil
}

// Run starts main.py in the foreground and blocks until it exits. While the
// application leaves a reboot marker behind, it is started again.
func (l *Launcher) Run(ctx context.Context, wp paths.WorkspacePaths, extras []string) error {
	python, err := l.python(wp.Root)
	if err != nil {
		return err
	}
	env, err := Environment(wp)
	if err != nil {
		return err
	}
	session, err := l.newSession()
	if err != nil {
		return err
	}
	marker := session + rebootSuffix
	env = append(env, SessionEnv+"="+session, "PYTHONIOENCODING=utf-8")

	spec := Spec{
		Python: python,
		Dir:    wp.Root,
		Args:   append([]string{wp.MainScript}, extras...),
		Env:    env,
		Stdout: l.Stdout,
		Stderr: l.Stderr,
		Stdin:  l.Stdin,
	}

	for {
		l.Logger.Debug("starting application", "python", python, "args", spec.Args)
		runErr := l.run(ctx, spec)

		if _, err := os.Stat(marker); err != nil {
			return runErr
		}
		if err := os.Remove(marker); err != nil {
			return fmt.Errorf("clear reboot marker: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Logger.Info("application requested a restart")
	}
}

func runProcess(ctx context.Context, spec Spec) error {
	cmd := exec.CommandContext(ctx, spec.Python, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.Stdin = spec.Stdin

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return err
}
