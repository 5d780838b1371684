// Package config persists the user-level comfy-cli settings: the default and
// most recent workspace, launch extras, telemetry consent and the background
// process record. The file is INI with a single [DEFAULT] section so it stays
// readable by hand and compatible with earlier releases of the tool.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/google/uuid"

	"comfycli/internal/exitcode"
)

const (
	KeyDefaultWorkspace      = "default_workspace"
	KeyDefaultLaunchExtras   = "default_launch_extras"
	KeyRecentWorkspace       = "recent_workspace"
	KeyEnableTracking        = "enable_tracking"
	KeyUserID                = "user_id"
	KeyInstallEventTriggered = "install_event_triggered"
	KeyBackground            = "background"
	KeyCivitaiAPIToken       = "civitai_api_token"
	KeyHFAPIToken            = "hf_api_token"
)

func init() {
	// Match the layout of files written by earlier releases: an explicit
	// [DEFAULT] header and "key = value" lines.
	ini.DefaultHeader = true
	ini.PrettyFormat = false
	ini.PrettyEqual = true
}

// Store is the in-memory view of config.ini. Setters rewrite the whole file.
type Store struct {
	path   string
	file   *ini.File
	exists bool
}

// Background describes a launch detached from the terminal.
type Background struct {
	Host string
	Port int
	PID  int
}

// URL returns the address the background server listens on.
func (b Background) URL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.Port)
}

func (b Background) encode() string {
	return fmt.Sprintf("%s,%d,%d", b.Host, b.Port, b.PID)
}

func decodeBackground(value string) (Background, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return Background{}, fmt.Errorf("want host,port,pid; got %q", value)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Background{}, fmt.Errorf("port: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Background{}, fmt.Errorf("pid: %w", err)
	}
	return Background{Host: strings.TrimSpace(parts[0]), Port: port, PID: pid}, nil
}

// MalformedConfigError reports a config file that exists but cannot be parsed.
type MalformedConfigError struct {
	Path string
	Err  error
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("malformed config %s: %v", e.Path, e.Err)
}

func (e *MalformedConfigError) Unwrap() error { return e.Err }

func (e *MalformedConfigError) ExitCode() int { return exitcode.MalformedConfig }

func (e *MalformedConfigError) Remedy() string {
	return "fix or remove the file with `comfy config edit`"
}

// InvalidPathError reports a workspace path that cannot be used as a default.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid workspace path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) ExitCode() int { return exitcode.InvalidPath }

// Load reads the config file at path. A missing file yields an empty store
// whose Exists reports false; a present but unparsable file is an error.
func Load(path string) (*Store, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Store{path: path, file: ini.Empty()}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	file, err := ini.Load(contents)
	if err != nil {
		return nil, &MalformedConfigError{Path: path, Err: err}
	}
	s := &Store{path: path, file: file, exists: true}
	if err := s.validate(); err != nil {
		return nil, &MalformedConfigError{Path: path, Err: err}
	}
	return s, nil
}

func (s *Store) validate() error {
	if v := s.get(KeyEnableTracking); v != "" {
		if _, err := parseBool(v); err != nil {
			return fmt.Errorf("%s: %w", KeyEnableTracking, err)
		}
	}
	if v := s.get(KeyBackground); v != "" {
		if _, err := decodeBackground(v); err != nil {
			return fmt.Errorf("%s: %w", KeyBackground, err)
		}
	}
	return nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// Exists reports whether the file was present when loaded or has since been
// written.
func (s *Store) Exists() bool { return s.exists }

// Marshal returns the INI encoding of the current settings.
func (s *Store) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save rewrites the whole file via a temporary file and rename. Concurrent
// invocations racing on Save lose one of the updates.
func (s *Store) Save() error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.ini")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	s.exists = true
	return nil
}

func (s *Store) section() *ini.Section {
	return s.file.Section(ini.DefaultSection)
}

func (s *Store) get(key string) string {
	sec := s.section()
	if !sec.HasKey(key) {
		return ""
	}
	return strings.TrimSpace(sec.Key(key).String())
}

func (s *Store) set(key, value string) {
	s.section().Key(key).SetValue(value)
}

func (s *Store) unset(key string) {
	s.section().DeleteKey(key)
}

// Get returns the raw value for key, or "" when unset.
func (s *Store) Get(key string) string { return s.get(key) }

// Set stores value under key and saves the file.
func (s *Store) Set(key, value string) error {
	s.set(key, value)
	return s.Save()
}

// DefaultWorkspace returns the user-set default workspace or "".
func (s *Store) DefaultWorkspace() string { return s.get(KeyDefaultWorkspace) }

// DefaultLaunchExtras returns the extra launch arguments stored alongside the
// default workspace.
func (s *Store) DefaultLaunchExtras() string { return s.get(KeyDefaultLaunchExtras) }

// SetDefaultWorkspace validates path and stores it with launchExtras as the
// default workspace. The path must be absolute and either an existing
// directory or creatable beneath its nearest existing ancestor.
func (s *Store) SetDefaultWorkspace(path, launchExtras string) error {
	if err := ValidateWorkspacePath(path); err != nil {
		return err
	}
	s.set(KeyDefaultWorkspace, filepath.Clean(path))
	s.set(KeyDefaultLaunchExtras, strings.TrimSpace(launchExtras))
	return s.Save()
}

// ValidateWorkspacePath checks that path could hold a workspace.
func ValidateWorkspacePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return &InvalidPathError{Path: path, Reason: "path is empty"}
	}
	if !filepath.IsAbs(path) {
		return &InvalidPathError{Path: path, Reason: "path must be absolute"}
	}

	current := filepath.Clean(path)
	for {
		info, err := os.Stat(current)
		switch {
		case err == nil:
			if !info.IsDir() {
				if current == filepath.Clean(path) {
					return &InvalidPathError{Path: path, Reason: "not a directory"}
				}
				return &InvalidPathError{Path: path, Reason: fmt.Sprintf("%s is not a directory", current)}
			}
			return nil
		case errors.Is(err, os.ErrNotExist):
			parent := filepath.Dir(current)
			if parent == current {
				return &InvalidPathError{Path: path, Reason: "no existing ancestor directory"}
			}
			current = parent
		default:
			return &InvalidPathError{Path: path, Reason: err.Error()}
		}
	}
}

// RecentWorkspace returns the most recently resolved workspace or "".
func (s *Store) RecentWorkspace() string { return s.get(KeyRecentWorkspace) }

// RecordRecentWorkspace overwrites the most recent workspace and saves.
func (s *Store) RecordRecentWorkspace(path string) error {
	s.set(KeyRecentWorkspace, path)
	return s.Save()
}

// Tracking reports the telemetry flag and whether the user has decided yet.
func (s *Store) Tracking() (enabled bool, decided bool) {
	v := s.get(KeyEnableTracking)
	if v == "" {
		return false, false
	}
	enabled, err := parseBool(v)
	if err != nil {
		return false, false
	}
	return enabled, true
}

// SetTracking records the telemetry decision, assigning a user id the first
// time tracking is enabled.
func (s *Store) SetTracking(enabled bool) error {
	s.set(KeyEnableTracking, formatBool(enabled))
	if enabled && s.get(KeyUserID) == "" {
		s.set(KeyUserID, uuid.NewString())
	}
	return s.Save()
}

// NeedsFirstRun reports whether the first-run flow has not completed yet.
func (s *Store) NeedsFirstRun() bool {
	_, decided := s.Tracking()
	return !s.exists || !decided
}

// CompleteFirstRun records the consent answer, marks the install event as
// triggered and writes the file in a single save.
func (s *Store) CompleteFirstRun(enableTracking bool) error {
	s.set(KeyEnableTracking, formatBool(enableTracking))
	if enableTracking && s.get(KeyUserID) == "" {
		s.set(KeyUserID, uuid.NewString())
	}
	if s.get(KeyInstallEventTriggered) == "" {
		s.set(KeyInstallEventTriggered, formatBool(true))
	}
	return s.Save()
}

// UserID returns the anonymous telemetry identifier or "".
func (s *Store) UserID() string { return s.get(KeyUserID) }

// Background returns the recorded background launch, if any.
func (s *Store) Background() (Background, bool) {
	v := s.get(KeyBackground)
	if v == "" {
		return Background{}, false
	}
	bg, err := decodeBackground(v)
	if err != nil {
		return Background{}, false
	}
	return bg, true
}

// SetBackground records a background launch.
func (s *Store) SetBackground(bg Background) error {
	s.set(KeyBackground, bg.encode())
	return s.Save()
}

// ClearBackground removes the background launch record.
func (s *Store) ClearBackground() error {
	s.unset(KeyBackground)
	return s.Save()
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
