// Package lockfile reads and writes comfy.lock.yaml, the per-workspace record
// of the application commit, installed custom nodes and downloaded models.
package lockfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"comfycli/internal/exitcode"
	"comfycli/internal/paths"
)

const header = "# This file is generated by comfy to track the state of this workspace.\n"

// Lock is the decoded lock file.
type Lock struct {
	Basics      Basics      `yaml:"basics"`
	CustomNodes CustomNodes `yaml:"custom_nodes"`
	Models      []Model     `yaml:"models"`
}

// Basics pins the application checkout.
type Basics struct {
	Remote string `yaml:"remote,omitempty"`
	Commit string `yaml:"commit,omitempty"`
}

// CustomNodes groups extensions by how they were installed.
type CustomNodes struct {
	Git  map[string]GitNode  `yaml:"git_custom_nodes"`
	File map[string]FileNode `yaml:"file_custom_nodes"`
}

// GitNode is an extension cloned from a remote repository.
type GitNode struct {
	Hash     string `yaml:"hash"`
	Disabled bool   `yaml:"disabled"`
}

// FileNode is a single-file extension dropped into custom_nodes.
type FileNode struct {
	Disabled bool `yaml:"disabled"`
}

// Model is a downloaded model file.
type Model struct {
	Name   string      `yaml:"name"`
	URL    string      `yaml:"url,omitempty"`
	Paths  []ModelPath `yaml:"paths"`
	Hashes []ModelHash `yaml:"hashes,omitempty"`
	Type   string      `yaml:"type,omitempty"`
}

// ModelPath is a destination relative to the workspace root.
type ModelPath struct {
	Path string `yaml:"path"`
}

// ModelHash is a content digest of a model file.
type ModelHash struct {
	Hash string `yaml:"hash"`
	Type string `yaml:"type"`
}

// Hash returns the digest of the given algorithm or "".
func (m Model) Hash(algo string) string {
	for _, h := range m.Hashes {
		if strings.EqualFold(h.Type, algo) {
			return h.Hash
		}
	}
	return ""
}

// HasPath reports whether p is one of the model's destinations.
func (m Model) HasPath(p string) bool {
	for _, mp := range m.Paths {
		if mp.Path == p {
			return true
		}
	}
	return false
}

func (m Model) sharesPath(other Model) bool {
	for _, mp := range other.Paths {
		if m.HasPath(mp.Path) {
			return true
		}
	}
	return false
}

// Extension is the flattened view of a custom node entry.
type Extension struct {
	Source  string
	Commit  string
	Enabled bool
}

// IsGit reports whether the source is a repository URL rather than a file
// name.
func (e Extension) IsGit() bool {
	return IsRemoteSource(e.Source)
}

// IsRemoteSource reports whether source names a git remote.
func IsRemoteSource(source string) bool {
	return strings.Contains(source, "://") || strings.HasPrefix(source, "git@")
}

// CorruptLockFileError reports a lock file that exists but fails to decode
// or validate.
type CorruptLockFileError struct {
	Path string
	Err  error
}

func (e *CorruptLockFileError) Error() string {
	return fmt.Sprintf("corrupt lock file %s: %v", e.Path, e.Err)
}

func (e *CorruptLockFileError) Unwrap() error { return e.Err }

func (e *CorruptLockFileError) ExitCode() int { return exitcode.CorruptLockFile }

func (e *CorruptLockFileError) Remedy() string {
	return fmt.Sprintf("repair or delete %s, then run `comfy node scan` to rebuild it", filepath.Base(e.Path))
}

// New returns an empty lock.
func New() *Lock {
	l := &Lock{}
	l.normalize()
	return l
}

func (l *Lock) normalize() {
	if l.CustomNodes.Git == nil {
		l.CustomNodes.Git = map[string]GitNode{}
	}
	if l.CustomNodes.File == nil {
		l.CustomNodes.File = map[string]FileNode{}
	}
	if l.Models == nil {
		l.Models = []Model{}
	}
}

// Load reads the lock file of the workspace rooted at workspace. A missing
// file yields an empty lock.
func Load(workspace string) (*Lock, error) {
	path := paths.ForWorkspace(workspace).LockFile
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read lock file: %w", err)
	}

	l, err := Decode(data)
	if err != nil {
		return nil, &CorruptLockFileError{Path: path, Err: err}
	}
	return l, nil
}

// Decode parses lock file contents, rejecting unknown fields, duplicate keys
// and entries missing required fields.
func Decode(data []byte) (*Lock, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var l Lock
	if err := dec.Decode(&l); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	l.normalize()
	if err := l.validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Lock) validate() error {
	for source := range l.CustomNodes.Git {
		if strings.TrimSpace(source) == "" {
			return errors.New("git custom node with empty source")
		}
		if _, dup := l.CustomNodes.File[source]; dup {
			return fmt.Errorf("custom node %s listed as both git and file node", source)
		}
	}
	for name := range l.CustomNodes.File {
		if strings.TrimSpace(name) == "" {
			return errors.New("file custom node with empty name")
		}
	}
	for i, m := range l.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("models[%d]: missing name", i)
		}
		if len(m.Paths) == 0 {
			return fmt.Errorf("models[%d] %s: missing paths", i, m.Name)
		}
		for j, p := range m.Paths {
			if strings.TrimSpace(p.Path) == "" {
				return fmt.Errorf("models[%d].paths[%d]: empty path", i, j)
			}
		}
		for j, h := range m.Hashes {
			if h.Hash == "" || h.Type == "" {
				return fmt.Errorf("models[%d].hashes[%d]: hash and type are required", i, j)
			}
		}
	}
	return nil
}

// Marshal encodes the lock with its header comment. Map keys are sorted so
// unchanged data encodes identically.
func (l *Lock) Marshal() ([]byte, error) {
	l.normalize()
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return nil, fmt.Errorf("encode lock file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode lock file: %w", err)
	}
	return buf.Bytes(), nil
}

// beforeRename runs after the temp file is synced and before it replaces the
// lock file. Tests swap it to simulate a crash.
var beforeRename = func(tmpPath string) error { return nil }

// Save writes the lock into the workspace rooted at workspace. The previous
// file stays intact until the new contents are fully on disk.
func (l *Lock) Save(workspace string) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}

	target := paths.ForWorkspace(workspace).LockFile
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare workspace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".comfy.lock-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp lock file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp lock file: %w", err)
	}
	if err := beforeRename(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("replace lock file: %w", err)
	}
	return nil
}

// SetApplication pins the application remote and commit.
func (l *Lock) SetApplication(remote, commit string) {
	l.Basics.Remote = remote
	l.Basics.Commit = commit
}

// Extensions returns every custom node sorted by source.
func (l *Lock) Extensions() []Extension {
	out := make([]Extension, 0, len(l.CustomNodes.Git)+len(l.CustomNodes.File))
	for source, node := range l.CustomNodes.Git {
		out = append(out, Extension{Source: source, Commit: node.Hash, Enabled: !node.Disabled})
	}
	for name, node := range l.CustomNodes.File {
		out = append(out, Extension{Source: name, Enabled: !node.Disabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Extension looks up a custom node by source.
func (l *Lock) Extension(source string) (Extension, bool) {
	if node, ok := l.CustomNodes.Git[source]; ok {
		return Extension{Source: source, Commit: node.Hash, Enabled: !node.Disabled}, true
	}
	if node, ok := l.CustomNodes.File[source]; ok {
		return Extension{Source: source, Enabled: !node.Disabled}, true
	}
	return Extension{}, false
}

// UpsertExtension inserts ext or replaces the entry with the same source,
// moving it between the git and file groups if its kind changed.
func (l *Lock) UpsertExtension(ext Extension) {
	l.normalize()
	delete(l.CustomNodes.Git, ext.Source)
	delete(l.CustomNodes.File, ext.Source)
	if ext.IsGit() {
		l.CustomNodes.Git[ext.Source] = GitNode{Hash: ext.Commit, Disabled: !ext.Enabled}
		return
	}
	l.CustomNodes.File[ext.Source] = FileNode{Disabled: !ext.Enabled}
}

// RemoveExtension deletes the entry for source and reports whether one
// existed.
func (l *Lock) RemoveExtension(source string) bool {
	_, ok := l.Extension(source)
	delete(l.CustomNodes.Git, source)
	delete(l.CustomNodes.File, source)
	return ok
}

// SetExtensionEnabled toggles an existing entry and reports whether it was
// found.
func (l *Lock) SetExtensionEnabled(source string, enabled bool) bool {
	ext, ok := l.Extension(source)
	if !ok {
		return false
	}
	ext.Enabled = enabled
	l.UpsertExtension(ext)
	return true
}

// UpsertModel replaces entries with the same name that share a destination
// path with m, keeping the position of the first one, or appends m.
func (l *Lock) UpsertModel(m Model) {
	l.normalize()
	idx := -1
	kept := l.Models[:0]
	for _, existing := range l.Models {
		if existing.Name == m.Name && existing.sharesPath(m) {
			if idx == -1 {
				idx = len(kept)
				kept = append(kept, m)
			}
			continue
		}
		kept = append(kept, existing)
	}
	if idx == -1 {
		kept = append(kept, m)
	}
	l.Models = kept
}

// RemoveModel drops the destination path from entries named name, deleting
// entries left without destinations. An empty path removes every entry with
// that name. It reports whether anything changed.
func (l *Lock) RemoveModel(name, path string) bool {
	changed := false
	kept := l.Models[:0]
	for _, m := range l.Models {
		if m.Name != name {
			kept = append(kept, m)
			continue
		}
		if path == "" {
			changed = true
			continue
		}
		if !m.HasPath(path) {
			kept = append(kept, m)
			continue
		}
		changed = true
		remaining := make([]ModelPath, 0, len(m.Paths))
		for _, mp := range m.Paths {
			if mp.Path != path {
				remaining = append(remaining, mp)
			}
		}
		if len(remaining) > 0 {
			m.Paths = remaining
			kept = append(kept, m)
		}
	}
	l.Models = kept
	return changed
}

// FindModels returns entries whose name matches and, when path is non-empty,
// that include path.
func (l *Lock) FindModels(name, path string) []Model {
	var out []Model
	for _, m := range l.Models {
		if m.Name == name && (path == "" || m.HasPath(path)) {
			out = append(out, m)
		}
	}
	return out
}
