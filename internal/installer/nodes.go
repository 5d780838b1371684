package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"comfycli/internal/lockfile"
	"comfycli/internal/paths"
	"comfycli/internal/vcs"
)

// Node is a custom node found under custom_nodes.
type Node struct {
	// Name is the directory or file name without the disabled suffix.
	Name    string
	Path    string
	Source  string
	Commit  string
	Enabled bool
	Git     bool
}

// Extension converts the node into its lock file entry.
func (n Node) Extension() lockfile.Extension {
	return lockfile.Extension{Source: n.Source, Commit: n.Commit, Enabled: n.Enabled}
}

// NodeNotFoundError reports an identifier matching no installed node.
type NodeNotFoundError struct {
	ID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("custom node %q is not installed", e.ID)
}

func (e *NodeNotFoundError) Remedy() string {
	return "run `comfy node list` to see installed nodes"
}

// NodeExistsError reports an install over an existing node.
type NodeExistsError struct {
	Name string
	Path string
}

func (e *NodeExistsError) Error() string {
	return fmt.Sprintf("custom node %s already exists at %s", e.Name, e.Path)
}

// ScanNodes lists the custom nodes installed in the workspace, sorted by
// name.
func (in *Installer) ScanNodes(ctx context.Context, wp paths.WorkspacePaths) ([]Node, error) {
	entries, err := os.ReadDir(wp.CustomNodesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read custom nodes: %w", err)
	}

	var nodes []Node
	for _, entry := range entries {
		raw := entry.Name()
		if strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "__") {
			continue
		}
		name := strings.TrimSuffix(raw, paths.DisabledSuffix)
		node := Node{
			Name:    name,
			Path:    filepath.Join(wp.CustomNodesDir, raw),
			Source:  name,
			Enabled: name == raw,
		}

		switch {
		case entry.IsDir():
			if vcs.IsRepo(node.Path) {
				if remote, err := in.VCS.RemoteURL(ctx, node.Path); err == nil && remote != "" {
					node.Source = remote
					node.Git = true
				} else if err != nil {
					in.Logger.Warn("custom node has no origin remote", "node", name, "error", err)
				}
				if node.Git {
					commit, err := in.VCS.HeadCommit(ctx, node.Path)
					if err != nil {
						return nil, fmt.Errorf("read commit of %s: %w", name, err)
					}
					node.Commit = commit
				}
			}
		case strings.HasSuffix(name, ".py"):
			// single-file node
		default:
			continue
		}
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// FindNode matches id against a node's source, name or repository name.
func FindNode(nodes []Node, id string) (Node, bool) {
	id = strings.TrimSpace(id)
	for _, n := range nodes {
		if n.Source == id || n.Name == id {
			return n, true
		}
	}
	repo := vcs.RepoName(id)
	for _, n := range nodes {
		if n.Git && n.Name == repo {
			return n, true
		}
	}
	return Node{}, false
}

// InstallNode clones url into custom_nodes and installs its requirements.
func (in *Installer) InstallNode(ctx context.Context, wp paths.WorkspacePaths, url string, skipRequirements bool) (Node, error) {
	name := vcs.RepoName(url)
	if name == "" {
		return Node{}, fmt.Errorf("cannot derive a directory name from %q", url)
	}
	dest := filepath.Join(wp.CustomNodesDir, name)
	for _, candidate := range []string{dest, dest + paths.DisabledSuffix} {
		if _, err := os.Stat(candidate); err == nil {
			return Node{}, &NodeExistsError{Name: name, Path: candidate}
		}
	}
	if err := os.MkdirAll(wp.CustomNodesDir, 0o755); err != nil {
		return Node{}, fmt.Errorf("prepare custom nodes: %w", err)
	}

	in.report(name, StatusRunning, "cloning")
	if err := in.VCS.Clone(ctx, url, dest); err != nil {
		return Node{}, in.fail(name, err)
	}
	if !skipRequirements {
		if ok, _ := paths.FileExists(filepath.Join(dest, "requirements.txt")); ok {
			in.report(name, StatusRunning, "installing requirements")
			if err := in.pip(ctx, wp.Root, dest, "-r", filepath.Join(dest, "requirements.txt")); err != nil {
				return Node{}, in.fail(name, err)
			}
		}
	}
	commit, err := in.VCS.HeadCommit(ctx, dest)
	if err != nil {
		return Node{}, in.fail(name, err)
	}
	in.report(name, StatusDone, commit)
	return Node{Name: name, Path: dest, Source: url, Commit: commit, Enabled: true, Git: true}, nil
}

// UninstallNode deletes the node from disk.
func (in *Installer) UninstallNode(node Node) error {
	if err := os.RemoveAll(node.Path); err != nil {
		return fmt.Errorf("remove %s: %w", node.Name, err)
	}
	in.report(node.Name, StatusDone, "removed")
	return nil
}

// SetNodeEnabled renames the node to or from its disabled form.
func (in *Installer) SetNodeEnabled(wp paths.WorkspacePaths, node Node, enabled bool) (Node, error) {
	target := filepath.Join(wp.CustomNodesDir, node.Name)
	if !enabled {
		target += paths.DisabledSuffix
	}
	if node.Path == target {
		return node, nil
	}
	if _, err := os.Stat(target); err == nil {
		return Node{}, fmt.Errorf("cannot rename %s: %s already exists", node.Name, target)
	}
	if err := os.Rename(node.Path, target); err != nil {
		return Node{}, fmt.Errorf("rename %s: %w", node.Name, err)
	}
	node.Path = target
	node.Enabled = enabled
	return node, nil
}

// UpdateNode pulls a git node and returns it with its new commit.
func (in *Installer) UpdateNode(ctx context.Context, node Node) (Node, error) {
	if !node.Git {
		in.report(node.Name, StatusSkipped, "not a git checkout")
		return node, nil
	}
	in.report(node.Name, StatusRunning, "pulling")
	if err := in.VCS.Pull(ctx, node.Path); err != nil {
		return Node{}, in.fail(node.Name, err)
	}
	commit, err := in.VCS.HeadCommit(ctx, node.Path)
	if err != nil {
		return Node{}, in.fail(node.Name, err)
	}
	node.Commit = commit
	in.report(node.Name, StatusDone, commit)
	return node, nil
}

// Reconcile makes the lock file's custom node entries match nodes, returning
// the sources that were added or changed and those that were removed.
func Reconcile(lock *lockfile.Lock, nodes []Node) (changed, removed []string) {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ext := n.Extension()
		seen[ext.Source] = true
		if existing, ok := lock.Extension(ext.Source); ok && existing == ext {
			continue
		}
		lock.UpsertExtension(ext)
		changed = append(changed, ext.Source)
	}
	for _, ext := range lock.Extensions() {
		if !seen[ext.Source] {
			lock.RemoveExtension(ext.Source)
			removed = append(removed, ext.Source)
		}
	}
	return changed, removed
}
