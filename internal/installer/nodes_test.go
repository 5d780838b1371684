package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"comfycli/internal/lockfile"
	"comfycli/internal/paths"
)

const nodeURL = "https://github.com/example/ComfyUI-Example"

func installedWorkspace(t *testing.T) (paths.WorkspacePaths, *Installer, *fakeVCS) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "ComfyUI")
	v := newFakeVCS()
	in, _ := newTestInstaller(v, &fakeRunner{})
	_, err := in.Install(context.Background(), root, Options{SkipRequirements: true})
	require.NoError(t, err)
	return paths.ForWorkspace(root), in, v
}

func TestInstallAndScanNodes(t *testing.T) {
	wp, in, _ := installedWorkspace(t)
	ctx := context.Background()

	node, err := in.InstallNode(ctx, wp, nodeURL, true)
	require.NoError(t, err)
	require.Equal(t, "ComfyUI-Example", node.Name)
	require.True(t, node.Git)

	require.NoError(t, os.WriteFile(filepath.Join(wp.CustomNodesDir, "tweak.py.disabled"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wp.CustomNodesDir, "README.md"), []byte(""), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(wp.CustomNodesDir, "__pycache__"), 0o755))

	nodes, err := in.ScanNodes(ctx, wp)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	require.Equal(t, "ComfyUI-Example", nodes[0].Name)
	require.Equal(t, "ComfyUI-Manager", nodes[1].Name)
	require.Equal(t, Node{Name: "tweak.py", Path: filepath.Join(wp.CustomNodesDir, "tweak.py.disabled"), Source: "tweak.py"}, nodes[2])

	_, err = in.InstallNode(ctx, wp, nodeURL+".git", true)
	var exists *NodeExistsError
	require.ErrorAs(t, err, &exists)
}

func TestFindNode(t *testing.T) {
	nodes := []Node{
		{Name: "ComfyUI-Example", Source: nodeURL, Git: true},
		{Name: "tweak.py", Source: "tweak.py"},
	}
	for _, id := range []string{nodeURL, "ComfyUI-Example", "git@github.com:example/ComfyUI-Example.git", "tweak.py"} {
		_, ok := FindNode(nodes, id)
		require.True(t, ok, id)
	}
	_, ok := FindNode(nodes, "missing")
	require.False(t, ok)
}

func TestDisableEnableNode(t *testing.T) {
	wp, in, _ := installedWorkspace(t)
	ctx := context.Background()
	node, err := in.InstallNode(ctx, wp, nodeURL, true)
	require.NoError(t, err)

	disabled, err := in.SetNodeEnabled(wp, node, false)
	require.NoError(t, err)
	require.False(t, disabled.Enabled)
	require.Equal(t, filepath.Join(wp.CustomNodesDir, "ComfyUI-Example.disabled"), disabled.Path)

	enabled, err := in.SetNodeEnabled(wp, disabled, true)
	require.NoError(t, err)
	require.Equal(t, node.Path, enabled.Path)
}

func TestUninstallNode(t *testing.T) {
	wp, in, _ := installedWorkspace(t)
	node, err := in.InstallNode(context.Background(), wp, nodeURL, true)
	require.NoError(t, err)

	require.NoError(t, in.UninstallNode(node))
	_, err = os.Stat(node.Path)
	require.True(t, os.IsNotExist(err))
}

func TestReconcile(t *testing.T) {
	lock := lockfile.New()
	lock.UpsertExtension(lockfile.Extension{Source: "https://github.com/gone/node", Commit: "1", Enabled: true})
	lock.UpsertExtension(lockfile.Extension{Source: nodeURL, Commit: "old", Enabled: true})
	lock.UpsertExtension(lockfile.Extension{Source: "same.py", Enabled: true})

	nodes := []Node{
		{Name: "ComfyUI-Example", Source: nodeURL, Commit: "new", Enabled: true, Git: true},
		{Name: "same.py", Source: "same.py", Enabled: true},
		{Name: "fresh.py", Source: "fresh.py", Enabled: false},
	}
	changed, removed := Reconcile(lock, nodes)
	require.ElementsMatch(t, []string{nodeURL, "fresh.py"}, changed)
	require.Equal(t, []string{"https://github.com/gone/node"}, removed)

	ext, ok := lock.Extension(nodeURL)
	require.True(t, ok)
	require.Equal(t, "new", ext.Commit)
	require.Len(t, lock.Extensions(), 3)
}

func TestUpdateRefreshesCommits(t *testing.T) {
	wp, in, v := installedWorkspace(t)
	ctx := context.Background()
	_, err := in.InstallNode(ctx, wp, nodeURL, true)
	require.NoError(t, err)

	nodes, err := in.ScanNodes(ctx, wp)
	require.NoError(t, err)
	disabled, err := in.SetNodeEnabled(wp, nodes[0], false)
	require.NoError(t, err)
	nodes[0] = disabled

	lock, err := in.Update(ctx, wp, UpdateOptions{Nodes: nodes, SkipRequirements: true})
	require.NoError(t, err)
	require.Equal(t, "pulled-ComfyUI", lock.Basics.Commit)
	require.Equal(t, DefaultURL, lock.Basics.Remote)

	manager, ok := lock.Extension(DefaultManagerURL)
	require.True(t, ok)
	require.Equal(t, "pulled-ComfyUI-Manager", manager.Commit)
	require.Equal(t, []string{wp.Root, wp.ManagerDir}, v.pulled)
}
