package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"comfycli/internal/lockfile"
	"comfycli/internal/paths"
	"comfycli/internal/proc"
	"comfycli/internal/workspace"
)

type fakeVCS struct {
	remotes   map[string]string
	commits   map[string]string
	cloned    []string
	pulled    []string
	checkouts []string
	cloneErr  error
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{remotes: map[string]string{}, commits: map[string]string{}}
}

func (f *fakeVCS) Clone(_ context.Context, url, dest string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	f.cloned = append(f.cloned, url)
	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "requirements.txt"), []byte("numpy\n"), 0o644); err != nil {
		return err
	}
	if url == DefaultURL {
		if err := os.MkdirAll(filepath.Join(dest, "comfy"), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dest, "main.py"), nil, 0o644); err != nil {
			return err
		}
	}
	f.remotes[dest] = url
	f.commits[dest] = "c-" + filepath.Base(dest)
	return nil
}

func (f *fakeVCS) Checkout(_ context.Context, dir, ref string) error {
	f.checkouts = append(f.checkouts, ref)
	f.commits[dir] = ref
	return nil
}

func (f *fakeVCS) Pull(_ context.Context, dir string) error {
	f.pulled = append(f.pulled, dir)
	f.commits[dir] = "pulled-" + filepath.Base(dir)
	return nil
}

func (f *fakeVCS) HeadCommit(_ context.Context, dir string) (string, error) {
	c, ok := f.commits[dir]
	if !ok {
		return "", errors.New("not a repository")
	}
	return c, nil
}

func (f *fakeVCS) RemoteURL(_ context.Context, dir string) (string, error) {
	r, ok := f.remotes[dir]
	if !ok {
		return "", errors.New("no remote")
	}
	return r, nil
}

type pipCall struct {
	dir  string
	args []string
}

type fakeRunner struct {
	calls []pipCall
	err   error
}

func (f *fakeRunner) Run(_ context.Context, command string, args []string, opts proc.RunOptions) (proc.RunResult, error) {
	f.calls = append(f.calls, pipCall{dir: opts.Dir, args: args})
	if f.err != nil {
		return proc.RunResult{Stderr: []byte("ERROR: could not find a version\n")}, f.err
	}
	return proc.RunResult{}, nil
}

func newTestInstaller(v *fakeVCS, r *fakeRunner) (*Installer, *[]Event) {
	in := New(v, r, nil)
	in.Python = "python3"
	var events []Event
	in.Report = func(e Event) { events = append(events, e) }
	return in, &events
}

func TestInstallFreshWorkspace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "comfy", "ComfyUI")
	v := newFakeVCS()
	r := &fakeRunner{}
	in, events := newTestInstaller(v, r)

	lock, err := in.Install(context.Background(), root, Options{Commit: "abc123", GPU: GPUNvidia})
	require.NoError(t, err)
	require.True(t, workspace.IsWorkspace(root))
	require.Equal(t, []string{DefaultURL, DefaultManagerURL}, v.cloned)
	require.Equal(t, []string{"abc123"}, v.checkouts)

	require.Len(t, r.calls, 3)
	require.Contains(t, strings.Join(r.calls[0].args, " "), "whl/cu121")
	require.Equal(t, []string{"-m", "pip", "install", "-r", filepath.Join(root, "requirements.txt")}, r.calls[1].args)
	require.Equal(t, paths.ForWorkspace(root).ManagerDir, r.calls[2].dir)

	require.Equal(t, DefaultURL, lock.Basics.Remote)
	require.Equal(t, "abc123", lock.Basics.Commit)
	manager, ok := lock.Extension(DefaultManagerURL)
	require.True(t, ok)
	require.True(t, manager.Enabled)
	require.Equal(t, "c-ComfyUI-Manager", manager.Commit)

	onDisk, err := lockfile.Load(root)
	require.NoError(t, err)
	require.Equal(t, lock, onDisk)

	last := (*events)[len(*events)-1]
	require.Equal(t, Event{Step: StepLock, Status: StatusDone, Detail: paths.ForWorkspace(root).LockFile}, last)
}

func TestInstallRefusesExistingWithoutRestore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ComfyUI")
	v := newFakeVCS()
	in, _ := newTestInstaller(v, &fakeRunner{})
	_, err := in.Install(context.Background(), root, Options{SkipRequirements: true})
	require.NoError(t, err)

	_, err = in.Install(context.Background(), root, Options{})
	var already *AlreadyInstalledError
	require.ErrorAs(t, err, &already)
	require.Equal(t, root, already.Path)
}

func TestInstallRestoreReinstallsDependencies(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ComfyUI")
	v := newFakeVCS()
	in, _ := newTestInstaller(v, &fakeRunner{})
	_, err := in.Install(context.Background(), root, Options{SkipRequirements: true})
	require.NoError(t, err)

	r := &fakeRunner{}
	in.Runner = r
	_, err = in.Install(context.Background(), root, Options{Restore: true, SkipTorch: true})
	require.NoError(t, err)
	require.Len(t, v.cloned, 2, "restore must not clone again")
	require.Len(t, r.calls, 2, "application and manager requirements")
}

func TestInstallSkipManager(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ComfyUI")
	v := newFakeVCS()
	in, _ := newTestInstaller(v, &fakeRunner{})

	lock, err := in.Install(context.Background(), root, Options{SkipManager: true, SkipRequirements: true})
	require.NoError(t, err)
	require.Equal(t, []string{DefaultURL}, v.cloned)
	require.Empty(t, lock.Extensions())
}

func TestInstallRejectsNonEmptyTarget(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	v := newFakeVCS()
	in, events := newTestInstaller(v, &fakeRunner{})

	_, err := in.Install(context.Background(), root, Options{})
	require.Error(t, err)
	require.Empty(t, v.cloned)
	require.Equal(t, StatusFailed, (*events)[len(*events)-1].Status)
}

func TestInstallPipFailureStopsBeforeLock(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ComfyUI")
	in, _ := newTestInstaller(newFakeVCS(), &fakeRunner{err: errors.New("exit status 1")})

	_, err := in.Install(context.Background(), root, Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "could not find a version")
	_, statErr := os.Stat(paths.ForWorkspace(root).LockFile)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestTorchArgs(t *testing.T) {
	require.Nil(t, TorchArgs(GPUNone, "linux"))
	require.Equal(t, []string{"torch-directml"}, TorchArgs(GPUAMD, "windows"))
	require.Contains(t, TorchArgs(GPUAMD, "linux"), "https://download.pytorch.org/whl/rocm6.0")
	require.Equal(t, "--pre", TorchArgs(GPUMSeries, "darwin")[0])
	require.Contains(t, TorchArgs(GPUCPU, "linux"), "https://download.pytorch.org/whl/cpu")
}

func TestParseGPU(t *testing.T) {
	g, err := ParseGPU("Nvidia")
	require.NoError(t, err)
	require.Equal(t, GPUNvidia, g)

	_, err = ParseGPU("voodoo")
	require.Error(t, err)
}
