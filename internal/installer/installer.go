// Package installer clones, updates and tracks a ComfyUI installation and its
// custom nodes. Git and pip are reached through small interfaces so the
// orchestration can be exercised without either.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"comfycli/internal/lockfile"
	"comfycli/internal/paths"
	"comfycli/internal/proc"
	"comfycli/internal/workspace"
)

const (
	DefaultURL        = "https://github.com/comfyanonymous/ComfyUI"
	DefaultManagerURL = "https://github.com/ltdrdata/ComfyUI-Manager"
)

// VCS is the version control collaborator.
type VCS interface {
	Clone(ctx context.Context, url, dest string) error
	Checkout(ctx context.Context, dir, ref string) error
	Pull(ctx context.Context, dir string) error
	HeadCommit(ctx context.Context, dir string) (string, error)
	RemoteURL(ctx context.Context, dir string) (string, error)
}

// Status is the state of one step.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Event reports progress on a named step.
type Event struct {
	Step   string
	Status Status
	Detail string
}

// Install step names, in execution order.
const (
	StepClone        = "clone application"
	StepCheckout     = "checkout commit"
	StepTorch        = "install torch"
	StepRequirements = "install requirements"
	StepManager      = "clone manager"
	StepManagerDeps  = "install manager requirements"
	StepLock         = "write lock file"
)

// Steps lists the install steps in order.
func Steps() []string {
	return []string{StepClone, StepCheckout, StepTorch, StepRequirements, StepManager, StepManagerDeps, StepLock}
}

// Options configures Install.
type Options struct {
	URL              string
	ManagerURL       string
	Commit           string
	Restore          bool
	SkipManager      bool
	SkipRequirements bool
	SkipTorch        bool
	GPU              GPU
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.ManagerURL == "" {
		o.ManagerURL = DefaultManagerURL
	}
	return o
}

// AlreadyInstalledError reports an install into an existing workspace
// without --restore.
type AlreadyInstalledError struct {
	Path string
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("ComfyUI is already installed at %s", e.Path)
}

func (e *AlreadyInstalledError) Remedy() string {
	return "pass --restore to reinstall dependencies, or choose another --workspace"
}

// Installer carries the collaborators shared by every operation.
type Installer struct {
	VCS    VCS
	Runner proc.Runner
	Logger hclog.Logger
	// Python overrides interpreter discovery.
	Python string
	// Output receives pip output; nil discards it.
	Output io.Writer
	// Report receives step progress; nil ignores it.
	Report func(Event)
}

// New returns an installer with the given collaborators.
func New(vcs VCS, runner proc.Runner, logger hclog.Logger) *Installer {
	if runner == nil {
		runner = proc.CmdRunner{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Installer{VCS: vcs, Runner: runner, Logger: logger.Named("installer")}
}

func (in *Installer) report(step string, status Status, detail string) {
	in.Logger.Debug("step", "step", step, "status", status, "detail", detail)
	if in.Report != nil {
		in.Report(Event{Step: step, Status: status, Detail: detail})
	}
}

func (in *Installer) fail(step string, err error) error {
	in.report(step, StatusFailed, err.Error())
	return err
}

func (in *Installer) python(root string) (string, error) {
	if in.Python != "" {
		return in.Python, nil
	}
	return proc.Python(root)
}

func (in *Installer) pip(ctx context.Context, root, dir string, args ...string) error {
	python, err := in.python(root)
	if err != nil {
		return err
	}
	full := append([]string{"-m", "pip", "install"}, args...)
	res, err := in.Runner.Run(ctx, python, full, proc.RunOptions{
		Dir:    dir,
		Stdout: in.Output,
		Stderr: in.Output,
	})
	if err != nil {
		return fmt.Errorf("pip install: %w: %s", err, lastLine(res.Stderr))
	}
	return nil
}

// Install clones the application into root, installs its dependencies and
// the manager extension, and writes the lock file.
func (in *Installer) Install(ctx context.Context, root string, opts Options) (*lockfile.Lock, error) {
	opts = opts.withDefaults()
	wp := paths.ForWorkspace(root)
	installed := workspace.IsWorkspace(root)
	if installed && !opts.Restore {
		return nil, &AlreadyInstalledError{Path: root}
	}

	if installed {
		in.report(StepClone, StatusSkipped, "already installed")
	} else {
		in.report(StepClone, StatusRunning, opts.URL)
		if err := prepareTarget(root); err != nil {
			return nil, in.fail(StepClone, err)
		}
		if err := in.VCS.Clone(ctx, opts.URL, root); err != nil {
			return nil, in.fail(StepClone, err)
		}
		in.report(StepClone, StatusDone, "")
	}

	if opts.Commit == "" {
		in.report(StepCheckout, StatusSkipped, "")
	} else {
		in.report(StepCheckout, StatusRunning, opts.Commit)
		if err := in.VCS.Checkout(ctx, root, opts.Commit); err != nil {
			return nil, in.fail(StepCheckout, err)
		}
		in.report(StepCheckout, StatusDone, "")
	}

	torchArgs := TorchArgs(opts.GPU, goos)
	if opts.SkipTorch || opts.SkipRequirements || len(torchArgs) == 0 {
		in.report(StepTorch, StatusSkipped, "")
	} else {
		in.report(StepTorch, StatusRunning, string(opts.GPU))
		if err := in.pip(ctx, root, root, torchArgs...); err != nil {
			return nil, in.fail(StepTorch, err)
		}
		in.report(StepTorch, StatusDone, "")
	}

	if opts.SkipRequirements {
		in.report(StepRequirements, StatusSkipped, "")
	} else {
		in.report(StepRequirements, StatusRunning, "")
		if err := in.pip(ctx, root, root, "-r", wp.Requirements); err != nil {
			return nil, in.fail(StepRequirements, err)
		}
		in.report(StepRequirements, StatusDone, "")
	}

	managerPresent, err := paths.DirExists(wp.ManagerDir)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.SkipManager:
		in.report(StepManager, StatusSkipped, "--skip-manager")
		in.report(StepManagerDeps, StatusSkipped, "")
	case managerPresent && !opts.Restore:
		in.report(StepManager, StatusSkipped, "already present")
		in.report(StepManagerDeps, StatusSkipped, "pass --restore to reinstall")
	default:
		if managerPresent {
			in.report(StepManager, StatusSkipped, "already present")
		} else {
			in.report(StepManager, StatusRunning, opts.ManagerURL)
			if err := in.VCS.Clone(ctx, opts.ManagerURL, wp.ManagerDir); err != nil {
				return nil, in.fail(StepManager, err)
			}
			in.report(StepManager, StatusDone, "")
		}
		if err := in.nodeRequirements(ctx, root, wp.ManagerDir, opts.SkipRequirements, StepManagerDeps); err != nil {
			return nil, err
		}
	}

	in.report(StepLock, StatusRunning, "")
	lock, err := in.writeInstallLock(ctx, wp, opts)
	if err != nil {
		return nil, in.fail(StepLock, err)
	}
	in.report(StepLock, StatusDone, wp.LockFile)
	return lock, nil
}

func (in *Installer) nodeRequirements(ctx context.Context, root, dir string, skip bool, step string) error {
	reqs := paths.ForWorkspace(dir).Requirements
	ok, err := paths.FileExists(reqs)
	if err != nil {
		return in.fail(step, err)
	}
	if skip || !ok {
		in.report(step, StatusSkipped, "")
		return nil
	}
	in.report(step, StatusRunning, "")
	if err := in.pip(ctx, root, dir, "-r", reqs); err != nil {
		return in.fail(step, err)
	}
	in.report(step, StatusDone, "")
	return nil
}

func (in *Installer) writeInstallLock(ctx context.Context, wp paths.WorkspacePaths, opts Options) (*lockfile.Lock, error) {
	lock, err := lockfile.Load(wp.Root)
	if err != nil {
		return nil, err
	}

	commit, err := in.VCS.HeadCommit(ctx, wp.Root)
	if err != nil {
		return nil, err
	}
	lock.SetApplication(opts.URL, commit)

	if present, _ := paths.DirExists(wp.ManagerDir); present {
		source := opts.ManagerURL
		if remote, err := in.VCS.RemoteURL(ctx, wp.ManagerDir); err == nil && remote != "" {
			source = remote
		}
		managerCommit, err := in.VCS.HeadCommit(ctx, wp.ManagerDir)
		if err != nil {
			return nil, err
		}
		lock.UpsertExtension(lockfile.Extension{Source: source, Commit: managerCommit, Enabled: true})
	}

	if err := lock.Save(wp.Root); err != nil {
		return nil, err
	}
	return lock, nil
}

// prepareTarget makes sure root can receive a clone: it must be missing or an
// empty directory, and its parent must exist.
func prepareTarget(root string) error {
	entries, err := os.ReadDir(root)
	switch {
	case err == nil:
		if len(entries) > 0 {
			return fmt.Errorf("%s exists and is not an empty directory", root)
		}
		return os.Remove(root)
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(parentDir(root), 0o755)
	default:
		return fmt.Errorf("inspect %s: %w", root, err)
	}
}
