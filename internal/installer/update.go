package installer

import (
	"context"

	"comfycli/internal/lockfile"
	"comfycli/internal/paths"
)

// Update step names.
const (
	StepPull = "update application"
)

// UpdateOptions configures Update.
type UpdateOptions struct {
	// Nodes are pulled after the application; their lock entries are
	// refreshed.
	Nodes            []Node
	SkipRequirements bool
}

// Update pulls the application and the given nodes, then refreshes the
// commits recorded in the lock file.
func (in *Installer) Update(ctx context.Context, wp paths.WorkspacePaths, opts UpdateOptions) (*lockfile.Lock, error) {
	lock, err := lockfile.Load(wp.Root)
	if err != nil {
		return nil, err
	}

	in.report(StepPull, StatusRunning, "")
	if err := in.VCS.Pull(ctx, wp.Root); err != nil {
		return nil, in.fail(StepPull, err)
	}
	commit, err := in.VCS.HeadCommit(ctx, wp.Root)
	if err != nil {
		return nil, in.fail(StepPull, err)
	}
	remote := lock.Basics.Remote
	if remote == "" {
		if r, err := in.VCS.RemoteURL(ctx, wp.Root); err == nil {
			remote = r
		}
	}
	lock.SetApplication(remote, commit)
	in.report(StepPull, StatusDone, commit)

	if opts.SkipRequirements {
		in.report(StepRequirements, StatusSkipped, "")
	} else {
		in.report(StepRequirements, StatusRunning, "")
		if err := in.pip(ctx, wp.Root, wp.Root, "-r", wp.Requirements); err != nil {
			return nil, in.fail(StepRequirements, err)
		}
		in.report(StepRequirements, StatusDone, "")
	}

	for _, node := range opts.Nodes {
		if !node.Enabled {
			in.report(node.Name, StatusSkipped, "disabled")
			continue
		}
		updated, err := in.UpdateNode(ctx, node)
		if err != nil {
			return nil, err
		}
		if updated.Git {
			lock.UpsertExtension(updated.Extension())
		}
	}

	if err := lock.Save(wp.Root); err != nil {
		return nil, err
	}
	return lock, nil
}
