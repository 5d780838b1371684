package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"comfycli/internal/config"
	"comfycli/internal/launcher"
	"comfycli/internal/paths"
	"comfycli/internal/proc"
	"comfycli/internal/tui"
	"comfycli/internal/workspace"
)

// AlreadyRunningError reports a live background launch.
type AlreadyRunningError struct {
	Background config.Background
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("ComfyUI is already running in the background at %s (pid %d)", e.Background.URL(), e.Background.PID)
}

func (e *AlreadyRunningError) Remedy() string {
	return "run `comfy stop` first"
}

var errNoBackground = errors.New("no background ComfyUI is recorded")

func newLaunchCmd(a *app) *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "launch [--background] [-- extra...]",
		Short: "Run ComfyUI from the workspace",
		Long: "Run ComfyUI from the workspace. Arguments after -- are passed to main.py.\n" +
			"Without arguments, the stored default launch extras apply when the\n" +
			"workspace was chosen through the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			extras, err := launchExtras(a.store, a.res, args)
			if err != nil {
				return err
			}
			if background {
				return runLaunchBackground(cmd, a, extras)
			}
			return runLaunch(cmd, a, extras)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "Run detached and return once the server answers")
	return cmd
}

// launchExtras returns the arguments for main.py.
func launchExtras(store *config.Store, res workspace.Resolution, args []string) ([]string, error) {
	if len(args) > 0 || res.Source != workspace.SourceDefault {
		return args, nil
	}
	return launcher.SplitExtras(store.DefaultLaunchExtras())
}

func (a *app) newLauncher(cmd *cobra.Command) (*launcher.Launcher, error) {
	dir, err := paths.SessionDir()
	if err != nil {
		return nil, err
	}
	l := launcher.New(a.log(), dir)
	l.Stdout = cmd.OutOrStdout()
	l.Stderr = cmd.ErrOrStderr()
	l.Stdin = cmd.InOrStdin()
	return l, nil
}

func runLaunch(cmd *cobra.Command, a *app, extras []string) error {
	l, err := a.newLauncher(cmd)
	if err != nil {
		return err
	}
	a.logger.Info("launching", "workspace", a.wp.Root, "extras", extras)
	return l.Run(cmd.Context(), a.wp, extras)
}

func runLaunchBackground(cmd *cobra.Command, a *app, extras []string) error {
	if bg, ok := a.store.Background(); ok {
		if launcher.Running(bg) {
			return &AlreadyRunningError{Background: bg}
		}
		a.logger.Debug("clearing stale background record", "pid", bg.PID)
		if err := a.store.ClearBackground(); err != nil {
			return err
		}
	}

	l, err := a.newLauncher(cmd)
	if err != nil {
		return err
	}

	var status *tui.StatusWriter
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && tui.IsTerminal(f) && !a.jsonOutput {
		status = tui.NewStatusWriter(f)
		status.Update("Waiting for ComfyUI to start")
	}

	bg, err := l.Start(cmd.Context(), a.wp, launcher.BackgroundOptions{Extras: extras})
	if err != nil {
		if status != nil {
			status.Stop()
		}
		var failed *launcher.LaunchFailedError
		if errors.As(err, &failed) {
			for _, line := range failed.LogTail {
				fmt.Fprintln(cmd.ErrOrStderr(), line)
			}
		}
		return err
	}
	if status != nil {
		status.Finish("ComfyUI started")
	}

	if err := a.store.SetBackground(bg); err != nil {
		return err
	}
	if a.jsonOutput {
		return writeJSON(cmd, map[string]any{"url": bg.URL(), "host": bg.Host, "port": bg.Port, "pid": bg.PID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ComfyUI is running in the background at %s (pid %d)\n", bg.URL(), bg.PID)
	return nil
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "stop",
		Short:       "Stop the ComfyUI started with launch --background",
		Args:        cobra.NoArgs,
		Annotations: requires(workspace.RequireNone),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStop(cmd, a)
		},
	}
}

func runStop(cmd *cobra.Command, a *app) error {
	bg, ok := a.store.Background()
	if !ok {
		return errNoBackground
	}
	if err := launcher.Stop(bg); err != nil {
		if !errors.Is(err, proc.ErrNotRunning) {
			return fmt.Errorf("stop pid %d: %w", bg.PID, err)
		}
		a.logger.Warn("background process already gone", "pid", bg.PID)
	}
	if err := a.store.ClearBackground(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped ComfyUI at %s\n", bg.URL())
	return nil
}
