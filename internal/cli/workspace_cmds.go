package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"comfycli/internal/config"
	"comfycli/internal/paths"
	"comfycli/internal/workspace"
)

func newSetDefaultCmd(a *app) *cobra.Command {
	var launchExtras string

	cmd := &cobra.Command{
		Use:         "set-default <path>",
		Short:       "Set the workspace used when no other rule applies",
		Args:        cobra.MatchAll(cobra.ExactArgs(1), validDefaultPath),
		Annotations: requires(workspace.RequireNone),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := paths.ExpandHome(args[0])
			if err != nil {
				return err
			}
			if err := a.store.SetDefaultWorkspace(target, launchExtras); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default workspace set to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&launchExtras, "launch-extras", "", "Arguments passed to main.py when launching the default workspace")
	return cmd
}

// validDefaultPath rejects an unusable set-default argument before anything
// is written.
func validDefaultPath(_ *cobra.Command, args []string) error {
	target, err := paths.ExpandHome(args[0])
	if err != nil {
		return err
	}
	return config.ValidateWorkspacePath(target)
}

func newWhichCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "which",
		Short:       "Print the workspace this invocation resolves to",
		Args:        cobra.NoArgs,
		Annotations: requires(workspace.RequireNone),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOutput {
				return writeJSON(cmd, map[string]any{
					"path":   a.res.Path,
					"source": a.res.Source,
					"exists": a.res.Exists,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.res.Path)
			return nil
		},
	}
}

func newEnvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "env",
		Short:       "Show the stored settings and the resolved workspace",
		Args:        cobra.NoArgs,
		Annotations: requires(workspace.RequireNone),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnv(cmd, a)
		},
	}
}

type envReport struct {
	ConfigPath       string `json:"config_path"`
	DefaultWorkspace string `json:"default_workspace"`
	LaunchExtras     string `json:"default_launch_extras"`
	RecentWorkspace  string `json:"recent_workspace"`
	Tracking         string `json:"tracking"`
	Background       string `json:"background"`
	Workspace        string `json:"workspace"`
	Source           string `json:"workspace_source"`
	Installed        bool   `json:"installed"`
}

func buildEnvReport(a *app) envReport {
	r := envReport{
		ConfigPath:       a.store.Path(),
		DefaultWorkspace: a.store.DefaultWorkspace(),
		LaunchExtras:     a.store.DefaultLaunchExtras(),
		RecentWorkspace:  a.store.RecentWorkspace(),
		Tracking:         "undecided",
		Workspace:        a.res.Path,
		Source:           string(a.res.Source),
		Installed:        a.res.Exists,
	}
	if enabled, decided := a.store.Tracking(); decided {
		r.Tracking = strconv.FormatBool(enabled)
	}
	if bg, ok := a.store.Background(); ok {
		r.Background = fmt.Sprintf("%s (pid %d)", bg.URL(), bg.PID)
	}
	return r
}

func runEnv(cmd *cobra.Command, a *app) error {
	r := buildEnvReport(a)
	if a.jsonOutput {
		return writeJSON(cmd, r)
	}
	workspaceLine := fmt.Sprintf("%s (%s)", r.Workspace, r.Source)
	if !r.Installed {
		workspaceLine += " " + faintStyle.Render("not installed")
	}
	writeFields(cmd, [][2]string{
		{"Config", r.ConfigPath},
		{"Default workspace", r.DefaultWorkspace},
		{"Launch extras", r.LaunchExtras},
		{"Recent workspace", r.RecentWorkspace},
		{"Tracking", r.Tracking},
		{"Background", r.Background},
		{"Workspace", workspaceLine},
	})
	return nil
}
