package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfycli/internal/workspace"
)

func newTrackingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracking",
		Short: "Enable or disable anonymous usage tracking",
		Annotations: map[string]string{
			annotationWorkspace:  string(workspace.RequireNone),
			annotationNoFirstRun: "",
		},
	}
	cmd.AddCommand(newTrackingToggleCmd(a, "enable", true))
	cmd.AddCommand(newTrackingToggleCmd(a, "disable", false))
	return cmd
}

func newTrackingToggleCmd(a *app, use string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s usage tracking", map[bool]string{true: "Enable", false: "Disable"}[enable]),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.SetTracking(enable); err != nil {
				return err
			}
			state := "disabled"
			if enable {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking is %s\n", state)
			return nil
		},
	}
}
