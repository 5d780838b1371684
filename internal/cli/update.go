package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfycli/internal/installer"
)

func newUpdateCmd(a *app) *cobra.Command {
	var skipRequirements bool

	cmd := &cobra.Command{
		Use:       "update [all|comfy]",
		Short:     "Pull the latest ComfyUI, and with 'all' every custom node",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"all", "comfy"},
		Annotations: map[string]string{
			annotationLogFile: "",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "comfy"
			if len(args) == 1 {
				target = args[0]
			}
			return runUpdate(cmd, a, target == "all", skipRequirements)
		},
	}

	cmd.Flags().BoolVar(&skipRequirements, "skip-requirement", false, "Do not reinstall Python requirements")
	return cmd
}

func runUpdate(cmd *cobra.Command, a *app, withNodes, skipRequirements bool) error {
	ctx, cancel := commandContext(cmd, installTimeout)
	defer cancel()

	in := a.newInstaller()
	opts := installer.UpdateOptions{SkipRequirements: skipRequirements}
	rows := []string{installer.StepPull, installer.StepRequirements}
	if withNodes {
		nodes, err := in.ScanNodes(ctx, a.wp)
		if err != nil {
			return err
		}
		opts.Nodes = nodes
		for _, n := range nodes {
			rows = append(rows, n.Name)
		}
	}

	var commit string
	err := a.runSteps(cmd, "Updating "+a.wp.Root, rows, in, func() error {
		lock, err := in.Update(ctx, a.wp, opts)
		if err != nil {
			return err
		}
		commit = lock.Basics.Commit
		return nil
	})
	if err != nil {
		return err
	}
	if !a.jsonOutput {
		fmt.Fprintf(cmd.OutOrStdout(), "ComfyUI is at %s\n", commit)
	}
	return nil
}
