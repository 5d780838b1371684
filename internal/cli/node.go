package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"comfycli/internal/installer"
	"comfycli/internal/lockfile"
	"comfycli/internal/tui"
	"comfycli/internal/vcs"
)

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage custom nodes in the workspace",
	}

	cmd.AddCommand(newNodeListCmd(a))
	cmd.AddCommand(newNodeInstallCmd(a))
	cmd.AddCommand(newNodeUninstallCmd(a))
	cmd.AddCommand(newNodeToggleCmd(a, "enable", true))
	cmd.AddCommand(newNodeToggleCmd(a, "disable", false))
	cmd.AddCommand(newNodeUpdateCmd(a))
	cmd.AddCommand(newNodeScanCmd(a))
	return cmd
}

// updateLock loads the workspace lock file, applies fn and saves the result.
// When fn fails part way, the entries it changed before failing are still
// saved so the lock file matches what is on disk.
func (a *app) updateLock(fn func(lock *lockfile.Lock) error) error {
	lock, err := lockfile.Load(a.wp.Root)
	if err != nil {
		return err
	}
	before, err := lock.Marshal()
	if err != nil {
		return err
	}

	fnErr := fn(lock)
	if fnErr != nil {
		after, err := lock.Marshal()
		if err != nil || bytes.Equal(before, after) {
			return fnErr
		}
		a.log().Warn("saving partial lock file update", "error", fnErr)
	}
	if err := lock.Save(a.wp.Root); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// findNodes resolves every id against the installed nodes.
func findNodes(ctx context.Context, a *app, in *installer.Installer, ids []string) ([]installer.Node, error) {
	installed, err := in.ScanNodes(ctx, a.wp)
	if err != nil {
		return nil, err
	}
	found := make([]installer.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := installer.FindNode(installed, id)
		if !ok {
			return nil, &installer.NodeNotFoundError{ID: id}
		}
		found = append(found, n)
	}
	return found, nil
}

func nodeNames(nodes []installer.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

func newNodeListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed custom nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodes, err := a.newInstaller().ScanNodes(cmd.Context(), a.wp)
			if err != nil {
				return err
			}
			return writeNodes(cmd, a.jsonOutput, nodes)
		},
	}
}

type nodeJSON struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Commit  string `json:"commit,omitempty"`
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

func writeNodes(cmd *cobra.Command, asJSON bool, nodes []installer.Node) error {
	if asJSON {
		rows := make([]nodeJSON, 0, len(nodes))
		for _, n := range nodes {
			rows = append(rows, nodeJSON{Name: n.Name, Source: n.Source, Commit: n.Commit, Enabled: n.Enabled, Path: n.Path})
		}
		return writeJSON(cmd, rows)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCOMMIT\tSOURCE")
	for _, n := range nodes {
		status := "enabled"
		if !n.Enabled {
			status = "disabled"
		}
		commit := strings.TrimSpace(n.Commit)
		switch {
		case commit == "":
			commit = "-"
		case len(commit) > 12:
			commit = commit[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Name, tui.StatusStyle(status).Render(status), commit, n.Source)
	}
	return w.Flush()
}

func newNodeInstallCmd(a *app) *cobra.Command {
	var skipRequirements bool

	cmd := &cobra.Command{
		Use:         "install <url>...",
		Short:       "Clone custom nodes into custom_nodes and record them in the lock file",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationLogFile: ""},
		RunE: func(cmd *cobra.Command, urls []string) error {
			ctx, cancel := commandContext(cmd, networkTimeout)
			defer cancel()

			in := a.newInstaller()
			rows := make([]string, len(urls))
			for i, u := range urls {
				rows[i] = vcs.RepoName(u)
			}
			return a.runSteps(cmd, "Installing custom nodes", rows, in, func() error {
				return a.updateLock(func(lock *lockfile.Lock) error {
					for _, u := range urls {
						node, err := in.InstallNode(ctx, a.wp, u, skipRequirements)
						if err != nil {
							return err
						}
						lock.UpsertExtension(node.Extension())
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().BoolVar(&skipRequirements, "skip-requirement", false, "Do not install the node's Python requirements")
	return cmd
}

func newNodeUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "uninstall <id>...",
		Short:       "Remove custom nodes and their lock file entries",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationLogFile: ""},
		RunE: func(cmd *cobra.Command, ids []string) error {
			in := a.newInstaller()
			nodes, err := findNodes(cmd.Context(), a, in, ids)
			if err != nil {
				return err
			}
			return a.runSteps(cmd, "Removing custom nodes", nodeNames(nodes), in, func() error {
				return a.updateLock(func(lock *lockfile.Lock) error {
					for _, n := range nodes {
						if err := in.UninstallNode(n); err != nil {
							return err
						}
						lock.RemoveExtension(n.Source)
					}
					return nil
				})
			})
		},
	}
}

func newNodeToggleCmd(a *app, use string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: fmt.Sprintf("%s custom nodes", map[bool]string{true: "Enable", false: "Disable"}[enable]),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, ids []string) error {
			in := a.newInstaller()
			nodes, err := findNodes(cmd.Context(), a, in, ids)
			if err != nil {
				return err
			}
			return a.updateLock(func(lock *lockfile.Lock) error {
				for _, n := range nodes {
					updated, err := in.SetNodeEnabled(a.wp, n, enable)
					if err != nil {
						return err
					}
					lock.UpsertExtension(updated.Extension())
					fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", updated.Name, use)
				}
				return nil
			})
		},
	}
}

func newNodeUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "update [id...|all]",
		Short:       "Pull the latest version of custom nodes",
		Annotations: map[string]string{annotationLogFile: ""},
		RunE: func(cmd *cobra.Command, ids []string) error {
			ctx, cancel := commandContext(cmd, networkTimeout)
			defer cancel()

			in := a.newInstaller()
			var nodes []installer.Node
			var err error
			if len(ids) == 0 || (len(ids) == 1 && ids[0] == "all") {
				nodes, err = in.ScanNodes(ctx, a.wp)
			} else {
				nodes, err = findNodes(ctx, a, in, ids)
			}
			if err != nil {
				return err
			}

			return a.runSteps(cmd, "Updating custom nodes", nodeNames(nodes), in, func() error {
				return a.updateLock(func(lock *lockfile.Lock) error {
					for _, n := range nodes {
						updated, err := in.UpdateNode(ctx, n)
						if err != nil {
							return err
						}
						if updated.Git {
							lock.UpsertExtension(updated.Extension())
						}
					}
					return nil
				})
			})
		},
	}
}

func newNodeScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the lock file with the contents of custom_nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodes, err := a.newInstaller().ScanNodes(cmd.Context(), a.wp)
			if err != nil {
				return err
			}

			var changed, removed []string
			err = a.updateLock(func(lock *lockfile.Lock) error {
				changed, removed = installer.Reconcile(lock, nodes)
				return nil
			})
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd, map[string][]string{"changed": changed, "removed": removed})
			}
			for _, s := range changed {
				fmt.Fprintf(cmd.OutOrStdout(), "+ %s\n", s)
			}
			for _, s := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", s)
			}
			if len(changed)+len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Lock file already matches custom_nodes")
			}
			return nil
		},
	}
}
