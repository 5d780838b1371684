package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"comfycli/internal/config"
	"comfycli/internal/exitcode"
	"comfycli/internal/installer"
	"comfycli/internal/logx"
	"comfycli/internal/paths"
	"comfycli/internal/proc"
	"comfycli/internal/tui"
	"comfycli/internal/vcs"
	"comfycli/internal/workspace"
)

// Command annotations read by the root PersistentPreRunE.
const (
	// annotationWorkspace holds the workspace.Requirement of a command.
	annotationWorkspace = "comfy/workspace"
	// annotationDeferRecord marks commands that record recency themselves.
	annotationDeferRecord = "comfy/defer-record"
	// annotationLogFile marks commands whose log is mirrored to a file.
	annotationLogFile = "comfy/log-file"
	// annotationNoFirstRun skips the first-run consent flow.
	annotationNoFirstRun = "comfy/no-first-run"
)

// app is the state shared by every command of one invocation.
type app struct {
	selectors  workspace.Selectors
	skipPrompt bool
	jsonOutput bool
	noProgress bool

	store  *config.Store
	logger hclog.InterceptLogger
	res    workspace.Resolution
	wp     paths.WorkspacePaths

	closers []io.Closer

	// Collaborators, replaced in tests.
	getwd         func() (string, error)
	stdinTerminal func() bool
	vcs           installer.VCS
	runner        proc.Runner
}

func newApp() *app {
	return &app{
		getwd:         os.Getwd,
		stdinTerminal: func() bool { return tui.IsTerminal(os.Stdin) },
		runner:        proc.CmdRunner{},
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

// Execute runs the root cobra command and exits with the code carried by
// the returned error.
func Execute() {
	a := newApp()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError prints err and its remedy and returns the exit code.
func reportError(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	var remedier exitcode.Remedier
	if errors.As(err, &remedier) {
		if remedy := remedier.Remedy(); remedy != "" {
			fmt.Fprintf(w, "hint: %s\n", remedy)
		}
	}
	return exitcode.For(err)
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "comfy",
		Short:         "Install and manage ComfyUI workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.selectors.Workspace, "workspace", "", "Path to the ComfyUI workspace")
	flags.BoolVar(&a.selectors.Recent, "recent", false, "Use the most recently used workspace")
	flags.BoolVar(&a.selectors.Here, "here", false, "Use the current directory as the workspace")
	flags.BoolVar(&a.skipPrompt, "skip-prompt", false, "Do not ask questions; accept defaults")
	flags.BoolVar(&a.jsonOutput, "json", false, "Output machine-readable JSON")
	flags.BoolVar(&a.noProgress, "no-progress", false, "Disable the interactive progress display")

	cmd.AddCommand(newInstallCmd(a))
	cmd.AddCommand(newUpdateCmd(a))
	cmd.AddCommand(newLaunchCmd(a))
	cmd.AddCommand(newStopCmd(a))
	cmd.AddCommand(newSetDefaultCmd(a))
	cmd.AddCommand(newWhichCmd(a))
	cmd.AddCommand(newEnvCmd(a))
	cmd.AddCommand(newNodeCmd(a))
	cmd.AddCommand(newModelCmd(a))
	cmd.AddCommand(newTrackingCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

// annotation returns the first value of key found on cmd or its parents.
func annotation(cmd *cobra.Command, key string) (string, bool) {
	for c := cmd; c != nil; c = c.Parent() {
		if v, ok := c.Annotations[key]; ok {
			return v, true
		}
	}
	return "", false
}

// builtin reports cobra's own help and completion commands, which need no
// workspace.
func builtin(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

// prepare validates selectors, loads the config, resolves the workspace and
// runs first-run initialization, in that order.
func (a *app) prepare(cmd *cobra.Command) error {
	if builtin(cmd) {
		return nil
	}
	if err := a.selectors.Validate(); err != nil {
		return err
	}
	// Cobra only checks these after the persistent hooks have run.
	if err := cmd.ValidateRequiredFlags(); err != nil {
		return err
	}
	if err := cmd.ValidateFlagGroups(); err != nil {
		return err
	}

	a.logger = logx.New("comfy", cmd.ErrOrStderr())

	cfgPath, err := paths.ConfigFile()
	if err != nil {
		return err
	}
	store, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	a.store = store

	resolver := workspace.NewResolver(store)
	resolver.Getwd = a.getwd
	res, err := resolver.Resolve(a.selectors)
	if err != nil {
		return err
	}
	reqValue, _ := annotation(cmd, annotationWorkspace)
	if err := res.Require(workspace.ParseRequirement(reqValue)); err != nil {
		return err
	}
	a.res = res
	a.wp = res.Paths()
	a.logger.Debug("resolved workspace", "path", res.Path, "source", res.Source, "exists", res.Exists)

	if _, ok := annotation(cmd, annotationLogFile); ok {
		if err := a.attachLogFile(); err != nil {
			a.logger.Warn("file logging disabled", "error", err)
		}
	}

	if _, skip := annotation(cmd, annotationNoFirstRun); !skip && store.NeedsFirstRun() {
		if err := a.firstRun(cmd); err != nil {
			return err
		}
	}

	if _, deferred := annotation(cmd, annotationDeferRecord); !deferred && res.Exists {
		if err := workspace.Record(store, res); err != nil {
			return fmt.Errorf("record recent workspace: %w", err)
		}
	}
	return nil
}

func (a *app) attachLogFile() error {
	dir, err := paths.LogsDir()
	if err != nil {
		return err
	}
	path, closer, err := logx.AttachFile(a.logger, dir)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer)
	a.logger.Debug("logging to file", "path", path)
	return nil
}

// firstRun asks for telemetry consent once and writes the config file.
func (a *app) firstRun(cmd *cobra.Command) error {
	enable := true
	if !a.skipPrompt && a.stdinTerminal() {
		answer, err := confirm(cmd, "Do you agree to enable anonymous usage tracking to help improve the tool?", true)
		if err != nil {
			return err
		}
		enable = answer
	}
	if err := a.store.CompleteFirstRun(enable); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// confirm prints question and reads a yes/no answer from the command input.
func confirm(cmd *cobra.Command, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s ", question, hint)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// log returns the invocation logger, or a discarding one before prepare.
func (a *app) log() hclog.Logger {
	if a.logger == nil {
		return logx.Discard()
	}
	return a.logger
}

func (a *app) newInstaller() *installer.Installer {
	v := a.vcs
	if v == nil {
		v = vcs.New(a.runner, a.log())
	}
	return installer.New(v, a.runner, a.log())
}

func requires(req workspace.Requirement) map[string]string {
	return map[string]string{annotationWorkspace: string(req)}
}
