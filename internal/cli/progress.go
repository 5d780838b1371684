package cli

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"comfycli/internal/installer"
	"comfycli/internal/tui"
)

const (
	installTimeout = time.Hour
	networkTimeout = 10 * time.Minute
)

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// runSteps runs work while rendering installer events in the output mode
// selected by the global flags. rows lists the step keys shown in the
// interactive table.
func (a *app) runSteps(cmd *cobra.Command, title string, rows []string, in *installer.Installer, work func() error) error {
	out := cmd.OutOrStdout()
	switch tui.DetectMode(out, a.noProgress, a.jsonOutput) {
	case tui.ModeJSON:
		in.Report = tui.JSONReporter(out)
		return work()
	case tui.ModePlain:
		in.Report = tui.PlainReporter(out)
		in.Output = cmd.ErrOrStderr()
		return work()
	}

	model := tui.NewStepModel(title, rows)
	return tui.RunWithWork(out, model, func(send func(tea.Msg)) error {
		in.Report = tui.StepSender(send)
		return work()
	})
}
