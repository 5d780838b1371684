package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
)

func writeJSON(cmd *cobra.Command, payload any) error {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// writeFields prints label/value pairs with aligned values.
func writeFields(cmd *cobra.Command, fields [][2]string) {
	width := 0
	for _, f := range fields {
		if len(f[0]) > width {
			width = len(f[0])
		}
	}
	for _, f := range fields {
		label := labelStyle.Render(f[0] + ":" + strings.Repeat(" ", width-len(f[0])))
		value := f[1]
		if strings.TrimSpace(value) == "" {
			value = faintStyle.Render("-")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", label, value)
	}
}
