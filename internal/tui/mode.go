package tui

import (
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"
)

// OutputMode describes how progress output should be rendered.
type OutputMode int

const (
	// ModeTUI uses bubbletea for interactive progress rendering.
	ModeTUI OutputMode = iota
	// ModePlain writes one line per event.
	ModePlain
	// ModeJSON writes structured JSON output.
	ModeJSON
)

// IsTerminal reports whether f is attached to an interactive terminal.
func IsTerminal(f interface{ Fd() uintptr }) bool {
	return term.IsTerminal(int(f.Fd()))
}

// DetectMode determines the appropriate output mode for the given writer.
func DetectMode(out io.Writer, noProgress, jsonOutput bool) OutputMode {
	if jsonOutput {
		return ModeJSON
	}
	if noProgress {
		return ModePlain
	}
	file, ok := out.(*os.File)
	if !ok || !IsTerminal(file) {
		return ModePlain
	}
	if runtime.GOOS != "windows" {
		t := os.Getenv("TERM")
		if t == "" || strings.EqualFold(t, "dumb") {
			return ModePlain
		}
	}
	return ModeTUI
}
