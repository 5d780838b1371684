package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"comfycli/internal/download"
	"comfycli/internal/installer"
)

// NewStepModel returns a progress table with one pending row per step.
func NewStepModel(title string, steps []string) ProgressModel {
	return NewProgressModel(title, StepLayout, "pending", steps...)
}

// NewDownloadModel returns a progress table for a single model file.
func NewDownloadModel(title, filename string) ProgressModel {
	return NewProgressModel(title, DownloadLayout, "resolving", filename)
}

// StepUpdate converts an installer event into a row update.
func StepUpdate(ev installer.Event) RowUpdateMsg {
	return RowUpdateMsg{Key: ev.Step, Status: string(ev.Status), Detail: ev.Detail}
}

// StepSender forwards installer events to a running program.
func StepSender(send func(tea.Msg)) func(installer.Event) {
	return func(ev installer.Event) { send(StepUpdate(ev)) }
}

// PlainReporter writes one line per event.
func PlainReporter(w io.Writer) func(installer.Event) {
	var mu sync.Mutex
	return func(ev installer.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Detail != "" {
			fmt.Fprintf(w, "%-28s %-8s %s\n", ev.Step, ev.Status, ev.Detail)
			return
		}
		fmt.Fprintf(w, "%-28s %s\n", ev.Step, ev.Status)
	}
}

type jsonEvent struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSONReporter writes one JSON object per event.
func JSONReporter(w io.Writer) func(installer.Event) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ev installer.Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(jsonEvent{Step: ev.Step, Status: string(ev.Status), Detail: ev.Detail})
	}
}

// DownloadProgress returns a progress callback sending row updates for key.
// Updates are sent at most once per whole percent.
func DownloadProgress(send func(tea.Msg), key string) download.ProgressFunc {
	last := -1
	return func(written, total int64) {
		text := humanize.Bytes(uint64(written))
		if total > 0 {
			pct := int(written * 100 / total)
			if pct == last {
				return
			}
			last = pct
			text = fmt.Sprintf("%s / %s (%d%%)", text, humanize.Bytes(uint64(total)), pct)
		}
		send(RowUpdateMsg{Key: key, Status: "downloading", Detail: text})
	}
}
