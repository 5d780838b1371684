package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const statusInterval = 100 * time.Millisecond

// StatusWriter keeps one spinner line on a terminal while a single long
// operation runs, such as waiting for a background server to answer.
type StatusWriter struct {
	w       io.Writer
	started time.Time

	mu    sync.Mutex
	label string
	since time.Time

	stop   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// NewStatusWriter starts redrawing the status line on w.
func NewStatusWriter(w io.Writer) *StatusWriter {
	now := time.Now()
	sw := &StatusWriter{
		w:       w,
		started: now,
		since:   now,
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go sw.run()
	return sw
}

// Update replaces the label and restarts its timer.
func (sw *StatusWriter) Update(label string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.label = label
	sw.since = time.Now()
}

// Finish stops the spinner and prints msg with the time since the writer
// was created.
func (sw *StatusWriter) Finish(msg string) {
	sw.Stop()
	fmt.Fprintf(sw.w, "%s (%s)\n", msg, formatElapsed(time.Since(sw.started)))
}

// Stop erases the status line. Calling it more than once is harmless.
func (sw *StatusWriter) Stop() {
	sw.once.Do(func() {
		close(sw.stop)
		<-sw.exited
		fmt.Fprint(sw.w, "\r\033[K")
	})
}

func (sw *StatusWriter) run() {
	defer close(sw.exited)
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			fmt.Fprint(sw.w, sw.line(frame))
		}
	}
}

func (sw *StatusWriter) line(frame int) string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	spinner := spinnerFrames[frame%len(spinnerFrames)]
	return fmt.Sprintf("\r\033[K%s %s (%s)", spinner, sw.label, formatElapsed(time.Since(sw.since)))
}

// formatElapsed renders d at a precision that suits its size.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
