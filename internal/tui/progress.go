package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = 150 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ErrInterrupted is returned when the user quits the display before the
// work finished.
var ErrInterrupted = errors.New("interrupted")

type tickMsg time.Time

// Layout names the first and last columns of a task table. The middle
// column is always STATUS.
type Layout struct {
	Name        string
	NameWidth   int
	Detail      string
	DetailWidth int
}

const statusWidth = 11

var (
	// StepLayout is used for install and update steps.
	StepLayout = Layout{Name: "STEP", NameWidth: 28, Detail: "DETAIL", DetailWidth: 44}
	// DownloadLayout is used for model downloads.
	DownloadLayout = Layout{Name: "MODEL", NameWidth: 32, Detail: "PROGRESS", DetailWidth: 28}
)

type task struct {
	name   string
	status string
	detail string
	since  time.Time
}

// ProgressModel is a bubbletea model listing named tasks with their status.
type ProgressModel struct {
	title  string
	layout Layout
	tasks  []task
	index  map[string]int
	now    func() time.Time

	done        bool
	interrupted bool
	err         error
	tick        int
}

// NewProgressModel returns a model with one row per name, each starting in
// the given status.
func NewProgressModel(title string, layout Layout, status string, names ...string) ProgressModel {
	m := ProgressModel{
		title:  title,
		layout: layout,
		index:  make(map[string]int, len(names)),
		now:    time.Now,
	}
	for _, name := range names {
		if _, dup := m.index[name]; dup {
			continue
		}
		m.index[name] = len(m.tasks)
		m.tasks = append(m.tasks, task{name: name, status: status})
	}
	return m
}

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init satisfies the tea.Model interface.
func (m ProgressModel) Init() tea.Cmd {
	return scheduleTick()
}

// Update satisfies the tea.Model interface.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.tick++
		if m.done {
			return m, nil
		}
		return m, scheduleTick()

	case RowUpdateMsg:
		m.apply(msg)
		return m, nil

	case WorkDoneMsg:
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.done = true
			m.interrupted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// apply copies a row update onto its task. The detail always follows the
// latest update; an empty status leaves the current one.
func (m *ProgressModel) apply(msg RowUpdateMsg) {
	idx, ok := m.index[msg.Key]
	if !ok {
		return
	}
	t := m.tasks[idx]
	if msg.Status != "" && msg.Status != t.status {
		t.status = msg.Status
		t.since = m.now()
	}
	t.detail = strings.TrimSpace(msg.Detail)
	m.tasks[idx] = t
}

// View satisfies the tea.Model interface.
func (m ProgressModel) View() string {
	l := m.layout
	var b strings.Builder

	if m.title != "" {
		b.WriteString(TitleStyle.Render(m.title))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "%s  %s  %s\n",
		HeaderStyle.Render(pad(l.Name, l.NameWidth)),
		HeaderStyle.Render(pad("STATUS", statusWidth)),
		HeaderStyle.Render(l.Detail))

	for _, t := range m.tasks {
		detail := t.detail
		if !m.done && activeStatuses[t.status] && !t.since.IsZero() {
			detail = strings.TrimSpace(detail + " " + formatElapsed(m.now().Sub(t.since)))
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			pad(clip(t.name, l.NameWidth), l.NameWidth),
			StatusStyle(t.status).Render(pad(t.status, statusWidth)),
			clip(detail, l.DetailWidth))
	}

	if !m.done {
		finished := m.finished()
		spinner := spinnerFrames[m.tick%len(spinnerFrames)]
		fmt.Fprintf(&b, "\n%s %d/%d steps finished\n", spinner, finished, len(m.tasks))
	}
	return b.String()
}

// finished counts tasks in a terminal status.
func (m ProgressModel) finished() int {
	n := 0
	for _, t := range m.tasks {
		if terminalStatuses[t.status] {
			n++
		}
	}
	return n
}

// Done returns whether the model has finished (work done or error).
func (m ProgressModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m ProgressModel) Err() error {
	return m.err
}

// Interrupted reports whether the user pressed ctrl+c.
func (m ProgressModel) Interrupted() bool {
	return m.interrupted
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// clip keeps the tail of long values, where commit hashes and byte counts
// end up.
func clip(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	return "…" + string(r[len(r)-width+1:])
}
