package tui

// RowUpdateMsg moves the task named Key to Status and replaces its detail.
type RowUpdateMsg struct {
	Key    string
	Status string
	Detail string
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}
