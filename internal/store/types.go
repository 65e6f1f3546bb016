package store

import "time"

// Run is one wrapped duplicacy invocation as recorded by the interceptor.
type Run struct {
	ID        string
	Operation string
	Command   string
	ExitCode  int
	Severity  string
	Warnings  int
	Errors    int
	StartedAt time.Time
	EndedAt   time.Time
	Summary   string
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Event is a journaled notification.
type Event struct {
	ID       int64
	At       time.Time
	Source   string // "watcher" or "shim"
	Severity string
	Text     string
}
