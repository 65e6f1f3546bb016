package interceptor

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blackwell-systems/dupwrap/internal/notify"
	"github.com/blackwell-systems/dupwrap/internal/store"
)

// MaxRecordedLines bounds the lines a Record keeps.
const MaxRecordedLines = 1000

// RunStore persists finished runs. *store.Store satisfies it.
type RunStore interface {
	InsertRun(run *store.Run) error
}

// Record describes one interceptor invocation.
type Record struct {
	ID        string
	Args      []string
	Options   Options
	Operation string
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  int
	Counts    Counts
	Severity  notify.Severity
	Summary   string

	mu    sync.Mutex
	lines []string
	next  int
	total int
}

func newRecord(inv Invocation, now time.Time) *Record {
	return &Record{
		ID:        ulid.Make().String(),
		Args:      inv.Args,
		Options:   inv.Options,
		Operation: inv.Operation(),
		StartedAt: now,
	}
}

// addLine keeps the last MaxRecordedLines lines.
func (r *Record) addLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if len(r.lines) < MaxRecordedLines {
		r.lines = append(r.lines, line)
		return
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % MaxRecordedLines
}

// Lines returns the retained lines, oldest first.
func (r *Record) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}

// TotalLines is the number of lines seen, including dropped ones.
func (r *Record) TotalLines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Run converts the record for the store.
func (r *Record) Run(commandLine string) *store.Run {
	return &store.Run{
		ID:        r.ID,
		Operation: r.Operation,
		Command:   commandLine,
		ExitCode:  r.ExitCode,
		Severity:  r.Severity.String(),
		Warnings:  r.Counts.Warnings,
		Errors:    r.Counts.Errors,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Summary:   r.Summary,
	}
}
