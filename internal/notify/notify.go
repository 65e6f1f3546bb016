// Package notify delivers lifecycle and job notifications to the host
// notification service.
//
// Delivery is fire-and-forget from the caller's point of view: Send logs
// and swallows every failure so a broken notification path never changes
// the outcome of the operation being reported.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Severity is the notification level. The numeric values are the ones the
// QNAP log_tool --type option expects.
type Severity int

const (
	Information Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Information:
		return "information"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses the String form of a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "information", "info":
		return Information, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	}
	return Information, fmt.Errorf("unknown severity %q", s)
}

// Message is a single notification.
type Message struct {
	Text     string
	Severity Severity
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Send delivers msg through n, logging any failure instead of returning it.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, text string, sev Severity) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, Message{Text: text, Severity: sev}); err != nil && logger != nil {
		logger.Warn("notification failed", "severity", sev.String(), "error", err)
	}
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Slog writes notifications to a structured logger.
type Slog struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (s Slog) Notify(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	switch msg.Severity {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, msg.Text, "notification", true)
	return nil
}

// Recorder keeps every message in memory. Used by tests across the module.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages in delivery order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
