package notify

import (
	"context"
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// LogTool posts notifications to the QNAP Notification Center through the
// log_tool command.
//
// The --category option of log_tool is rejected as unrecognized on some
// firmware releases; the -G alias works everywhere.
type LogTool struct {
	Command  string
	App      string
	Category string
	User     string
	Timeout  time.Duration
}

// NewLogTool returns a LogTool for app and category. The user defaults to
// the current user.
func NewLogTool(command, app, category string) *LogTool {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	return &LogTool{
		Command:  command,
		App:      app,
		Category: category,
		User:     name,
		Timeout:  10 * time.Second,
	}
}

// Args returns the log_tool argument vector for msg.
func (l *LogTool) Args(msg Message) []string {
	return []string{
		"--append", msg.Text,
		"--type", strconv.Itoa(int(msg.Severity)),
		"--user", l.User,
		"--app_name", l.App,
		"-G", l.Category,
	}
}

// Notify implements Notifier.
func (l *LogTool) Notify(ctx context.Context, msg Message) error {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, l.Command, l.Args(msg)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (output: %s)", l.Command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
