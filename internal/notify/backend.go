package notify

import (
	"log/slog"
	"os/exec"
)

// Delivery backends accepted by New.
const (
	BackendLogTool = "log_tool"
	BackendLog     = "log"
)

// New returns the notifier for backend. A log_tool backend whose command
// cannot be found falls back to logger, as does an unknown backend.
func New(backend, command, app, category string, logger *slog.Logger) Notifier {
	if backend == BackendLogTool {
		if _, err := exec.LookPath(command); err == nil {
			return NewLogTool(command, app, category)
		}
		logger.Warn("notification command not found, logging instead", "command", command)
	}
	return Slog{Logger: logger}
}
