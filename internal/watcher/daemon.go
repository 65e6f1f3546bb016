package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned by StopDaemon when no daemon is running.
var ErrNotRunning = errors.New("daemon not running")

// StartDaemon starts the supervisor as a background daemon process.
// It re-executes the current binary with args (default: watch
// --daemon-child) in a new session, writes the PID to pidFile, and redirects
// output to logFile.
func StartDaemon(pidFile, logFile string, args ...string) error {
	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID file: %s)", pidFile)
	}

	for _, dir := range []string{filepath.Dir(pidFile), filepath.Dir(logFile)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logF.Close()

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	if len(args) == 0 {
		args = []string{"watch", "--daemon-child"}
	}
	cmd := exec.Command(executable, args...)
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := writePIDFile(pidFile, pid); err != nil {
		cmd.Process.Kill()
		return err
	}

	// Detach from parent
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to release process: %w", err)
	}

	return nil
}

// RunDaemon runs w until SIGTERM, SIGINT or SIGHUP arrives (or ctx is
// cancelled), waits for the shutdown cleanup to complete and removes the
// PID file.
func RunDaemon(ctx context.Context, w *Watcher, pidFile string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	if err := writePIDFile(pidFile, os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove PID file", "path", pidFile, "error", err)
		}
	}()

	w.logger.Info("supervisor started", "pid", os.Getpid())
	err := w.Run(ctx)
	w.logger.Info("supervisor stopped", "state", w.State().String())
	return err
}

// StopDaemon sends SIGTERM to the daemon and waits until it has exited,
// which is after its cleanup has run, or until timeout elapses.
func StopDaemon(pidFile string, timeout time.Duration) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			os.Remove(pidFile)
			return fmt.Errorf("%w (stale PID %d)", ErrNotRunning, pid)
		}
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(process) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within %s", pid, timeout)
}

// IsDaemonRunning checks if a daemon is running by checking the PID file.
func IsDaemonRunning(pidFile string) (bool, error) {
	pid, err := readPIDFile(pidFile)
	if errors.Is(err, ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		// Invalid PID file, consider daemon not running
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return false, nil
		}
		return false, err
	}

	process, err := os.FindProcess(pid)
	if err != nil || !processAlive(process) {
		// Process doesn't exist, remove stale PID file
		os.Remove(pidFile)
		return false, nil
	}

	return true, nil
}

// DaemonPID returns the PID recorded in pidFile.
func DaemonPID(pidFile string) (int, error) {
	return readPIDFile(pidFile)
}

func processAlive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}

func readPIDFile(pidFile string) (int, error) {
	pidData, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w (PID file not found)", ErrNotRunning)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

func writePIDFile(pidFile string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}
