package interceptor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/blackwell-systems/dupwrap/internal/health"
	"github.com/blackwell-systems/dupwrap/internal/notify"
)

// Capacity of the per-line notification queue. Lines beyond it are
// counted and summarized but not notified individually.
const verboseQueueSize = 1024

// forwardedSignals reach the child's process group unchanged.
var forwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// Runner runs one wrapped duplicacy command.
type Runner struct {
	// Binary is the real duplicacy executable.
	Binary     string
	Invocation Invocation

	Notifier notify.Notifier
	Pinger   health.Pinger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger

	// Store, when set, receives the finished run.
	Store RunStore

	// Signals replaces the process signal subscription; tests inject it.
	Signals <-chan os.Signal

	Now func() time.Time

	record *Record
}

// Record returns the record of the last Run.
func (r *Runner) Record() *Record {
	return r.record
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Run starts the child, relays its output and signals, and reports the
// outcome. The returned exit code is the child's; a child killed by signal
// N yields 128+N. A non-nil error means the child could not be started.
//
// A signal that arrives after the child has exited cancels the pending
// notification and pings instead, so the caller can always interrupt the
// interceptor.
func (r *Runner) Run(ctx context.Context) (int, error) {
	logger := r.logger()
	inv := r.Invocation
	cls := NewClassifier(inv)
	r.record = newRecord(inv, r.now())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if inv.Options.LogAtStart {
		notify.Send(ctx, r.Notifier, logger, cls.StartMessage(), notify.Information)
	}

	// The start ping runs beside the child so a slow endpoint never delays
	// the backup; the final ping waits for it to keep start before
	// success/fail.
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		health.Send(ctx, r.Pinger, logger, inv.Options.Healthchecks, health.Start, "")
	}()

	cmd := exec.Command(r.Binary, inv.Args...)
	cmd.Stdin = r.Stdin
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.finish(ctx, cls, pingDone, 1, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.finish(ctx, cls, pingDone, 1, fmt.Errorf("stderr pipe: %w", err))
	}

	sigCh := r.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, len(forwardedSignals))
		signal.Notify(ch, forwardedSignals...)
		defer signal.Stop(ch)
		sigCh = ch
	}

	if err := cmd.Start(); err != nil {
		return r.finish(ctx, cls, pingDone, 1, fmt.Errorf("start %s: %w", r.Binary, err))
	}
	logger.Debug("child started", "pid", cmd.Process.Pid, "binary", r.Binary, "op", inv.Operation())

	exited := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				select {
				case <-exited:
					logger.Info("signal after child exit, abandoning notifications", "signal", sig)
					cancel()
					return
				default:
					forward(logger, cmd.Process, sig)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	queue := make(chan notify.Message, verboseQueueSize)
	var sender sync.WaitGroup
	sender.Add(1)
	go func() {
		defer sender.Done()
		for msg := range queue {
			notify.Send(ctx, r.Notifier, logger, msg.Text, msg.Severity)
		}
	}()

	var g errgroup.Group
	g.Go(func() error { return r.drain(stdout, r.Stdout, cls, queue) })
	g.Go(func() error { return r.drain(stderr, r.Stderr, cls, queue) })
	if err := g.Wait(); err != nil {
		logger.Warn("reading child output", "error", err)
	}

	waitErr := cmd.Wait()
	close(exited)
	close(queue)
	sender.Wait()

	code := exitStatus(waitErr)
	if code != 0 {
		logger.Debug("child exited", "code", code, "error", waitErr)
	}
	return r.finish(ctx, cls, pingDone, code, nil)
}

// finish sends the summary and final ping and records the run.
func (r *Runner) finish(ctx context.Context, cls *Classifier, pingDone <-chan struct{}, code int, runErr error) (int, error) {
	logger := r.logger()
	rec := r.record

	msg := cls.Summary(code)
	if runErr != nil {
		msg.Text += "; " + runErr.Error()
		msg.Severity = notify.Error
	}
	notify.Send(ctx, r.Notifier, logger, msg.Text, msg.Severity)

	<-pingDone
	sig := health.Success
	if msg.Severity != notify.Information {
		sig = health.Fail
	}
	health.Send(ctx, r.Pinger, logger, r.Invocation.Options.Healthchecks, sig, msg.Text)

	rec.EndedAt = r.now()
	rec.ExitCode = code
	rec.Counts = cls.Counts()
	rec.Severity = msg.Severity
	rec.Summary = msg.Text

	if r.Store != nil {
		if err := r.Store.InsertRun(rec.Run(r.Invocation.CommandLine())); err != nil {
			logger.Warn("failed to record run", "id", rec.ID, "error", err)
		}
	}

	logger.Info("run finished",
		"id", rec.ID,
		"op", rec.Operation,
		"exit", code,
		"severity", msg.Severity.String(),
		"lines", rec.TotalLines(),
		"duration", rec.EndedAt.Sub(rec.StartedAt))

	return code, runErr
}

// drain echoes src to dst line by line and classifies each line. It keeps
// reading after dst fails so the child never blocks on a full pipe.
func (r *Runner) drain(src io.Reader, dst io.Writer, cls *Classifier, queue chan<- notify.Message) error {
	if dst == nil {
		dst = io.Discard
	}
	br := bufio.NewReaderSize(src, 64*1024)

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if dst != io.Discard {
				if _, werr := io.WriteString(dst, line); werr != nil {
					r.logger().Warn("echo failed, discarding further output", "error", werr)
					dst = io.Discard
				}
			}

			text := strings.TrimRight(line, "\r\n")
			r.record.addLine(text)
			for _, msg := range cls.Line(text) {
				select {
				case queue <- msg:
				default:
					r.logger().Warn("verbose notification dropped", "line", text)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read child output: %w", err)
		}
	}
}

// forward sends sig to the child's process group, falling back to the
// child alone.
func forward(logger *slog.Logger, proc *os.Process, sig os.Signal) {
	logger.Info("forwarding signal", "signal", sig, "pid", proc.Pid)

	if s, ok := sig.(syscall.Signal); ok {
		if err := unix.Kill(-proc.Pid, s); err == nil {
			return
		}
	}
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("forward signal failed", "signal", sig, "error", err)
	}
}

// exitStatus maps the result of Wait to a shell-style exit code.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
