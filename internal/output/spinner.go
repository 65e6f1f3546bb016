package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a terminal. Writers without an Fd
// method, such as *bytes.Buffer, are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Spinner shows an animated indicator while a daemon starts or stops.
// On a non-terminal writer it prints the message once and stays quiet.
type Spinner struct {
	mu      sync.Mutex
	message string
	frames  []string
	writer  io.Writer
	running bool
	done    chan struct{}
	started time.Time
	elapsed bool
}

// NewSpinner returns a stopped spinner writing to stdout.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
		writer:  os.Stdout,
	}
}

// ShowElapsed appends "(Ns)" to the message while running. Call before
// Start.
func (s *Spinner) ShowElapsed() *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = true
	return s
}

// SetWriter sets the output writer.
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the animation. Calling Start on a running spinner does
// nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.started = time.Now()
	s.done = make(chan struct{})

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	go s.animate(s.done)
}

func (s *Spinner) animate(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprintf(s.writer, "\r%s  %s", s.frames[i%len(s.frames)], s.text())
			s.mu.Unlock()
		}
	}
}

// text must be called with s.mu held.
func (s *Spinner) text() string {
	if !s.elapsed {
		return s.message
	}
	return fmt.Sprintf("%s (%ds)", s.message, int(time.Since(s.started).Seconds()))
}

// Stop ends the animation and clears the line on a terminal.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.done)

	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.text())+4))
	}
}

// StopWithMessage stops the spinner and prints message on its own line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
