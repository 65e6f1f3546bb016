package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "information", Information.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "severity(7)", Severity(7).String())
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, Information, Warning)
	assert.Less(t, Warning, Error)
}

func TestParseSeverity(t *testing.T) {
	for _, sev := range []Severity{Information, Warning, Error} {
		got, err := ParseSeverity(sev.String())
		require.NoError(t, err)
		assert.Equal(t, sev, got)
	}

	got, err := ParseSeverity(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, Warning, got)

	_, err = ParseSeverity("fatal")
	require.Error(t, err)
}

func TestSend_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := &Recorder{Err: errors.New("notification center down")}

	Send(context.Background(), rec, logger, "backup finished", Information)

	require.Len(t, rec.Messages(), 1)
	assert.Contains(t, buf.String(), "notification center down")
}

func TestSend_NilNotifier(t *testing.T) {
	assert.NotPanics(t, func() {
		Send(context.Background(), nil, nil, "ignored", Error)
	})
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	first := &Recorder{Err: errors.New("first failed")}
	second := &Recorder{}

	err := Multi{first, second}.Notify(context.Background(), Message{Text: "hi", Severity: Warning})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Len(t, first.Messages(), 1)
	assert.Len(t, second.Messages(), 1)
}

func TestSlog_MapsSeverityToLevel(t *testing.T) {
	var buf bytes.Buffer
	n := Slog{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, n.Notify(context.Background(), Message{Text: "w", Severity: Warning}))
	require.NoError(t, n.Notify(context.Background(), Message{Text: "e", Severity: Error}))

	out := buf.String()
	assert.Contains(t, out, "level=WARN msg=w")
	assert.Contains(t, out, "level=ERROR msg=e")
}

func TestLogTool_Args(t *testing.T) {
	lt := &LogTool{Command: "log_tool", App: "Duplicacy", Category: "Job Status", User: "admin"}

	args := lt.Args(Message{Text: "[duplicacy backup] -log backup", Severity: Error})

	assert.Equal(t, []string{
		"--append", "[duplicacy backup] -log backup",
		"--type", "2",
		"--user", "admin",
		"--app_name", "Duplicacy",
		"-G", "Job Status",
	}, args)
}

func TestLogTool_RunsCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "log_tool")
	body := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + out + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	lt := NewLogTool(script, "Duplicacy", "Job Status")
	require.NoError(t, lt.Notify(context.Background(), Message{Text: "hello", Severity: Warning}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"--append", "hello", "--type", "1"}, lines[:4])
}

func TestLogTool_FailureIncludesOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "log_tool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'unrecognized option' >&2\nexit 3\n"), 0755))

	err := NewLogTool(script, "Duplicacy", "Job Status").Notify(context.Background(), Message{Text: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized option")
}

type fakeEventStore struct {
	rows []string
	err  error
}

func (f *fakeEventStore) InsertEvent(at time.Time, source, severity, text string) error {
	f.rows = append(f.rows, at.Format(time.RFC3339)+"|"+source+"|"+severity+"|"+text)
	return f.err
}

func TestJournal_RecordsThenForwards(t *testing.T) {
	st := &fakeEventStore{}
	next := &Recorder{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &Journal{Store: st, Source: "watcher", Next: next, Now: func() time.Time { return at }}

	require.NoError(t, j.Notify(context.Background(), Message{Text: "wrapped duplicacy_linux_x64_3.2.3", Severity: Information}))

	assert.Equal(t, []string{"2026-03-01T12:00:00Z|watcher|information|wrapped duplicacy_linux_x64_3.2.3"}, st.rows)
	assert.Len(t, next.Messages(), 1)
}

func TestJournal_StoreFailureStillDelivers(t *testing.T) {
	st := &fakeEventStore{err: errors.New("database is locked")}
	next := &Recorder{}
	j := &Journal{Store: st, Source: "shim", Next: next}

	err := j.Notify(context.Background(), Message{Text: "x", Severity: Error})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Len(t, next.Messages(), 1)
}

func TestNew_LogToolMissingFallsBackToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	n := New(BackendLogTool, "definitely-not-a-real-log-tool", "Duplicacy", "Job Status", logger)
	_, ok := n.(Slog)
	require.True(t, ok, "expected Slog fallback, got %T", n)
	assert.Contains(t, buf.String(), "notification command not found")
}

func TestNew_LogToolFound(t *testing.T) {
	n := New(BackendLogTool, "true", "Duplicacy", "Job Status", slog.New(slog.NewTextHandler(io.Discard, nil)))
	lt, ok := n.(*LogTool)
	require.True(t, ok, "expected *LogTool, got %T", n)
	assert.Equal(t, "Duplicacy", lt.App)
	assert.Equal(t, "Job Status", lt.Category)
}

func TestNew_LogBackend(t *testing.T) {
	n := New(BackendLog, "", "", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, ok := n.(Slog)
	assert.True(t, ok)
}
