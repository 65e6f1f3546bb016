package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/dupwrap/internal/linkstate"
	"github.com/blackwell-systems/dupwrap/internal/notify"
	"github.com/blackwell-systems/dupwrap/internal/version"
)

// countingLinker records the transitions the watcher asks for.
type countingLinker struct {
	*linkstate.Topology

	mu      sync.Mutex
	wraps   []string
	unwraps []string
}

func (c *countingLinker) Wrap(v version.Version) error {
	c.mu.Lock()
	c.wraps = append(c.wraps, v.Name)
	c.mu.Unlock()
	return c.Topology.Wrap(v)
}

func (c *countingLinker) Unwrap(v version.Version) error {
	c.mu.Lock()
	c.unwraps = append(c.unwraps, v.Name)
	c.mu.Unlock()
	return c.Topology.Unwrap(v)
}

func (c *countingLinker) calls() (wraps, unwraps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.wraps...), append([]string(nil), c.unwraps...)
}

type testEnv struct {
	root    string
	binDir  string
	storage string
	host    string
	shim    string
	linker  *countingLinker
	rec     *notify.Recorder
	w       *Watcher
}

func newTestEnv(t *testing.T, createBinDir bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		root:    root,
		binDir:  filepath.Join(root, "web", "bin"),
		storage: filepath.Join(root, "dupwrap", "bin"),
		host:    filepath.Join(root, "usr", "bin", "duplicacy"),
		rec:     &notify.Recorder{},
	}
	env.shim = filepath.Join(env.storage, "dupwrap-shim")

	dirs := []string{env.storage, filepath.Dir(env.host), filepath.Dir(env.binDir)}
	if createBinDir {
		dirs = append(dirs, env.binDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(env.shim, []byte("#!/bin/sh\necho shim\n"), 0755); err != nil {
		t.Fatalf("write shim: %v", err)
	}

	env.linker = &countingLinker{Topology: linkstate.New(env.binDir, env.storage, env.host, env.shim)}
	w, err := New(Options{
		BinDir:      env.binDir,
		Product:     "duplicacy",
		VanishGrace: 300 * time.Millisecond,
		Settle:      20 * time.Millisecond,
	}, env.linker, env.rec, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.w = w
	return env
}

func (e *testEnv) addBinary(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.binDir, name), []byte("#!/bin/sh\necho "+name+"\n"), 0755); err != nil {
		t.Fatalf("write binary %s: %v", name, err)
	}
}

// start runs the watcher in the background; the returned stop function
// cancels it and waits for Run to return.
func (e *testEnv) start(t *testing.T) (stop func() error, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- e.w.Run(ctx) }()

	var once sync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-ch:
			case <-time.After(10 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		})
		return result
	}
	t.Cleanup(func() { stop() })
	return stop, ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *testEnv) wrappedAs(name string) func() bool {
	return func() bool {
		cur := e.w.Current()
		return cur != nil && cur.Name == name && e.w.State() == Wrapped
	}
}

func messages(rec *notify.Recorder) []string {
	var out []string
	for _, m := range rec.Messages() {
		out = append(out, m.Severity.String()+": "+m.Text)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{BinDir: "/x"}, nil, nil, nil); err == nil {
		t.Error("New() with nil linker should fail")
	}
	topo := linkstate.New("/a", "/b", "/c", "/d")
	if _, err := New(Options{}, topo, nil, nil); err == nil {
		t.Error("New() without bin dir should fail")
	}

	w, err := New(Options{BinDir: "/a/"}, topo, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.State() != Unwrapped || w.Current() != nil {
		t.Errorf("initial state = %v, current = %v", w.State(), w.Current())
	}
	if w.opts.Product != "duplicacy" || w.opts.VanishGrace != 10*time.Second {
		t.Errorf("defaults not applied: %+v", w.opts)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{Unwrapped: "unwrapped", Wrapped: "wrapped", Terminating: "terminating"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestRun_WrapsNewestOnStart(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.2")
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	env.start(t)
	waitFor(t, "3.2.3 wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	v, _ := version.Parse("duplicacy_linux_x64_3.2.3", "duplicacy")
	if got := env.linker.Inspect(v); got != linkstate.Wrapped {
		t.Errorf("Inspect() = %v, want wrapped", got)
	}
	if target, _ := os.Readlink(env.host); target != filepath.Join(env.storage, "duplicacy_linux_x64_3.2.3") {
		t.Errorf("host link -> %q, want preserved 3.2.3", target)
	}
	waitFor(t, "wrapped notification", func() bool { return len(env.rec.Messages()) == 1 })
	if got := messages(env.rec); got[0] != "information: wrapped duplicacy_linux_x64_3.2.3" {
		t.Errorf("notification = %q", got[0])
	}
}

func TestRun_SelfHealsAcrossUpgrade(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	env.start(t)
	waitFor(t, "3.2.3 wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))
	waitFor(t, "first notification", func() bool { return len(env.rec.Messages()) == 1 })

	// The application removes the old version and downloads a newer one.
	if err := os.Remove(filepath.Join(env.binDir, "duplicacy_linux_x64_3.2.3")); err != nil {
		t.Fatal(err)
	}
	env.addBinary(t, "duplicacy_linux_x64_3.2.4")

	waitFor(t, "3.2.4 wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.4"))
	// Let any trailing events settle.
	time.Sleep(200 * time.Millisecond)

	wraps, unwraps := env.linker.calls()
	if len(unwraps) != 1 || unwraps[0] != "duplicacy_linux_x64_3.2.3" {
		t.Errorf("unwraps = %v, want exactly [3.2.3]", unwraps)
	}
	if len(wraps) != 2 || wraps[1] != "duplicacy_linux_x64_3.2.4" {
		t.Errorf("wraps = %v, want [3.2.3 3.2.4]", wraps)
	}

	got := messages(env.rec)
	if len(got) != 2 || got[1] != "information: wrapped duplicacy_linux_x64_3.2.4" {
		t.Errorf("notifications = %v", got)
	}

	// The preserved copy of the deleted version is pruned.
	if _, err := os.Lstat(filepath.Join(env.storage, "duplicacy_linux_x64_3.2.3")); !os.IsNotExist(err) {
		t.Errorf("stale preserved binary still present: %v", err)
	}
}

func TestRun_RewrapsReplacedSlot(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	env.start(t)
	waitFor(t, "wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	// The application re-downloads the same version over the shim link.
	slot := filepath.Join(env.binDir, "duplicacy_linux_x64_3.2.3")
	if err := os.Remove(slot); err != nil {
		t.Fatal(err)
	}
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	waitFor(t, "slot linked to shim again", func() bool {
		target, err := os.Readlink(slot)
		return err == nil && target == env.shim
	})
}

func TestRun_AdoptsExistingWrap(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")
	v, _ := version.Parse("duplicacy_linux_x64_3.2.3", "duplicacy")
	if err := env.linker.Topology.Wrap(v); err != nil {
		t.Fatalf("pre-wrap: %v", err)
	}

	env.start(t)
	waitFor(t, "adopted", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	if n := len(env.rec.Messages()); n != 0 {
		t.Errorf("adoption sent %d notifications, want 0", n)
	}
}

func TestRun_ShutdownRestoresHostLink(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	stop, _ := env.start(t)
	waitFor(t, "wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	slot := filepath.Join(env.binDir, "duplicacy_linux_x64_3.2.3")
	info, err := os.Lstat(slot)
	if err != nil || !info.Mode().IsRegular() {
		t.Fatalf("slot should be the real binary again: %v %v", info, err)
	}
	if target, _ := os.Readlink(env.host); target != slot {
		t.Errorf("host link -> %q, want %q", target, slot)
	}
	if env.w.State() != Terminating {
		t.Errorf("State() = %v, want terminating", env.w.State())
	}

	got := messages(env.rec)
	if last := got[len(got)-1]; last != "information: restored duplicacy_linux_x64_3.2.3" {
		t.Errorf("last notification = %q", last)
	}
}

func TestRun_ShutdownWithoutBinary(t *testing.T) {
	env := newTestEnv(t, true)

	stop, _ := env.start(t)
	time.Sleep(50 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := messages(env.rec)
	if len(got) != 1 || !strings.HasPrefix(got[0], "error: no executable duplicacy binary in ") {
		t.Errorf("notifications = %v", got)
	}
}

func TestRun_WaitsForBinDir(t *testing.T) {
	env := newTestEnv(t, false)

	env.start(t)
	time.Sleep(50 * time.Millisecond)
	if env.w.State() != Unwrapped {
		t.Fatalf("State() = %v before bin dir exists", env.w.State())
	}

	if err := os.MkdirAll(env.binDir, 0755); err != nil {
		t.Fatal(err)
	}
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	waitFor(t, "wrapped after dir appeared", env.wrappedAs("duplicacy_linux_x64_3.2.3"))
}

func TestRun_BinDirVanishes(t *testing.T) {
	env := newTestEnv(t, true)
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	_, done := env.start(t)
	waitFor(t, "wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	if err := os.RemoveAll(env.binDir); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the bin dir vanished")
	}

	got := messages(env.rec)
	if last := got[len(got)-1]; !strings.HasPrefix(last, "error: ") || !strings.Contains(last, "disappeared") {
		t.Errorf("last notification = %q", last)
	}
}

func TestRun_BinDirComesBackWithinGrace(t *testing.T) {
	env := newTestEnv(t, true)
	env.w.opts.VanishGrace = 5 * time.Second
	env.addBinary(t, "duplicacy_linux_x64_3.2.3")

	_, done := env.start(t)
	waitFor(t, "wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.3"))

	if err := os.RemoveAll(env.binDir); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.MkdirAll(env.binDir, 0755); err != nil {
		t.Fatal(err)
	}
	env.addBinary(t, "duplicacy_linux_x64_3.2.5")

	waitFor(t, "3.2.5 wrapped", env.wrappedAs("duplicacy_linux_x64_3.2.5"))
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
}

func mustVersion(t *testing.T, name string) version.Version {
	t.Helper()
	v, ok := version.Parse(name, "duplicacy")
	if !ok {
		t.Fatalf("parse %q failed", name)
	}
	return v
}
