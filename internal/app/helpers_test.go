package app

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/store"
)

// testSetup points the package at a config whose paths all live under a
// temp dir.
type testSetup struct {
	root string
	cfg  *config.Config
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	root := t.TempDir()

	cfgFile := filepath.Join(root, "config.yaml")
	yaml := fmt.Sprintf(`product: duplicacy
paths:
  bin_dir: %[1]s/web/bin
  storage_dir: %[1]s/dupwrap/bin
  host_link: %[1]s/usr/local/bin/duplicacy
  shim: %[1]s/dupwrap/bin/dupwrap-shim
  db: %[1]s/dupwrap/dupwrap.db
  pid_file: %[1]s/dupwrap/watch.pid
  log_file: %[1]s/dupwrap/watch.log
  shim_log: %[1]s/dupwrap/shim.log
watcher:
  stop_timeout: 5s
notify:
  backend: log
`, root)
	if err := os.WriteFile(cfgFile, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	oldConfig, oldVerbose := configPath, verbose
	configPath, verbose = cfgFile, false
	t.Cleanup(func() { configPath, verbose = oldConfig, oldVerbose })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	for _, dir := range []string{cfg.Paths.BinDir, cfg.Paths.StorageDir, filepath.Dir(cfg.Paths.HostLink)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(cfg.Paths.Shim, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write shim: %v", err)
	}

	return &testSetup{root: root, cfg: cfg}
}

func (s *testSetup) addBinary(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(s.cfg.Paths.BinDir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho "+name+"\n"), 0755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	return path
}

func (s *testSetup) store(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(s.cfg.Paths.DB)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeDaemon makes the current test process look like a running daemon.
func (s *testSetup) fakeDaemon(t *testing.T) {
	t.Helper()
	if err := os.WriteFile(s.cfg.Paths.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		t.Fatalf("write PID file: %v", err)
	}
}

func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(r)
		done <- buf.String()
	}()

	defer func() { os.Stdout = orig }()
	f()
	w.Close()
	return <-done
}
