package app

import (
	"errors"
	"strings"
	"testing"
)

func TestEnableDisable(t *testing.T) {
	s := newTestSetup(t)

	out := captureStdout(t, func() {
		if err := runDisable(disableCmd, nil); err != nil {
			t.Errorf("runDisable() error = %v", err)
		}
	})
	if !strings.Contains(out, "disabled") || !strings.Contains(out, "Daemon is not running") {
		t.Errorf("unexpected disable output: %q", out)
	}

	st := s.store(t)
	enabled, err := st.Enabled()
	if err != nil || enabled {
		t.Fatalf("Enabled() after disable = %v, %v", enabled, err)
	}

	out = captureStdout(t, func() {
		if err := runEnable(enableCmd, nil); err != nil {
			t.Errorf("runEnable() error = %v", err)
		}
	})
	if !strings.Contains(out, "enabled") {
		t.Errorf("unexpected enable output: %q", out)
	}

	enabled, err = st.Enabled()
	if err != nil || !enabled {
		t.Errorf("Enabled() after enable = %v, %v", enabled, err)
	}
}

func TestRunStart_RefusedWhenDisabled(t *testing.T) {
	s := newTestSetup(t)
	if err := s.store(t).SetEnabled(false); err != nil {
		t.Fatal(err)
	}

	if err := runStart(startCmd, nil); !errors.Is(err, errDisabled) {
		t.Errorf("runStart() error = %v, want errDisabled", err)
	}
}

func TestRunStart_AlreadyRunning(t *testing.T) {
	s := newTestSetup(t)
	s.fakeDaemon(t)

	err := runStart(startCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("runStart() error = %v, want already running", err)
	}
}

func TestRunStop_NotRunning(t *testing.T) {
	newTestSetup(t)

	out := captureStdout(t, func() {
		if err := runStop(stopCmd, nil); err != nil {
			t.Errorf("runStop() error = %v", err)
		}
	})
	if !strings.Contains(out, "Daemon is not running") {
		t.Errorf("unexpected stop output: %q", out)
	}
}

func TestLifecycle_InvalidConfig(t *testing.T) {
	oldConfig := configPath
	defer func() { configPath = oldConfig }()
	configPath = "/nonexistent/dupwrap/config.yaml"

	for name, run := range map[string]func() error{
		"start":   func() error { return runStart(startCmd, nil) },
		"stop":    func() error { return runStop(stopCmd, nil) },
		"enable":  func() error { return runEnable(enableCmd, nil) },
		"disable": func() error { return runDisable(disableCmd, nil) },
	} {
		if err := run(); err == nil {
			t.Errorf("%s with missing config: expected error", name)
		}
	}
}
