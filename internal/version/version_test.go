package version

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   Version
	}{
		{
			name:   "linux x64",
			input:  "duplicacy_linux_x64_3.2.3",
			wantOK: true,
			want:   Version{Name: "duplicacy_linux_x64_3.2.3", Product: "duplicacy", Platform: "linux", Arch: "x64", Major: 3, Minor: 2, Patch: 3},
		},
		{
			name:   "arm64 multi-digit",
			input:  "duplicacy_linux_arm64_2.10.0",
			wantOK: true,
			want:   Version{Name: "duplicacy_linux_arm64_2.10.0", Product: "duplicacy", Platform: "linux", Arch: "arm64", Major: 2, Minor: 10, Patch: 0},
		},
		{name: "other product", input: "restic_linux_x64_0.16.0", wantOK: false},
		{name: "missing patch", input: "duplicacy_linux_x64_3.2", wantOK: false},
		{name: "suffix", input: "duplicacy_linux_x64_3.2.3.tmp", wantOK: false},
		{name: "plain name", input: "duplicacy", wantOK: false},
		{name: "prerelease", input: "duplicacy_linux_x64_3.2.3-rc1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input, "duplicacy")
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	mk := func(maj, min, patch int) Version { return Version{Major: maj, Minor: min, Patch: patch} }

	tests := []struct {
		a, b Version
		want int
	}{
		{mk(2, 10, 0), mk(2, 9, 9), 1},
		{mk(2, 9, 9), mk(2, 10, 0), -1},
		{mk(3, 0, 0), mk(2, 99, 99), 1},
		{mk(1, 2, 10), mk(1, 2, 9), 1},
		{mk(1, 2, 3), mk(1, 2, 3), 0},
	}

	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestResolve_PicksNumericallyGreatest(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"duplicacy_linux_x64_2.9.9",
		"duplicacy_linux_x64_2.10.0",
		"duplicacy_linux_x64_2.1.11",
		"README",
	)

	v, err := Resolve(dir, "duplicacy")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v == nil {
		t.Fatal("Resolve returned nil, want 2.10.0")
	}
	if v.Name != "duplicacy_linux_x64_2.10.0" {
		t.Errorf("Resolve = %s, want duplicacy_linux_x64_2.10.0", v.Name)
	}
}

func TestResolve_MissingDirIsAbsent(t *testing.T) {
	v, err := Resolve(filepath.Join(t.TempDir(), "nope"), "duplicacy")
	if err != nil {
		t.Errorf("Resolve error = %v, want nil", err)
	}
	if v != nil {
		t.Errorf("Resolve = %+v, want nil", v)
	}
}

func TestResolve_NoMatchesIsAbsent(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "something_else", "duplicacy.log")

	v, err := Resolve(dir, "duplicacy")
	if err != nil {
		t.Errorf("Resolve error = %v, want nil", err)
	}
	if v != nil {
		t.Errorf("Resolve = %+v, want nil", v)
	}
}

func TestResolve_TieLastListedWins(t *testing.T) {
	dir := t.TempDir()
	// ReadDir lists in filename order: arm64 before x64.
	touch(t, dir, "duplicacy_linux_arm64_3.2.3", "duplicacy_linux_x64_3.2.3")

	v, err := Resolve(dir, "duplicacy")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v == nil || v.Name != "duplicacy_linux_x64_3.2.3" {
		t.Errorf("Resolve = %+v, want duplicacy_linux_x64_3.2.3", v)
	}
}

func TestResolve_IncludesSymlinks(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "duplicacy_linux_x64_3.1.0")
	if err := os.Symlink("/nonexistent/shim", filepath.Join(dir, "duplicacy_linux_x64_3.2.0")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	v, err := Resolve(dir, "duplicacy")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v == nil || v.Name != "duplicacy_linux_x64_3.2.0" {
		t.Errorf("Resolve = %+v, want the wrapped 3.2.0 entry", v)
	}
}
