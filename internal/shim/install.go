// Package shim installs the dupwrap-shim executable that the supervisor
// links into duplicacy binary slots.
//
// The supervisor symlinks every wrapped slot to one installed copy at
// paths.shim. That copy lives outside the bin directory so a Web Edition
// upgrade, which replaces bin directory entries, cannot remove it.
package shim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/blackwell-systems/dupwrap/internal/linkstate"
)

// BinaryName is the file name the shim is built and shipped under.
const BinaryName = "dupwrap-shim"

// ErrNotFound is returned when no shim executable can be located to
// install from.
var ErrNotFound = errors.New(BinaryName + " executable not found")

// Locate finds the shim executable to install from: next to self (the
// running dupwrap binary, as after `go install ./...` or a release
// archive), then on PATH.
func Locate(self string) (string, error) {
	if self != "" {
		candidate := filepath.Join(filepath.Dir(self), BinaryName)
		if linkstate.Executable(candidate) {
			return candidate, nil
		}
	}
	if found, err := exec.LookPath(BinaryName); err == nil {
		return found, nil
	}
	return "", fmt.Errorf("%w next to %s or on PATH", ErrNotFound, self)
}

// Install copies src to dst atomically and makes it executable. Installing
// a file over itself does nothing.
func Install(src, dst string) error {
	if same(src, dst) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(dst), err)
	}

	tmp := fmt.Sprintf("%s.dupwrap-install-%d", dst, os.Getpid())
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install %s: %w", dst, err)
	}
	return nil
}

// Ensure installs the shim at dst unless an executable is already there.
// It reports whether it installed one.
func Ensure(dst, self string) (bool, error) {
	if linkstate.Executable(dst) {
		return false, nil
	}
	src, err := Locate(self)
	if err != nil {
		return false, err
	}
	if err := Install(src, dst); err != nil {
		return false, err
	}
	return true, nil
}

// HostLinkOnPath reports whether the directory of hostLink is on PATH, so
// that a plain `duplicacy` on the command line reaches the real binary.
// Returns (true, "") on success, or (false, reason) explaining what needs
// fixing.
func HostLinkOnPath(hostLink string) (bool, string) {
	dir := filepath.Dir(hostLink)
	for _, p := range filepath.SplitList(os.Getenv("PATH")) {
		if filepath.Clean(p) == dir {
			return true, ""
		}
	}
	return false, fmt.Sprintf("%s is not on PATH:\n  export PATH=%q:$PATH", dir, dir)
}

func same(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("open dest: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
