package interceptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/blackwell-systems/dupwrap/internal/linkstate"
)

// ErrNoRealBinary is returned when no real duplicacy binary can be found
// for an interceptor invocation.
var ErrNoRealBinary = errors.New("no real duplicacy binary found")

// FindReal locates the real binary for an interceptor started as argv0.
//
// The preserved copy in storageDir named like argv0 is preferred, since the
// bin dir entry the management application ran is the slot for exactly
// that version. The host link is the fallback. Candidates that resolve to
// self (the interceptor's own executable) are skipped so a broken topology
// cannot make the interceptor exec itself.
func FindReal(argv0, storageDir, hostLink, self string) (string, error) {
	selfResolved := resolve(self)

	var candidates []string
	if base := filepath.Base(argv0); base != "" && base != "." && base != "/" {
		candidates = append(candidates, filepath.Join(storageDir, base))
	}
	if hostLink != "" {
		candidates = append(candidates, hostLink)
	}

	for _, c := range candidates {
		if selfResolved != "" && resolve(c) == selfResolved {
			continue
		}
		if linkstate.Executable(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w for %s (looked in %s and %s)", ErrNoRealBinary, filepath.Base(argv0), storageDir, hostLink)
}

func resolve(path string) string {
	if path == "" {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	return resolved
}

// Exec replaces the current process with the real binary. argv0 is kept so
// the binary sees the name it was invoked under. Exec only returns on
// failure.
func Exec(binary, argv0 string, args []string) error {
	argv := append([]string{argv0}, args...)
	if err := unix.Exec(binary, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	return nil
}
