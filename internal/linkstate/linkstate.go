// Package linkstate manages the on-disk symlink topology that routes the
// management application through the interception shim.
//
// Three paths are involved for a given binary version:
//   - the slot: <BinDir>/<name>, where the management application expects
//     the real CLI. Unwrapped it is the real executable; wrapped it is a
//     symlink to the shim.
//   - the preserved binary: <StorageDir>/<name>, the real executable held
//     in supervisor-owned storage while wrapped.
//   - the host link: the path operators and the host invoke directly
//     (e.g. /usr/local/bin/duplicacy). Wrapped it points at the preserved
//     binary.
//
// Every replacement goes through a temp name followed by rename(2), so no
// path ever resolves to a missing target mid-transition.
package linkstate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/blackwell-systems/dupwrap/internal/version"
)

// Topology-conflict errors: the requested transition does not match the
// current state. The caller has an ordering bug or something else is
// mutating the directory.
var (
	ErrAlreadyWrapped = errors.New("already wrapped")
	ErrNotWrapped     = errors.New("not wrapped")
	ErrForeignLink    = errors.New("slot is a symlink not pointing at the shim")
)

// Missing-artifact errors.
var (
	ErrMissingBinary    = errors.New("binary not found")
	ErrMissingPreserved = errors.New("preserved binary not found")
	ErrHostNotLink      = errors.New("host link path is occupied by a regular file")
)

// IsConflict reports whether err is a topology-conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyWrapped) ||
		errors.Is(err, ErrNotWrapped) ||
		errors.Is(err, ErrForeignLink)
}

// State describes the slot of a single binary version.
type State int

const (
	Missing State = iota
	Unwrapped
	Wrapped
	Foreign
)

func (s State) String() string {
	switch s {
	case Unwrapped:
		return "unwrapped"
	case Wrapped:
		return "wrapped"
	case Foreign:
		return "foreign"
	default:
		return "missing"
	}
}

type hostTarget struct {
	path   string
	exists bool
}

// Topology holds the paths of the link layout and the host link targets
// that existed before each wrap. It is not safe for concurrent use; the
// watcher serializes all transitions.
type Topology struct {
	BinDir     string
	StorageDir string
	HostLink   string
	ShimPath   string

	prior map[string]hostTarget
}

// New creates a Topology for the given paths.
func New(binDir, storageDir, hostLink, shimPath string) *Topology {
	return &Topology{
		BinDir:     binDir,
		StorageDir: storageDir,
		HostLink:   hostLink,
		ShimPath:   shimPath,
		prior:      make(map[string]hostTarget),
	}
}

// Slot returns the managed-directory path for v.
func (t *Topology) Slot(v version.Version) string {
	return filepath.Join(t.BinDir, v.Name)
}

// Preserved returns the supervisor-storage path for v.
func (t *Topology) Preserved(v version.Version) string {
	return filepath.Join(t.StorageDir, v.Name)
}

// Inspect reports the current state of v's slot.
func (t *Topology) Inspect(v version.Version) State {
	slot := t.Slot(v)
	info, err := os.Lstat(slot)
	if err != nil {
		return Missing
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return Unwrapped
	}
	target, err := os.Readlink(slot)
	if err != nil {
		return Foreign
	}
	if samePath(t.BinDir, target, t.ShimPath) {
		return Wrapped
	}
	return Foreign
}

// HostTarget returns the current target of the host link, or "" when the
// host link is absent or not a symlink.
func (t *Topology) HostTarget() string {
	target, err := os.Readlink(t.HostLink)
	if err != nil {
		return ""
	}
	return target
}

// Wrap installs the shim in front of v.
func (t *Topology) Wrap(v version.Version) error {
	switch t.Inspect(v) {
	case Missing:
		return fmt.Errorf("wrap %s: %w", v.Name, ErrMissingBinary)
	case Wrapped:
		return fmt.Errorf("wrap %s: %w", v.Name, ErrAlreadyWrapped)
	case Foreign:
		return fmt.Errorf("wrap %s: %w", v.Name, ErrForeignLink)
	}

	prior, err := readHost(t.HostLink)
	if err != nil {
		return fmt.Errorf("wrap %s: %w", v.Name, err)
	}

	if err := os.MkdirAll(t.StorageDir, 0755); err != nil {
		return fmt.Errorf("wrap %s: create storage dir: %w", v.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(t.HostLink), 0755); err != nil {
		return fmt.Errorf("wrap %s: create host link dir: %w", v.Name, err)
	}

	slot, preserved := t.Slot(v), t.Preserved(v)

	if err := placeFile(slot, preserved); err != nil {
		return fmt.Errorf("wrap %s: preserve binary: %w", v.Name, err)
	}

	if err := swapSymlink(preserved, t.HostLink); err != nil {
		os.Remove(preserved)
		return fmt.Errorf("wrap %s: link host: %w", v.Name, err)
	}

	if err := swapSymlink(t.ShimPath, slot); err != nil {
		t.restoreHost(prior, preserved)
		os.Remove(preserved)
		return fmt.Errorf("wrap %s: install shim: %w", v.Name, err)
	}

	// A host link already at our own preserved copy means v was wrapped
	// before and its slot replaced since. Keep the target recorded then;
	// Unwrap falls back to the slot when none was recorded.
	if prior.exists && samePath(filepath.Dir(t.HostLink), prior.path, preserved) {
		return nil
	}
	t.prior[v.Name] = prior
	return nil
}

// Unwrap removes the shim from in front of v and puts the real binary
// back in its slot. The host link is restored to the target it had before
// Wrap, or removed if it did not exist. If v was wrapped by a previous
// supervisor process the prior target is unknown and the host link is
// pointed at the restored slot.
func (t *Topology) Unwrap(v version.Version) error {
	switch t.Inspect(v) {
	case Missing:
		return fmt.Errorf("unwrap %s: %w", v.Name, ErrMissingBinary)
	case Unwrapped:
		return fmt.Errorf("unwrap %s: %w", v.Name, ErrNotWrapped)
	case Foreign:
		return fmt.Errorf("unwrap %s: %w", v.Name, ErrForeignLink)
	}

	slot, preserved := t.Slot(v), t.Preserved(v)
	if _, err := os.Lstat(preserved); err != nil {
		return fmt.Errorf("unwrap %s: %w", v.Name, ErrMissingPreserved)
	}

	if err := placeFile(preserved, slot); err != nil {
		return fmt.Errorf("unwrap %s: restore binary: %w", v.Name, err)
	}

	prior, known := t.prior[v.Name]
	if !known || (prior.exists && t.prunedTarget(prior.path)) {
		prior = hostTarget{path: slot, exists: true}
	}
	if err := t.restoreHost(prior, preserved); err != nil {
		return fmt.Errorf("unwrap %s: restore host link: %w", v.Name, err)
	}

	if err := os.Remove(preserved); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unwrap %s: remove preserved binary: %w", v.Name, err)
	}

	delete(t.prior, v.Name)
	return nil
}

// Relink atomically points the host link at path.
func (t *Topology) Relink(path string) error {
	if _, err := readHost(t.HostLink); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.HostLink), 0755); err != nil {
		return fmt.Errorf("create host link dir: %w", err)
	}
	if err := swapSymlink(path, t.HostLink); err != nil {
		return fmt.Errorf("relink %s: %w", t.HostLink, err)
	}
	return nil
}

// Prune removes preserved binaries of keep's product other than keep
// itself. A preserved binary the host link still points at is left alone.
// Returns the removed paths.
func (t *Topology) Prune(keep version.Version) ([]string, error) {
	entries, err := os.ReadDir(t.StorageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	current := t.HostTarget()
	var removed []string
	for _, entry := range entries {
		if entry.Name() == keep.Name {
			continue
		}
		if _, ok := version.Parse(entry.Name(), keep.Product); !ok {
			continue
		}
		path := filepath.Join(t.StorageDir, entry.Name())
		if current != "" && samePath(filepath.Dir(t.HostLink), current, path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		delete(t.prior, entry.Name())
		removed = append(removed, path)
	}
	return removed, nil
}

// Executable reports whether path resolves to a regular file the current
// user may execute.
func Executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// restoreHost puts the host link back to prior, but only while it still
// points at preserved; a host link changed by someone else is left alone.
func (t *Topology) restoreHost(prior hostTarget, preserved string) error {
	current := t.HostTarget()
	if current == "" || !samePath(filepath.Dir(t.HostLink), current, preserved) {
		return nil
	}
	if !prior.exists {
		if err := os.Remove(t.HostLink); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return swapSymlink(prior.path, t.HostLink)
}

// readHost returns the current host link target. A regular file at the
// host link path is refused rather than overwritten.
func readHost(hostLink string) (hostTarget, error) {
	info, err := os.Lstat(hostLink)
	if os.IsNotExist(err) {
		return hostTarget{}, nil
	}
	if err != nil {
		return hostTarget{}, fmt.Errorf("stat host link: %w", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return hostTarget{}, fmt.Errorf("%s: %w", hostLink, ErrHostNotLink)
	}
	target, err := os.Readlink(hostLink)
	if err != nil {
		return hostTarget{}, fmt.Errorf("read host link: %w", err)
	}
	return hostTarget{path: target, exists: true}, nil
}

// samePath reports whether a symlink target (relative to base when not
// absolute) names path.
func samePath(base, target, path string) bool {
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	return filepath.Clean(target) == filepath.Clean(path)
}

// swapSymlink atomically makes link a symlink to target.
func swapSymlink(target, link string) error {
	tmp := tempName(link, "link")
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// placeFile atomically makes dst refer to the contents of src, leaving src
// in place. A hard link is used when possible; across filesystems the file
// is copied with its permission bits.
func placeFile(src, dst string) error {
	tmp := tempName(dst, "bin")
	os.Remove(tmp)
	if err := os.Link(src, tmp); err != nil {
		if err := copyFile(src, tmp); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// tempName returns a hidden sibling of path. The leading dot keeps it out
// of version resolution.
func tempName(path, kind string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".dupwrap-"+kind)
}

// copyFile copies src to dst with src's permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("open dest: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close dest: %w", err)
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// prunedTarget reports whether a host link target names a preserved binary
// in StorageDir that no longer exists. Restoring such a target would leave
// the host link dangling.
func (t *Topology) prunedTarget(target string) bool {
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(t.HostLink), target)
	}
	if filepath.Dir(filepath.Clean(target)) != filepath.Clean(t.StorageDir) {
		return false
	}
	_, err := os.Lstat(target)
	return os.IsNotExist(err)
}
