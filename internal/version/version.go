// Package version finds the newest CLI binary in a managed directory.
//
// Binaries are named <product>_<platform>_<arch>_<major>.<minor>.<patch>,
// e.g. duplicacy_linux_x64_3.2.3. The naming convention and the numeric
// ordering are load-bearing: the management application downloads new
// releases under these names and always runs the newest one.
package version

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Version is a parsed binary filename.
type Version struct {
	Name     string
	Product  string
	Platform string
	Arch     string
	Major    int
	Minor    int
	Patch    int
}

// String returns the dotted version triple.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var nameRe = regexp.MustCompile(`^([A-Za-z0-9-]+)_([A-Za-z0-9]+)_([A-Za-z0-9]+)_(\d+)\.(\d+)\.(\d+)$`)

// Parse parses a binary filename. It reports false when name does not
// follow the naming convention or belongs to another product.
func Parse(name, product string) (Version, bool) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil || m[1] != product {
		return Version{}, false
	}

	nums := make([]int, 3)
	for i := range nums {
		n, err := strconv.Atoi(m[4+i])
		if err != nil {
			return Version{}, false
		}
		nums[i] = n
	}

	return Version{
		Name:     name,
		Product:  m[1],
		Platform: m[2],
		Arch:     m[3],
		Major:    nums[0],
		Minor:    nums[1],
		Patch:    nums[2],
	}, true
}

// Compare compares the version triples of a and b numerically.
// Returns 1 if a > b, -1 if a < b, 0 if equal.
func Compare(a, b Version) int {
	pairs := [3][2]int{{a.Major, b.Major}, {a.Minor, b.Minor}, {a.Patch, b.Patch}}
	for _, p := range pairs {
		switch {
		case p[0] > p[1]:
			return 1
		case p[0] < p[1]:
			return -1
		}
	}
	return 0
}

// Resolve returns the newest binary for product in dir.
//
// A missing directory or a directory without matching entries is an
// expected state (e.g. mid-upgrade) and yields (nil, nil). On an exact
// tie the entry that comes later in listing order wins.
func Resolve(dir, product string) (*Version, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var best *Version
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		v, ok := Parse(entry.Name(), product)
		if !ok {
			continue
		}
		if best == nil || Compare(v, *best) >= 0 {
			best = &v
		}
	}
	return best, nil
}
