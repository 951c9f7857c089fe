// Package drivertype classifies device nodes against the kernel's TTY driver
// table. The table maps major numbers and minor ranges to driver classes,
// which is what distinguishes serial hardware from the rest of /dev.
package drivertype

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDriversFile describes every registered TTY driver and the device
// numbers it serves.
const DefaultDriversFile = "/proc/tty/drivers"

// ErrDriverNotFound is returned when no driver table entry covers the device
// numbers of a node, even after re-reading the table.
var ErrDriverNotFound = errors.New("tty driver not found")

type driverInfo struct {
	major      uint32
	minorLo    uint32
	minorHi    uint32
	driverType string
}

// Finder resolves a device node path to the type of the TTY driver backing
// it. The driver table is cached and re-read once whenever a lookup misses,
// so drivers loaded after startup are still found.
type Finder struct {
	driversFile string

	mu    sync.Mutex
	cache []driverInfo
}

// New creates a Finder over the system driver table.
func New() *Finder {
	return NewFromFile(DefaultDriversFile)
}

// NewFromFile creates a Finder reading the driver table from path.
func NewFromFile(path string) *Finder {
	return &Finder{driversFile: path}
}

// Find returns the driver type for the device node at devnodePath.
func (f *Finder) Find(devnodePath string) (string, error) {
	major, minor, err := devnum(devnodePath)
	if err != nil {
		return "", err
	}
	return f.FindByDevnum(major, minor)
}

// FindByDevnum looks up the driver type for a (major, minor) pair. On a cache
// miss the driver table is reloaded and the lookup retried exactly once.
func (f *Finder) FindByDevnum(major, minor uint32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.lookup(major, minor); ok {
		return t, nil
	}
	if err := f.reload(); err != nil {
		return "", fmt.Errorf("%w: device %d:%d: %v", ErrDriverNotFound, major, minor, err)
	}
	if t, ok := f.lookup(major, minor); ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: device %d:%d", ErrDriverNotFound, major, minor)
}

func devnum(devnodePath string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(devnodePath, &st); err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", devnodePath, err)
	}
	rdev := uint64(st.Rdev)
	return unix.Major(rdev), unix.Minor(rdev), nil
}

// lookup scans the cache in table order; the first matching entry wins.
func (f *Finder) lookup(major, minor uint32) (string, bool) {
	for _, d := range f.cache {
		if d.major == major && minor >= d.minorLo && minor <= d.minorHi {
			return d.driverType, true
		}
	}
	return "", false
}

// reload replaces the cache with the current driver table contents. The cache
// is cleared up front, so a failed read or a malformed line leaves it empty
// rather than serving entries from a table we could not parse.
func (f *Finder) reload() error {
	f.cache = nil

	data, err := os.ReadFile(f.driversFile)
	if err != nil {
		return fmt.Errorf("read drivers file: %w", err)
	}

	var drivers []driverInfo
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return fmt.Errorf("drivers file %s: wrong number of fields in line %q", f.driversFile, line)
		}
		major, err := parseUint32(fields[2])
		if err != nil {
			return fmt.Errorf("drivers file %s: bad major in line %q: %w", f.driversFile, line, err)
		}
		minorLo, minorHi, err := parseMinorRange(fields[3])
		if err != nil {
			return fmt.Errorf("drivers file %s: bad minor range in line %q: %w", f.driversFile, line, err)
		}
		// The fifth field may carry a tag after a colon ("pty:slave");
		// only the part before it names the driver type.
		driverType, _, _ := strings.Cut(fields[4], ":")
		drivers = append(drivers, driverInfo{
			major:      major,
			minorLo:    minorLo,
			minorHi:    minorHi,
			driverType: driverType,
		})
	}
	f.cache = drivers
	return nil
}

// parseMinorRange parses "N" or "N-M" into an inclusive range.
func parseMinorRange(s string) (lo, hi uint32, err error) {
	loStr, hiStr, ok := strings.Cut(s, "-")
	if !ok {
		hiStr = loStr
	}
	if lo, err = parseUint32(loStr); err != nil {
		return 0, 0, err
	}
	if hi, err = parseUint32(hiStr); err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
