// Package sysfs gives read access to the kernel's device attribute tree:
// per-device attribute files, subsystem links, and ancestry traversal. It is
// deliberately narrow; only the lookups the port registry needs are covered.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Device points at one directory in the attribute tree. The root is kept
// separate from the device path so tests can run against a fixture tree
// instead of /sys.
type Device struct {
	root    string
	syspath string
}

// New returns a Device for the directory at syspath inside the tree rooted
// at root.
func New(root, syspath string) *Device {
	return &Device{root: filepath.Clean(root), syspath: filepath.Clean(syspath)}
}

// Path returns the device's directory path.
func (d *Device) Path() string {
	return d.syspath
}

// Subsystem returns the device's bus classification, i.e. the basename of
// its "subsystem" link target.
func (d *Device) Subsystem() (string, error) {
	target, err := os.Readlink(filepath.Join(d.syspath, "subsystem"))
	if err != nil {
		return "", fmt.Errorf("read subsystem link of %s: %w", d.syspath, err)
	}
	return filepath.Base(target), nil
}

// Attr returns the contents of the named attribute file, trimmed of
// surrounding whitespace.
func (d *Device) Attr(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.syspath, name))
	if err != nil {
		return "", fmt.Errorf("read attribute %s of %s: %w", name, d.syspath, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// BackingDevice follows the "device" entry to the physical device behind a
// class node. Returns nil for virtual devices that have none.
func (d *Device) BackingDevice() *Device {
	path := filepath.Join(d.syspath, "device")
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	return New(d.root, path)
}

// ParentWithSubsystem ascends the directory tree and returns the nearest
// ancestor belonging to the given subsystem, or nil if none exists below
// the tree root.
func (d *Device) ParentWithSubsystem(subsystem string) *Device {
	path := d.syspath
	for {
		parent := filepath.Dir(path)
		if parent == path || !strings.HasPrefix(parent, d.root) {
			return nil
		}
		path = parent
		dev := New(d.root, path)
		if s, err := dev.Subsystem(); err == nil && s == subsystem {
			return dev
		}
	}
}
