package uevent

import (
	"fmt"
	"os"
	"path/filepath"

	"serialportd/internal/sysfs"
)

// Enumerate synthesizes Add events for the TTY devices already registered in
// the attribute tree, so a registry starting after the hardware was attached
// still sees it. Entries that cannot be resolved are skipped.
func Enumerate(sysRoot, devDir string, out chan<- Event) error {
	classDir := filepath.Join(sysRoot, "class", "tty")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", classDir, err)
	}

	for _, entry := range entries {
		syspath, err := filepath.EvalSymlinks(filepath.Join(classDir, entry.Name()))
		if err != nil {
			continue
		}
		out <- Event{
			Action:  ActionAdd,
			DevPath: filepath.Join(devDir, entry.Name()),
			Device:  sysfs.New(sysRoot, syspath),
		}
	}
	return nil
}
