// Package uevent watches the kernel's device event broadcast and turns it
// into a stream of device add/remove events for the port registry.
package uevent

import "serialportd/internal/sysfs"

// Action is the kind of device event.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event is one device change seen by the watcher.
type Event struct {
	Action Action

	// DevPath is the device node path under the device directory, or
	// empty when the event does not carry a device node (such events are
	// dropped downstream).
	DevPath string

	// Device points at the device's directory in the attribute tree.
	Device *sysfs.Device
}
