// Package events turns raw device add/remove events into serial port
// notifications. Each event is classified against the driver table and,
// for additions, enriched with the device's subsystem and USB identity.
package events

import (
	"log"
	"path/filepath"

	"serialportd/internal/serialport"
	"serialportd/internal/sysfs"
	"serialportd/internal/uevent"
)

// Callback receives the registry-level outcome of device events.
type Callback interface {
	OnPortAdded(info serialport.Info)
	OnPortRemoved(name string)
}

// DriverTypeFinder resolves a device node path to its TTY driver type.
// Satisfied by drivertype.Finder.
type DriverTypeFinder interface {
	Find(devnodePath string) (string, error)
}

// Handler consumes a single ordered event stream. Events are processed one
// at a time on the Run goroutine, so callback invocations for the same port
// name never overlap.
type Handler struct {
	events   <-chan uevent.Event
	callback Callback
	finder   DriverTypeFinder
}

// NewHandler wires an event stream to a callback.
func NewHandler(events <-chan uevent.Event, callback Callback, finder DriverTypeFinder) *Handler {
	return &Handler{events: events, callback: callback, finder: finder}
}

// Run processes events until the stream is closed. Classification failures
// drop the event and move on; they never stop the pipeline.
func (h *Handler) Run() {
	for ev := range h.events {
		h.handle(ev)
	}
}

func (h *Handler) handle(ev uevent.Event) {
	if ev.DevPath == "" {
		log.Printf("event without a device node, ignoring")
		return
	}
	name := filepath.Base(ev.DevPath)
	if name == "." || name == string(filepath.Separator) {
		log.Printf("no device name in %q", ev.DevPath)
		return
	}

	switch ev.Action {
	case uevent.ActionAdd:
		driverType, err := h.finder.Find(ev.DevPath)
		if err != nil {
			// Not a supported TTY class; stays invisible.
			log.Printf("unsupported device %s: %v", ev.DevPath, err)
			return
		}
		id := usbID(ev.Device)
		h.callback.OnPortAdded(serialport.Info{
			Name:       name,
			Subsystem:  subsystemOf(ev.Device),
			DriverType: driverType,
			VendorID:   id.Vendor,
			ProductID:  id.Product,
		})
	case uevent.ActionRemove:
		// The node may already be gone from the filesystem, so no
		// classification is attempted here.
		h.callback.OnPortRemoved(name)
	default:
		log.Printf("unexpected event action %q for %s", ev.Action, ev.DevPath)
	}
}

// subsystemOf reads the bus classification of the device backing the node,
// "virtual" when there is none.
func subsystemOf(dev *sysfs.Device) string {
	if dev == nil {
		return "virtual"
	}
	backing := dev.BackingDevice()
	if backing == nil {
		return "virtual"
	}
	s, err := backing.Subsystem()
	if err != nil {
		return "virtual"
	}
	return s
}

func usbID(dev *sysfs.Device) sysfs.ID {
	if dev == nil {
		return sysfs.UnknownID
	}
	return sysfs.UsbID(dev)
}
