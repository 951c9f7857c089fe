package uevent

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"serialportd/internal/sysfs"
)

// ueventGroupKernel is the netlink multicast group the kernel broadcasts
// device events on. Group 2 carries udev's re-broadcasts, which we do not
// want.
const ueventGroupKernel = 1

// Watcher reads kernel device event broadcasts from a NETLINK_KOBJECT_UEVENT
// socket. Kernel uevent datagrams are bare key=value payloads without any
// netlink message framing, so the socket is read raw.
type Watcher struct {
	fd      int
	sysRoot string
	devDir  string
	events  chan Event
	stopCh  chan struct{}

	stopOnce sync.Once
}

// NewWatcher opens the uevent socket. Events are not delivered until Run is
// called.
func NewWatcher(sysRoot, devDir string) (*Watcher, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("open uevent socket: %w", err)
	}
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: ueventGroupKernel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}
	return &Watcher{
		fd:      fd,
		sysRoot: sysRoot,
		devDir:  devDir,
		events:  make(chan Event, 16),
		stopCh:  make(chan struct{}),
	}, nil
}

// Events returns the channel events are delivered on. It is closed when the
// watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run first reports the devices already present, then delivers kernel events
// until Stop is called. Events are emitted in arrival order on a single
// goroutine.
func (w *Watcher) Run() {
	defer close(w.events)

	if err := Enumerate(w.sysRoot, w.devDir, w.events); err != nil {
		log.Printf("initial device scan: %v", err)
	}

	buf := make([]byte, 64<<10)
	for {
		n, _, err := unix.Recvfrom(w.fd, buf, 0)
		if err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			if err == unix.EINTR || err == unix.ENOBUFS {
				continue
			}
			if err == unix.EBADF {
				// Socket is gone for good; nothing left to read.
				log.Printf("uevent socket closed: %v", err)
				return
			}
			// Anything else is treated as transient. Ending the loop
			// here would freeze the registry while the service surface
			// keeps answering, so back off and keep reading.
			log.Printf("uevent receive: %v, retrying", err)
			select {
			case <-time.After(time.Second):
			case <-w.stopCh:
				return
			}
			continue
		}
		ev, ok := parse(buf[:n], w.sysRoot, w.devDir)
		if !ok {
			continue
		}
		select {
		case w.events <- ev:
		case <-w.stopCh:
			return
		}
	}
}

// Stop closes the socket and ends Run. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		unix.Close(w.fd)
	})
}

// parse decodes one uevent datagram. Datagrams look like
//
//	add@/devices/.../tty/ttyUSB0\0ACTION=add\0DEVPATH=/devices/...\0SUBSYSTEM=tty\0DEVNAME=ttyUSB0\0...
//
// Returns ok=false for datagrams that are not plain kernel add/remove
// events on the tty subsystem, including udev's "libudev"-prefixed
// re-broadcasts. The subsystem filter keeps block/input/net churn from
// costing the handler a stat and a driver-table reload each.
func parse(data []byte, sysRoot, devDir string) (Event, bool) {
	parts := strings.Split(string(data), "\x00")
	if len(parts) == 0 || !strings.Contains(parts[0], "@") {
		return Event{}, false
	}

	var action, devPath, devName, subsystem string
	for _, kv := range parts[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "ACTION":
			action = value
		case "DEVPATH":
			devPath = value
		case "DEVNAME":
			devName = value
		case "SUBSYSTEM":
			subsystem = value
		}
	}

	if action != string(ActionAdd) && action != string(ActionRemove) {
		return Event{}, false
	}
	if devPath == "" || subsystem != "tty" {
		return Event{}, false
	}

	ev := Event{
		Action: Action(action),
		Device: sysfs.New(sysRoot, filepath.Join(sysRoot, devPath)),
	}
	if devName != "" {
		ev.DevPath = filepath.Join(devDir, devName)
	}
	return ev, true
}
