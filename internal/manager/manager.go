// Package manager owns the authoritative registry of serial ports and the
// set of subscribed listeners. The event pipeline is the only writer to the
// registry; the service surface reads it concurrently.
package manager

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"serialportd/internal/serialport"
)

var (
	// ErrDuplicateListener is returned by Subscribe when the handle is
	// already registered.
	ErrDuplicateListener = errors.New("listener already registered")

	// ErrListenerNotFound is returned by Unsubscribe for a handle that was
	// never registered or already removed.
	ErrListenerNotFound = errors.New("listener not registered")

	// ErrUnknownPort is returned by Open for a port name that is not in
	// the registry.
	ErrUnknownPort = errors.New("unknown serial port")

	// ErrPermissionDenied is returned by Authorize for callers outside
	// the allowed set.
	ErrPermissionDenied = errors.New("permission denied")
)

// Listener receives port connect/disconnect notifications. Implementations
// are called from the event pipeline goroutine; a returned error is logged
// and the listener stays registered.
type Listener interface {
	PortConnected(info serialport.Info) error
	PortDisconnected(info serialport.Info) error
}

// SerialManager is the registry service. It implements the event pipeline
// callback on the inbound side and the list/subscribe/open surface on the
// outbound side.
type SerialManager struct {
	devDir      string
	allowedUIDs map[uint32]bool

	portsMu sync.Mutex
	ports   map[string]serialport.Info

	listenersMu sync.Mutex
	listeners   map[string]Listener
}

// New creates a SerialManager opening device nodes under devDir. Root may
// always call the restricted surface; allowedUIDs extends that set.
func New(devDir string, allowedUIDs []uint32) *SerialManager {
	allowed := make(map[uint32]bool, len(allowedUIDs))
	for _, uid := range allowedUIDs {
		allowed[uid] = true
	}
	return &SerialManager{
		devDir:      devDir,
		allowedUIDs: allowed,
		ports:       make(map[string]serialport.Info),
		listeners:   make(map[string]Listener),
	}
}

// OnPortAdded records the port and notifies every listener. Called from the
// event pipeline only.
func (m *SerialManager) OnPortAdded(info serialport.Info) {
	m.portsMu.Lock()
	m.ports[info.Name] = info
	m.portsMu.Unlock()

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for id, l := range m.listeners {
		if err := l.PortConnected(info); err != nil {
			log.Printf("notify listener %s of %s: %v", id, info.Name, err)
		}
	}
}

// OnPortRemoved drops the port and notifies every listener with the record
// captured before removal. Removing an unknown name is a no-op.
func (m *SerialManager) OnPortRemoved(name string) {
	m.portsMu.Lock()
	info, ok := m.ports[name]
	if ok {
		delete(m.ports, name)
	}
	m.portsMu.Unlock()
	if !ok {
		return
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for id, l := range m.listeners {
		if err := l.PortDisconnected(info); err != nil {
			log.Printf("notify listener %s of %s: %v", id, name, err)
		}
	}
}

// List returns a snapshot of the currently known ports.
func (m *SerialManager) List() []serialport.Info {
	m.portsMu.Lock()
	defer m.portsMu.Unlock()
	ports := make([]serialport.Info, 0, len(m.ports))
	for _, info := range m.ports {
		ports = append(ports, info)
	}
	return ports
}

// Subscribe registers a listener under its remote handle. The registration
// is removed when done is closed, which covers clients that die without
// unsubscribing; the removal is asynchronous and best-effort.
func (m *SerialManager) Subscribe(id string, l Listener, done <-chan struct{}) error {
	m.listenersMu.Lock()
	if _, ok := m.listeners[id]; ok {
		m.listenersMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateListener, id)
	}
	m.listeners[id] = l
	m.listenersMu.Unlock()

	if done != nil {
		listenersMu, listeners := &m.listenersMu, m.listeners
		go func() {
			<-done
			listenersMu.Lock()
			delete(listeners, id)
			listenersMu.Unlock()
		}()
	}
	return nil
}

// Unsubscribe removes the listener registered under id.
func (m *SerialManager) Unsubscribe(id string) error {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return fmt.Errorf("%w: %s", ErrListenerNotFound, id)
	}
	delete(m.listeners, id)
	return nil
}

// Open opens the device node of a registered port. The caller's read/write
// intent is honored; O_NOCTTY is always added so the terminal can never
// become this process's controlling terminal. exclusive toggles the
// terminal's exclusive-access mode on the returned descriptor.
//
// The existence check can race a concurrent removal, in which case the open
// itself fails and that error is surfaced. This is inherent and benign.
func (m *SerialManager) Open(name string, flags int, exclusive bool) (*os.File, error) {
	m.portsMu.Lock()
	_, known := m.ports[name]
	m.portsMu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPort, name)
	}

	path := filepath.Join(m.devDir, name)
	fd, err := unix.Open(path, flags|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	req := uint(unix.TIOCNXCL)
	if exclusive {
		req = uint(unix.TIOCEXCL)
	}
	if err := unix.IoctlSetInt(fd, req, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set exclusive mode on %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// Authorize checks that uid may call the restricted surface: root always
// may, other uids only when configured.
func (m *SerialManager) Authorize(uid uint32) error {
	if uid == 0 || m.allowedUIDs[uid] {
		return nil
	}
	return fmt.Errorf("%w: uid %d", ErrPermissionDenied, uid)
}

// Dump renders the registry as human-readable text for diagnostics.
func (m *SerialManager) Dump(w io.Writer) error {
	ports := m.List()
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	if _, err := fmt.Fprintf(w, "Has %d port(s).\n", len(ports)); err != nil {
		return err
	}
	for _, p := range ports {
		_, err := fmt.Fprintf(w, "Port %s:\n   Subsystem: %s\n   Driver Type: %s\n   Vendor ID: %d\n   Product ID: %d\n",
			p.Name, p.Subsystem, p.DriverType, p.VendorID, p.ProductID)
		if err != nil {
			return err
		}
	}
	return nil
}
