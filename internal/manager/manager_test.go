package manager

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"serialportd/internal/serialport"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (l *recordingListener) PortConnected(info serialport.Info) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "connected:"+info.Name)
	return l.err
}

func (l *recordingListener) PortDisconnected(info serialport.Info) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "disconnected:"+info.Name)
	return l.err
}

func (l *recordingListener) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func ttyS0() serialport.Info {
	return serialport.Info{Name: "ttyS0", Subsystem: "serial-base", DriverType: "serial", VendorID: -1, ProductID: -1}
}

func TestAddRemoveNotifiesInOrder(t *testing.T) {
	m := New("/dev", nil)
	l := &recordingListener{}
	if err := m.Subscribe("client-1", l, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.OnPortAdded(ttyS0())
	if got := m.List(); len(got) != 1 || got[0].Name != "ttyS0" {
		t.Fatalf("List = %+v, want one ttyS0", got)
	}

	m.OnPortRemoved("ttyS0")
	if got := m.List(); len(got) != 0 {
		t.Fatalf("List = %+v after removal, want empty", got)
	}

	want := []string{"connected:ttyS0", "disconnected:ttyS0"}
	if got := l.recorded(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := New("/dev", nil)
	l := &recordingListener{}
	if err := m.Subscribe("client-1", l, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.OnPortRemoved("ttyGhost")

	if got := l.recorded(); len(got) != 0 {
		t.Fatalf("events = %v, want none for an unknown removal", got)
	}
}

func TestFailingListenerDoesNotBlockOthers(t *testing.T) {
	m := New("/dev", nil)
	bad := &recordingListener{err: errors.New("peer gone")}
	good := &recordingListener{}
	if err := m.Subscribe("bad", bad, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Subscribe("good", good, nil); err != nil {
		t.Fatal(err)
	}

	m.OnPortAdded(ttyS0())

	if got := good.recorded(); len(got) != 1 {
		t.Fatalf("healthy listener events = %v, want one", got)
	}
	// The failing listener stays registered and the registry update stands.
	if got := m.List(); len(got) != 1 {
		t.Fatalf("List = %+v, want one port", got)
	}
}

func TestDuplicateSubscribe(t *testing.T) {
	m := New("/dev", nil)
	if err := m.Subscribe("client-1", &recordingListener{}, nil); err != nil {
		t.Fatal(err)
	}

	err := m.Subscribe("client-1", &recordingListener{}, nil)
	if !errors.Is(err, ErrDuplicateListener) {
		t.Fatalf("duplicate Subscribe error = %v, want ErrDuplicateListener", err)
	}

	// The original registration must still be there.
	if err := m.Unsubscribe("client-1"); err != nil {
		t.Fatalf("Unsubscribe after duplicate attempt: %v", err)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	m := New("/dev", nil)
	if err := m.Unsubscribe("never-registered"); !errors.Is(err, ErrListenerNotFound) {
		t.Fatalf("Unsubscribe error = %v, want ErrListenerNotFound", err)
	}
}

func TestDeathWatchRemovesListener(t *testing.T) {
	m := New("/dev", nil)
	done := make(chan struct{})
	if err := m.Subscribe("client-1", &recordingListener{}, done); err != nil {
		t.Fatal(err)
	}

	close(done)

	// Removal is asynchronous; poll until the handle is free again.
	deadline := time.After(2 * time.Second)
	for {
		if err := m.Subscribe("client-1", &recordingListener{}, nil); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("listener entry not removed after death notification")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOpenUnknownPort(t *testing.T) {
	// A device directory that does not exist proves no open is attempted
	// when the registry check fails.
	m := New("/nonexistent-dev", nil)

	_, err := m.Open("ttyS0", unix.O_RDWR, false)
	if !errors.Is(err, ErrUnknownPort) {
		t.Fatalf("Open error = %v, want ErrUnknownPort", err)
	}
}

func TestOpenExclusive(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skipf("no /dev/ptmx: %v", err)
	}

	m := New("/dev", nil)
	m.OnPortAdded(serialport.Info{Name: "ptmx", Subsystem: "virtual", DriverType: "system", VendorID: -1, ProductID: -1})

	f, err := m.Open("ptmx", unix.O_RDWR, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Fd() == ^uintptr(0) {
		t.Fatal("Open returned an invalid descriptor")
	}
}

func TestAuthorize(t *testing.T) {
	m := New("/dev", []uint32{1000})

	if err := m.Authorize(0); err != nil {
		t.Errorf("Authorize(root) = %v, want nil", err)
	}
	if err := m.Authorize(1000); err != nil {
		t.Errorf("Authorize(allowed uid) = %v, want nil", err)
	}
	if err := m.Authorize(1001); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Authorize(other uid) = %v, want ErrPermissionDenied", err)
	}
}

func TestDump(t *testing.T) {
	m := New("/dev", nil)
	m.OnPortAdded(serialport.Info{Name: "ttyACM0", Subsystem: "usb", DriverType: "serial", VendorID: 0x0694, ProductID: 0x0009})
	m.OnPortAdded(ttyS0())

	var buf bytes.Buffer
	if err := m.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	want := "Has 2 port(s).\n" +
		"Port ttyACM0:\n   Subsystem: usb\n   Driver Type: serial\n   Vendor ID: 1684\n   Product ID: 9\n" +
		"Port ttyS0:\n   Subsystem: serial-base\n   Driver Type: serial\n   Vendor ID: -1\n   Product ID: -1\n"
	if buf.String() != want {
		t.Fatalf("Dump output:\n%s\nwant:\n%s", buf.String(), want)
	}
}
