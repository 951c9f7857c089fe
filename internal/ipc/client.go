package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"serialportd/internal/serialport"
)

// Client helpers for talking to a running daemon, used by serialportctl.

func dial() (*net.UnixConn, error) {
	path := SocketPath()
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

func ipcError(resp string) error {
	return fmt.Errorf("ipc error: %s", strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(resp), "ERROR")))
}

// List fetches the current port registry.
func List() ([]serialport.Info, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	fmt.Fprintf(conn, "LIST\n")
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read ipc response: %w", err)
	}
	payload, ok := strings.CutPrefix(strings.TrimSpace(resp), "OK ")
	if !ok {
		return nil, ipcError(resp)
	}
	var ports []serialport.Info
	if err := json.Unmarshal([]byte(payload), &ports); err != nil {
		return nil, fmt.Errorf("decode port list: %w", err)
	}
	return ports, nil
}

// GetStatus fetches the daemon's status record.
func GetStatus() (*Status, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	fmt.Fprintf(conn, "STATUS\n")
	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read ipc response: %w", err)
	}
	payload, ok := strings.CutPrefix(strings.TrimSpace(resp), "OK ")
	if !ok {
		return nil, ipcError(resp)
	}
	var st Status
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// Dump streams the daemon's diagnostic registry dump to w.
func Dump(w io.Writer) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintf(conn, "DUMP\n")
	r := bufio.NewReader(conn)
	resp, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read ipc response: %w", err)
	}
	if !strings.HasPrefix(resp, "OK") {
		return ipcError(resp)
	}
	_, err = io.Copy(w, r)
	return err
}

// OpenPort asks the daemon to open a registered port and returns the
// descriptor it passes back.
func OpenPort(name string, flags int, exclusive bool) (*os.File, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	fmt.Fprintf(conn, "OPEN %s %d %t\n", name, flags, exclusive)

	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("read ipc response: %w", err)
	}
	resp := string(buf[:n])
	if !strings.HasPrefix(resp, "OK") {
		return nil, ipcError(resp)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) == 0 {
		return nil, fmt.Errorf("no descriptor attached to reply")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) == 0 {
		return nil, fmt.Errorf("parse descriptor rights: %w", err)
	}
	unix.CloseOnExec(fds[0])
	return os.NewFile(uintptr(fds[0]), name), nil
}

// Watch subscribes under the given listener id and invokes onEvent for every
// notification until ctx is canceled or the stream breaks.
func Watch(ctx context.Context, id string, onEvent func(PortEvent)) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Graceful goodbye; the server also copes with a bare close.
			fmt.Fprintf(conn, "UNSUBSCRIBE\n")
			conn.SetReadDeadline(time.Now().Add(time.Second))
		case <-done:
		}
	}()

	fmt.Fprintf(conn, "SUBSCRIBE %s\n", id)
	r := bufio.NewReader(conn)
	resp, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read ipc response: %w", err)
	}
	if !strings.HasPrefix(resp, "OK") {
		return ipcError(resp)
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscription stream: %w", err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "OK":
			// Unsubscribe acknowledged.
			return nil
		case strings.HasPrefix(line, "ERROR"):
			return ipcError(line)
		default:
			var ev PortEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				return fmt.Errorf("decode event %q: %w", line, err)
			}
			onEvent(ev)
		}
	}
}
