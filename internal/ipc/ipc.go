// Package ipc exposes the serial port registry over a unix socket.
//
// Protocol: the client sends one command line, the server answers with
// "OK ...\n" or "ERROR <msg>\n".
//
//	LIST                          OK <json port array>
//	DUMP                          OK, then text until EOF
//	STATUS                        OK <json object>
//	OPEN <name> <flags> <excl>    OK with the descriptor attached as
//	                              SCM_RIGHTS ancillary data
//	SUBSCRIBE <listener-id>       OK, then one JSON event per line until the
//	                              client sends UNSUBSCRIBE or disconnects
//
// Every command except LIST is restricted to root and the configured UIDs,
// checked against the connection's SO_PEERCRED identity.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"serialportd/internal/manager"
	"serialportd/internal/serialport"
	"serialportd/pkg/version"
)

const SocketName = "serialportd.sock"

// SocketPath returns the daemon socket location. The environment override
// exists for tests and unprivileged runs.
func SocketPath() string {
	if path := os.Getenv("SERIALPORTD_SOCKET"); path != "" {
		return path
	}
	if _, err := os.Stat("/run/" + SocketName); err == nil {
		return "/run/" + SocketName
	}
	return "/tmp/" + SocketName
}

// PortEvent is one notification on a subscription stream.
type PortEvent struct {
	Event string          `json:"event"` // "connected" or "disconnected"
	Port  serialport.Info `json:"port"`
}

// Status describes the running daemon.
type Status struct {
	AgentID       string `json:"agent_id"`
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	Ports         int    `json:"ports"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Server serves the registry over a unix socket.
type Server struct {
	manager    *manager.SerialManager
	socketPath string
	agentID    string
	started    time.Time
	listener   *net.UnixListener
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a Server for the given registry. agentID is reported in
// STATUS responses.
func NewServer(m *manager.SerialManager, socketPath, agentID string) *Server {
	return &Server{
		manager:    m,
		socketPath: socketPath,
		agentID:    agentID,
		stopCh:     make(chan struct{}),
	}
}

// Start binds the socket and begins serving.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	os.Remove(s.socketPath) // cleanup previous

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = l
	s.started = time.Now()

	s.wg.Add(1)
	go s.serve()
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.Printf("IPC accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the socket and waits for in-flight connections.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) handleConnection(c *net.UnixConn) {
	defer c.Close()

	uid, err := peerUID(c)
	if err != nil {
		log.Printf("IPC peer credentials: %v", err)
		return
	}

	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		fmt.Fprintf(c, "ERROR empty command\n")
		return
	}

	switch parts[0] {
	case "LIST":
		data, err := json.Marshal(s.manager.List())
		if err != nil {
			fmt.Fprintf(c, "ERROR marshal ports: %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK %s\n", data)

	case "DUMP":
		if err := s.manager.Authorize(uid); err != nil {
			fmt.Fprintf(c, "ERROR %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK\n")
		if err := s.manager.Dump(c); err != nil {
			log.Printf("IPC dump: %v", err)
		}

	case "STATUS":
		if err := s.manager.Authorize(uid); err != nil {
			fmt.Fprintf(c, "ERROR %v\n", err)
			return
		}
		data, err := json.Marshal(Status{
			AgentID:       s.agentID,
			Version:       version.Version,
			PID:           os.Getpid(),
			Ports:         len(s.manager.List()),
			UptimeSeconds: int64(time.Since(s.started).Seconds()),
		})
		if err != nil {
			fmt.Fprintf(c, "ERROR marshal status: %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK %s\n", data)

	case "SUBSCRIBE":
		if err := s.manager.Authorize(uid); err != nil {
			fmt.Fprintf(c, "ERROR %v\n", err)
			return
		}
		if len(parts) != 2 {
			fmt.Fprintf(c, "ERROR usage: SUBSCRIBE <listener-id>\n")
			return
		}
		s.handleSubscribe(c, r, parts[1])

	case "OPEN":
		if err := s.manager.Authorize(uid); err != nil {
			fmt.Fprintf(c, "ERROR %v\n", err)
			return
		}
		if len(parts) != 4 {
			fmt.Fprintf(c, "ERROR usage: OPEN <name> <flags> <exclusive>\n")
			return
		}
		s.handleOpen(c, parts[1], parts[2], parts[3])

	default:
		fmt.Fprintf(c, "ERROR unknown command %q\n", parts[0])
	}
}

// handleSubscribe registers the connection as a listener and streams events
// until the client unsubscribes or goes away. The connection teardown is the
// death watch: closing it removes the registration.
func (s *Server) handleSubscribe(c *net.UnixConn, r *bufio.Reader, id string) {
	done := make(chan struct{})
	defer close(done)

	ln := &connListener{conn: c}
	if err := s.manager.Subscribe(id, ln, done); err != nil {
		fmt.Fprintf(c, "ERROR %v\n", err)
		return
	}
	ln.writeLine("OK")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// Client death; the done channel drops the entry.
			return
		}
		if strings.TrimSpace(line) == "UNSUBSCRIBE" {
			if err := s.manager.Unsubscribe(id); err != nil {
				ln.writeLine(fmt.Sprintf("ERROR %v", err))
				return
			}
			// The entry is gone, so no event can interleave here.
			ln.writeLine("OK")
			return
		}
	}
}

func (s *Server) handleOpen(c *net.UnixConn, name, flagsStr, exclusiveStr string) {
	flags, err := strconv.Atoi(flagsStr)
	if err != nil {
		fmt.Fprintf(c, "ERROR bad flags %q: %v\n", flagsStr, err)
		return
	}
	exclusive, err := strconv.ParseBool(exclusiveStr)
	if err != nil {
		fmt.Fprintf(c, "ERROR bad exclusive %q: %v\n", exclusiveStr, err)
		return
	}

	f, err := s.manager.Open(name, flags, exclusive)
	if err != nil {
		fmt.Fprintf(c, "ERROR %v\n", err)
		return
	}
	defer f.Close()

	rights := unix.UnixRights(int(f.Fd()))
	if _, _, err := c.WriteMsgUnix([]byte("OK\n"), rights, nil); err != nil {
		log.Printf("IPC send descriptor for %s: %v", name, err)
	}
}

// connListener streams registry notifications to one subscribed client. All
// writes to the connection go through it so event lines and protocol replies
// never interleave.
type connListener struct {
	mu   sync.Mutex
	conn net.Conn
}

func (l *connListener) PortConnected(info serialport.Info) error {
	return l.send(PortEvent{Event: "connected", Port: info})
}

func (l *connListener) PortDisconnected(info serialport.Info) error {
	return l.send(PortEvent{Event: "disconnected", Port: info})
}

func (l *connListener) send(ev PortEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return l.writeLine(string(data))
}

func (l *connListener) writeLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.conn, "%s\n", line)
	return err
}

func peerUID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return cred.Uid, nil
}
