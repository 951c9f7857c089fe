package agent

import (
	"fmt"
	"log"
	"sync"

	"serialportd/internal/config"
	"serialportd/internal/drivertype"
	"serialportd/internal/events"
	"serialportd/internal/ipc"
	"serialportd/internal/manager"
	"serialportd/internal/uevent"
)

// Agent ties the uevent watcher, the event handler, the port registry and
// the IPC server together.
type Agent struct {
	config  *config.Config
	finder  *drivertype.Finder
	manager *manager.SerialManager
	watcher *uevent.Watcher
	handler *events.Handler
	ipc     *ipc.Server

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// New creates an Agent from the given configuration.
func New(cfg *config.Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	finder := drivertype.NewFromFile(cfg.DriversFile)
	mgr := manager.New(cfg.DevDir, cfg.AllowedUIDs)

	watcher, err := uevent.NewWatcher(cfg.SysfsRoot, cfg.DevDir)
	if err != nil {
		return nil, fmt.Errorf("create uevent watcher: %w", err)
	}

	return &Agent{
		config:  cfg,
		finder:  finder,
		manager: mgr,
		watcher: watcher,
		handler: events.NewHandler(watcher.Events(), mgr, finder),
		ipc:     ipc.NewServer(mgr, cfg.SocketPath, cfg.AgentID),
	}, nil
}

// Start brings up the IPC server and the event pipeline. The watcher
// enumerates existing tty devices before streaming live events, so the
// registry converges to the current system state.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.ipc.Start(); err != nil {
		a.watcher.Stop()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("start IPC server: %w", err)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.watcher.Run()
	}()
	go func() {
		defer a.wg.Done()
		a.handler.Run()
	}()

	log.Printf("Agent %s started, socket %s", a.config.AgentID, a.config.SocketPath)
	return nil
}

// Stop tears down the pipeline and the IPC server. Safe to call more than
// once.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	// Stopping the watcher closes its event channel, which ends the handler.
	a.watcher.Stop()
	a.wg.Wait()
	a.ipc.Stop()

	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Manager exposes the registry, mainly for tests.
func (a *Agent) Manager() *manager.SerialManager {
	return a.manager
}
