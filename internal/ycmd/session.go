package ycmd

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// detectProbeTimeout bounds the TCP probe per port during external
// daemon detection.
const detectProbeTimeout = 200 * time.Millisecond

// detectPortEnd bounds the detection scan (8080–8089).
const detectPortEnd = 8089

// Manager coordinates one shared daemon session per process. Callers
// never receive the supervisor itself; they operate through the
// manager's operation set, which serialises start/stop/restart.
type Manager struct {
	mu       sync.Mutex
	sup      *Supervisor
	external *SessionInfo
}

var (
	sharedOnce    sync.Once
	sharedManager *Manager
)

// Shared returns the process-wide session manager, constructing it on
// first use with default supervisor configuration. Configure replaces
// the supervisor before the first Start.
func Shared() *Manager {
	sharedOnce.Do(func() {
		sharedManager = &Manager{sup: NewSupervisor(SupervisorConfig{})}
	})
	return sharedManager
}

// NewManager creates an isolated manager, used by tests and embedders
// that do not want process-wide sharing.
func NewManager(cfg SupervisorConfig) *Manager {
	return &Manager{sup: NewSupervisor(cfg)}
}

// Configure replaces the managed supervisor. It has no effect on a
// daemon that is already running.
func (m *Manager) Configure(cfg SupervisorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup != nil && m.sup.Running() {
		return
	}
	m.sup = NewSupervisor(cfg)
	m.external = nil
}

// IsRunning reports whether a daemon is reachable: first the managed
// supervisor, then a scan of the conventional port range for an
// externally started daemon. External daemons are wrapped with an
// empty HMAC secret; privileged calls on them surface authentication
// errors and are never escalated.
func (m *Manager) IsRunning(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sup.Running() {
		return true
	}
	if m.external != nil {
		return true
	}

	host := m.sup.cfg.Host
	for port := portScanStart; port <= detectPortEnd; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, detectProbeTimeout)
		if err != nil {
			continue
		}
		_ = conn.Close()

		info := SessionInfo{Host: host, Port: port, Status: StatusRunning}
		client, err := NewClient(info)
		if err != nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		ready, err := client.Ready(probeCtx)
		cancel()
		if err == nil && ready {
			m.external = &info
			return true
		}
	}
	return false
}

// Session returns the active session info: the supervised session when
// running, else a detected external session, else the supervisor's
// last known state.
func (m *Manager) Session() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup.Running() {
		return m.sup.Session()
	}
	if m.external != nil {
		return *m.external
	}
	return m.sup.Session()
}

// Client returns a client for the active session. For an external
// session the client is unauthenticated and limited to Ready.
func (m *Manager) Client() (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sup.Running() {
		return m.sup.Client(), nil
	}
	if m.external != nil {
		return NewClient(*m.external)
	}
	return nil, ErrUnauthenticatedSession
}

// Start delegates to the supervisor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = nil
	return m.sup.Start(ctx)
}

// Stop delegates to the supervisor. An external session is forgotten
// but never terminated; this process does not own it.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = nil
	return m.sup.Stop(ctx)
}

// Restart delegates to the supervisor.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.external = nil
	return m.sup.Restart(ctx)
}

// HealthCheck probes the active session.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	sup := m.sup
	external := m.external
	m.mu.Unlock()

	if sup.Running() {
		return sup.HealthCheck(ctx)
	}
	if external != nil {
		client, err := NewClient(*external)
		if err != nil {
			return false
		}
		ready, err := client.Ready(ctx)
		return err == nil && ready
	}
	return false
}
