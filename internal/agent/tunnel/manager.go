package tunnel

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/internal/util"
)

const (
	// how long the child must survive before the forward is trusted
	defaultConnectWindow = 500 * time.Millisecond
	// grace between SIGTERM and SIGKILL on shutdown
	defaultKillGrace = 5 * time.Second

	errPortInUse = "PORT_IN_USE"
)

// Manager supervises the ssh forward child process. One goroutine owns
// the child's lifecycle; Start and Stop only flip intent, so repeated
// calls are idempotent.
type Manager struct {
	log *logger.StyledLogger

	startProc     startProcess
	portAvailable func(host string, port int) bool
	connectWindow time.Duration
	killGrace     time.Duration

	mu             sync.Mutex
	cfg            *domain.ProxyConfig
	state          domain.TunnelState
	lastError      *string
	retryCount     int
	connectedSince *string
	pid            int

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewManager(cfg *domain.ProxyConfig, log *logger.StyledLogger) *Manager {
	m := &Manager{
		log:           log,
		startProc:     startOSProcess,
		portAvailable: util.IsPortAvailable,
		connectWindow: defaultConnectWindow,
		killGrace:     defaultKillGrace,
		cfg:           cfg,
		state:         domain.TunnelStateDisabled,
	}
	if cfg != nil && cfg.Enabled {
		m.state = domain.TunnelStateStopped
	}
	return m
}

// Configure replaces the forward's configuration. A running tunnel
// keeps its current child; the new settings apply from the next
// (re)start.
func (m *Manager) Configure(cfg *domain.ProxyConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	if m.running {
		return
	}
	if cfg == nil || !cfg.Enabled {
		m.state = domain.TunnelStateDisabled
	} else if m.state == domain.TunnelStateDisabled {
		m.state = domain.TunnelStateStopped
	}
}

// Start launches the supervisor. override bypasses the Enabled flag
// for an explicit operator-initiated start. Starting a running tunnel
// is a no-op.
func (m *Manager) Start(override bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg == nil {
		return domain.ErrProxyConfigMissing
	}
	if !m.cfg.Enabled && !override {
		return domain.ErrProxyDisabled
	}
	if m.running {
		return nil
	}

	m.running = true
	m.retryCount = 0
	m.lastError = nil
	m.state = domain.TunnelStateConnecting
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.supervise(m.cfg, m.stopCh, m.doneCh)
	return nil
}

// Stop terminates the child and waits for the supervisor to exit.
// Stopping a stopped tunnel is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *Manager) Status() domain.TunnelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := domain.TunnelStatus{
		Status:         m.state,
		LastError:      m.lastError,
		ConnectedSince: m.connectedSince,
		RetryCount:     m.retryCount,
	}
	if m.cfg != nil {
		listen := m.cfg.ServerListenPort
		st.ListenPort = &listen
		target := fmt.Sprintf("127.0.0.1:%d", m.cfg.CenterProxyPort)
		st.Target = &target
	}
	if m.pid != 0 && m.state == domain.TunnelStateConnected {
		pid := m.pid
		st.PID = &pid
	}
	return st
}

func (m *Manager) supervise(cfg *domain.ProxyConfig, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		m.mu.Lock()
		m.running = false
		m.pid = 0
		m.connectedSince = nil
		if m.state != domain.TunnelStateError {
			m.state = domain.TunnelStateStopped
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// a busy listen port is retryable: whatever holds it may let go
		if !m.portAvailable("127.0.0.1", cfg.ServerListenPort) {
			m.mu.Lock()
			msg := errPortInUse
			m.lastError = &msg
			m.state = domain.TunnelStateError
			backoff := util.TunnelRetryBackoff(m.retryCount)
			m.retryCount++
			m.mu.Unlock()

			m.log.Warn("tunnel listen port busy, retrying",
				"port", cfg.ServerListenPort, "backoff", backoff.String())

			select {
			case <-stopCh:
				return
			case <-time.After(backoff):
			}
			continue
		}

		m.setState(domain.TunnelStateConnecting)
		if !m.runOnce(cfg, stopCh) {
			return
		}

		m.mu.Lock()
		backoff := util.TunnelRetryBackoff(m.retryCount)
		m.retryCount++
		m.state = domain.TunnelStateError
		m.mu.Unlock()

		m.log.Warn("tunnel child exited, retrying",
			"backoff", backoff.String(), "retry", m.retryCount)

		select {
		case <-stopCh:
			return
		case <-time.After(backoff):
		}
	}
}

// runOnce spawns one child and babysits it. Returns false when the
// supervisor should exit (stop requested), true to retry.
func (m *Manager) runOnce(cfg *domain.ProxyConfig, stopCh chan struct{}) bool {
	proc := m.startProc("ssh", sshArgs(cfg)...)

	if err := proc.Start(); err != nil {
		m.setError(err.Error())
		return true
	}

	m.mu.Lock()
	m.pid = proc.Pid()
	m.mu.Unlock()

	// the last stderr line the child printed is the most useful
	// diagnostic once it dies
	if r := proc.Stderr(); r != nil {
		go func() {
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				m.setError(line)
			}
		}()
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- proc.Wait() }()

	select {
	case <-stopCh:
		m.terminate(proc, waitCh)
		return false
	case err := <-waitCh:
		// died before the forward was trusted
		if err != nil && m.currentError() == nil {
			m.setError("ssh exited: " + err.Error())
		}
		return true
	case <-time.After(m.connectWindow):
	}

	now := domain.FormatTimestamp(time.Now())
	m.mu.Lock()
	m.state = domain.TunnelStateConnected
	m.connectedSince = &now
	m.retryCount = 0
	m.lastError = nil
	m.mu.Unlock()
	m.log.Info("tunnel established",
		"listen_port", cfg.ServerListenPort, "remote_port", cfg.CenterProxyPort)

	select {
	case <-stopCh:
		m.terminate(proc, waitCh)
		return false
	case err := <-waitCh:
		m.mu.Lock()
		m.connectedSince = nil
		m.pid = 0
		m.mu.Unlock()
		if err != nil && m.currentError() == nil {
			m.setError("ssh exited: " + err.Error())
		}
		return true
	}
}
func (m *Manager) terminate(proc process, waitCh chan error) {
	_ = proc.Terminate()
	select {
	case <-waitCh:
	case <-time.After(m.killGrace):
		_ = proc.Kill()
		<-waitCh
	}
}

func (m *Manager) setState(state domain.TunnelState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.lastError = &msg
	m.mu.Unlock()
}

func (m *Manager) currentError() *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}
