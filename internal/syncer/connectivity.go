package syncer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MonitorConfig configures the health probe.
type MonitorConfig struct {
	ProbeURL   string
	Interval   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

type connState int

const (
	stateUnknown connState = iota
	stateOnline
	stateOffline
)

// Monitor tracks whether the API gateway is reachable. Until the first probe
// completes the state is unknown, which is not treated as offline.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu          sync.Mutex
	state       connState
	onReconnect []func()
}

// NewMonitor constructs a monitor.
func NewMonitor(cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Monitor{probeURL: cfg.ProbeURL, interval: cfg.Interval, client: client, logger: logger}
}

// Online is false only when the last observation said the gateway is unreachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != stateOffline
}

// OnReconnect registers fn to run on every offline to online transition.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// MarkOffline records a network failure observed outside the probe.
func (m *Monitor) MarkOffline(reason error) {
	m.set(stateOffline, reason)
}

// MarkOnline records a successful exchange with the gateway.
func (m *Monitor) MarkOnline() {
	m.set(stateOnline, nil)
}

// Probe checks the gateway health endpoint once and returns the new state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		m.set(stateOnline, nil)
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.set(stateOffline, err)
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.set(stateOffline, err)
		return false
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		m.set(stateOffline, nil)
		return false
	}
	m.set(stateOnline, nil)
	return true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) set(next connState, reason error) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	var callbacks []func()
	if prev == stateOffline && next == stateOnline {
		callbacks = append(callbacks, m.onReconnect...)
	}
	m.mu.Unlock()

	switch next {
	case stateOffline:
		m.logger.Warn("api gateway unreachable", zap.Error(reason))
	case stateOnline:
		m.logger.Info("api gateway reachable")
	}
	for _, fn := range callbacks {
		fn()
	}
}
