package network

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeFunc reports whether the backend is currently reachable
type ProbeFunc func(ctx context.Context) bool

// Monitor observes network availability by probing on a ticker and
// fires callbacks on edges: onOnline when reachability returns,
// onOffline when it goes away.
type Monitor struct {
	probe         ProbeFunc
	probeInterval time.Duration
	onOnline      func()
	onOffline     func()
	logger        *zap.Logger

	mu       sync.RWMutex
	online   bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a network monitor. The initial state is assumed
// online until the first probe says otherwise.
func NewMonitor(probe ProbeFunc, probeInterval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		probe:         probe,
		probeInterval: probeInterval,
		online:        true,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins probing for network availability
func (m *Monitor) Start(onOnline, onOffline func()) {
	m.onOnline = onOnline
	m.onOffline = onOffline

	m.wg.Add(1)
	go m.probeLoop()

	m.logger.Info("Network monitor started",
		zap.Duration("probe_interval", m.probeInterval),
	)
}

// Stop stops probing
func (m *Monitor) Stop() {
	m.mu.Lock()
	select {
	case <-m.stopChan:
		// Already closed
		m.mu.Unlock()
		return
	default:
		close(m.stopChan)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Network monitor stopped")
}

// IsOnline returns the last observed network state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// CheckNow runs a probe immediately instead of waiting for the ticker
func (m *Monitor) CheckNow() {
	m.check()
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	// Initial probe
	m.check()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) check() {
	select {
	case <-m.stopChan:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.probeInterval)
	online := m.probe(ctx)
	cancel()

	m.mu.Lock()
	prev := m.online
	m.online = online
	m.mu.Unlock()

	if prev == online {
		return
	}

	// Check again before firing callbacks
	select {
	case <-m.stopChan:
		return
	default:
	}

	if online {
		m.logger.Info("Network available")
		if m.onOnline != nil {
			m.onOnline()
		}
	} else {
		m.logger.Info("Network unavailable")
		if m.onOffline != nil {
			m.onOffline()
		}
	}
}
