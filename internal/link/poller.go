package link

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StateSource supplies the connectivity boolean and device handle that
// feed the watcher's fallback path
type StateSource interface {
	State(ctx context.Context) (*ManagerState, error)
}

// Poller periodically reads the link state from the connection manager
// and feeds it to the watcher. It is the fallback detection path for
// platforms without a direct disconnect signal, and it also clears the
// watcher's latch on reconnect.
type Poller struct {
	source   StateSource
	watcher  *Watcher
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewPoller creates a poller feeding the given watcher
func NewPoller(source StateSource, watcher *Watcher, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		source:   source,
		watcher:  watcher,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins polling the link state
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollLoop()

	p.logger.Info("Link poller started",
		zap.Duration("interval", p.interval),
	)
}

// Stop stops polling
func (p *Poller) Stop() {
	p.mu.Lock()
	select {
	case <-p.stopChan:
		// Already closed
		p.mu.Unlock()
		return
	default:
		close(p.stopChan)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Link poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.checkState()

	for {
		select {
		case <-ticker.C:
			p.checkState()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Poller) checkState() {
	select {
	case <-p.stopChan:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	state, err := p.source.State(ctx)
	if err != nil {
		// A manager probe failure is not a link drop; don't flap.
		p.logger.Debug("Failed to read link state", zap.Error(err))
		return
	}

	p.watcher.UpdateDevice(state.Device)
	p.watcher.SetConnected(state.Connected)
}
