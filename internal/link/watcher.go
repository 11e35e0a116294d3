package link

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConnectFunc is the reconnect primitive supplied by the connection
// management layer
type ConnectFunc func(ctx context.Context, device Device) error

// Watcher observes the sensor link and fires exactly one onDisconnect
// and one onReconnect per physical drop/recover cycle, no matter which
// detection path sees it first. Two paths feed it: the direct
// disconnect signal (HandleDisconnectSignal) and the connectivity
// boolean (SetConnected). Both share one latch.
//
// The watcher owns no retry policy. AttemptReconnect makes a single
// attempt; backoff and retry ceilings belong to the caller.
type Watcher struct {
	sessionActive func() bool
	connect       ConnectFunc
	onDisconnect  func()
	onReconnect   func()
	logger        *zap.Logger

	mu              sync.Mutex
	connected       bool
	device          *Device // last-known-good, survives nil readings
	dropLatched     bool
	reconnecting    bool
	reconnectFailed bool
}

// NewWatcher creates a watcher. sessionActive tells the watcher whether
// a drop matters right now; device may be nil until the first reading.
func NewWatcher(
	connected bool,
	sessionActive func() bool,
	device *Device,
	connect ConnectFunc,
	onDisconnect func(),
	onReconnect func(),
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		connected:     connected,
		sessionActive: sessionActive,
		device:        device,
		connect:       connect,
		onDisconnect:  onDisconnect,
		onReconnect:   onReconnect,
		logger:        logger,
	}
}

// HandleDisconnectSignal is the direct path: wire it to the device
// handle's disconnect event when the platform exposes one.
func (w *Watcher) HandleDisconnectSignal() {
	active := w.sessionActive()

	w.mu.Lock()
	w.connected = false
	if w.dropLatched || !active {
		w.mu.Unlock()
		return
	}
	w.dropLatched = true
	w.mu.Unlock()

	w.logger.Info("Link disconnect signal received")
	if w.onDisconnect != nil {
		w.onDisconnect()
	}
}

// SetConnected is the fallback path: feed it the connectivity boolean
// from the connection manager. It detects both edges, firing
// onDisconnect on true->false during a session (if the direct signal
// has not already) and onReconnect on false->true, clearing the latch.
func (w *Watcher) SetConnected(connected bool) {
	active := w.sessionActive()

	w.mu.Lock()
	prev := w.connected
	w.connected = connected

	switch {
	case prev && !connected:
		if w.dropLatched || !active {
			w.mu.Unlock()
			return
		}
		w.dropLatched = true
		w.mu.Unlock()

		w.logger.Info("Link drop detected via connectivity state")
		if w.onDisconnect != nil {
			w.onDisconnect()
		}

	case !prev && connected:
		if !w.dropLatched {
			w.mu.Unlock()
			return
		}
		w.dropLatched = false
		w.reconnecting = false
		w.reconnectFailed = false
		w.mu.Unlock()

		w.logger.Info("Link reconnected")
		if w.onReconnect != nil {
			w.onReconnect()
		}

	default:
		w.mu.Unlock()
	}
}

// UpdateDevice refreshes the device handle. A nil reading is ignored so
// the last-known-good handle stays available for reconnection.
func (w *Watcher) UpdateDevice(device *Device) {
	if device == nil {
		return
	}
	w.mu.Lock()
	w.device = device
	w.mu.Unlock()
}

// Device returns the last-known device handle, or nil if none was seen
func (w *Watcher) Device() *Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

// AttemptReconnect makes one reconnection attempt against the
// last-known device handle. On success the connectivity path is
// expected to flip and fire onReconnect; on failure ReconnectFailed is
// set and the caller is free to retry.
func (w *Watcher) AttemptReconnect(ctx context.Context) bool {
	w.mu.Lock()
	if w.reconnecting {
		w.mu.Unlock()
		return false
	}
	device := w.device
	if device == nil {
		w.reconnectFailed = true
		w.mu.Unlock()
		w.logger.Warn("Reconnect attempted with no known device")
		return false
	}
	w.reconnecting = true
	w.reconnectFailed = false
	target := *device
	w.mu.Unlock()

	w.logger.Info("Attempting link reconnect",
		zap.String("device_id", target.ID),
		zap.String("device_name", target.Name),
	)

	if err := w.connect(ctx, target); err != nil {
		w.mu.Lock()
		w.reconnecting = false
		w.reconnectFailed = true
		w.mu.Unlock()

		w.logger.Warn("Link reconnect failed",
			zap.Error(err),
			zap.String("device_id", target.ID),
		)
		return false
	}

	return true
}

// IsReconnecting reports whether a reconnect attempt is in progress
// (set by AttemptReconnect, cleared when connectivity returns)
func (w *Watcher) IsReconnecting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconnecting
}

// ReconnectFailed reports whether the last reconnect attempt failed
func (w *Watcher) ReconnectFailed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconnectFailed
}

// IsConnected returns the last observed connectivity state
func (w *Watcher) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}
