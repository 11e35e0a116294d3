package link

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type watcherHarness struct {
	watcher     *Watcher
	disconnects int
	reconnects  int
	connectErr  error
	connected   []Device
}

func newWatcherHarness(active bool, device *Device) *watcherHarness {
	h := &watcherHarness{}
	h.watcher = NewWatcher(
		true,
		func() bool { return active },
		device,
		func(ctx context.Context, d Device) error {
			h.connected = append(h.connected, d)
			return h.connectErr
		},
		func() { h.disconnects++ },
		func() { h.reconnects++ },
		zap.NewNop(),
	)
	return h
}

func TestDirectSignalFiresDisconnectOnce(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})

	h.watcher.HandleDisconnectSignal()
	h.watcher.HandleDisconnectSignal()

	assert.Equal(t, 1, h.disconnects)
	assert.False(t, h.watcher.IsConnected())
}

func TestBothPathsFireDisconnectOnce(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})

	// direct signal and polling fallback race for the same drop
	h.watcher.HandleDisconnectSignal()
	h.watcher.SetConnected(false)

	assert.Equal(t, 1, h.disconnects)
}

func TestPollingPathAloneFiresDisconnect(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})

	h.watcher.SetConnected(false)

	assert.Equal(t, 1, h.disconnects)
}

func TestNoDisconnectWithoutActiveSession(t *testing.T) {
	h := newWatcherHarness(false, &Device{ID: "dev-1"})

	h.watcher.HandleDisconnectSignal()
	h.watcher.SetConnected(false)

	assert.Equal(t, 0, h.disconnects)
}

func TestCleanReconnectCycle(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1", Name: "sensor"})

	h.watcher.HandleDisconnectSignal()
	require.Equal(t, 1, h.disconnects)

	ok := h.watcher.AttemptReconnect(context.Background())
	require.True(t, ok)
	assert.True(t, h.watcher.IsReconnecting())
	assert.False(t, h.watcher.ReconnectFailed())

	// connectivity boolean flips true: reconnect fires once, latch clears
	h.watcher.SetConnected(true)
	assert.Equal(t, 1, h.reconnects)
	assert.False(t, h.watcher.IsReconnecting())

	// a second flip does nothing; the latch is one-shot per cycle
	h.watcher.SetConnected(true)
	assert.Equal(t, 1, h.reconnects)

	// a new drop starts a fresh cycle
	h.watcher.SetConnected(false)
	assert.Equal(t, 2, h.disconnects)
	h.watcher.SetConnected(true)
	assert.Equal(t, 2, h.reconnects)
}

func TestReconnectFailureIsReportedNotFatal(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})
	h.connectErr = fmt.Errorf("device out of range")

	h.watcher.HandleDisconnectSignal()

	ok := h.watcher.AttemptReconnect(context.Background())
	assert.False(t, ok)
	assert.False(t, h.watcher.IsReconnecting())
	assert.True(t, h.watcher.ReconnectFailed())

	// the caller is free to retry; a later success clears the flag
	h.connectErr = nil
	ok = h.watcher.AttemptReconnect(context.Background())
	assert.True(t, ok)
	h.watcher.SetConnected(true)
	assert.False(t, h.watcher.ReconnectFailed())
}

func TestReconnectTargetsLastKnownDevice(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})

	// the live reading goes nil after the drop; the handle survives
	h.watcher.HandleDisconnectSignal()
	h.watcher.UpdateDevice(nil)
	require.NotNil(t, h.watcher.Device())

	ok := h.watcher.AttemptReconnect(context.Background())
	require.True(t, ok)
	require.Len(t, h.connected, 1)
	assert.Equal(t, "dev-1", h.connected[0].ID)
}

func TestReconnectWithNoKnownDeviceFails(t *testing.T) {
	h := newWatcherHarness(true, nil)

	h.watcher.SetConnected(false)

	ok := h.watcher.AttemptReconnect(context.Background())
	assert.False(t, ok)
	assert.True(t, h.watcher.ReconnectFailed())
	assert.Empty(t, h.connected)
}

func TestUpdateDeviceReplacesHandle(t *testing.T) {
	h := newWatcherHarness(true, &Device{ID: "dev-1"})

	h.watcher.UpdateDevice(&Device{ID: "dev-2"})
	require.NotNil(t, h.watcher.Device())
	assert.Equal(t, "dev-2", h.watcher.Device().ID)
}
