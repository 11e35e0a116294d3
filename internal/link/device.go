package link

// Device is a handle to a paired sensor device. The watcher keeps the
// last-known-good handle even while disconnected so a reconnect can
// target the same device without a fresh discovery step.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
