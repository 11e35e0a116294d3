package link

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ManagerState is the connection manager's view of the link
type ManagerState struct {
	Connected bool    `json:"connected"`
	Device    *Device `json:"device,omitempty"`
}

// ManagerClient talks to the local connection-management daemon that
// owns pairing and the radio. The agent never speaks the wireless
// protocol itself; it only consumes connect and state primitives.
type ManagerClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewManagerClient creates a client for the connection manager
func NewManagerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ManagerClient {
	return &ManagerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Connect asks the connection manager to re-establish the link to the
// given device
func (c *ManagerClient) Connect(ctx context.Context, device Device) error {
	reqBody := map[string]string{
		"deviceId": device.ID,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal connect request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/connect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("connection manager returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// State fetches the current link state from the connection manager
func (c *ManagerClient) State(ctx context.Context) (*ManagerState, error) {
	url := fmt.Sprintf("%s/api/v1/state", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connection manager returned status %d", resp.StatusCode)
	}

	var state ManagerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode link state: %w", err)
	}

	return &state, nil
}
