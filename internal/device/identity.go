package device

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// IdentityManager resolves a stable identifier for this workout
// monitor, sent with every upload so the backend can attribute
// telemetry to a device
type IdentityManager struct{}

// NewIdentityManager creates a new identity manager
func NewIdentityManager() *IdentityManager {
	return &IdentityManager{}
}

// GetOrGenerateMonitorID returns the configured ID if set, otherwise a
// platform machine identifier, otherwise a fresh UUID
func (im *IdentityManager) GetOrGenerateMonitorID(existingID string) (string, error) {
	if existingID != "" {
		return existingID, nil
	}

	monitorID, err := im.getPlatformMachineID()
	if err == nil && monitorID != "" {
		return monitorID, nil
	}

	return uuid.New().String(), nil
}

func (im *IdentityManager) getPlatformMachineID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return im.getWindowsMachineID()
	case "darwin":
		return im.getDarwinMachineID()
	case "linux":
		return im.getLinuxMachineID()
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func (im *IdentityManager) getWindowsMachineID() (string, error) {
	cmd := exec.Command("wmic", "csproduct", "get", "uuid")
	output, err := cmd.Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && line != "UUID" && len(line) > 10 {
				return line, nil
			}
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "windows-" + hostname, nil
	}

	return "", fmt.Errorf("could not determine Windows machine ID")
}

func (im *IdentityManager) getDarwinMachineID() (string, error) {
	cmd := exec.Command("system_profiler", "SPHardwareDataType")
	output, err := cmd.Output()
	if err == nil {
		for _, line := range strings.Split(string(output), "\n") {
			if strings.Contains(line, "Hardware UUID") {
				parts := strings.Split(line, ":")
				if len(parts) > 1 {
					return strings.TrimSpace(parts[1]), nil
				}
			}
		}
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "darwin-" + hostname, nil
	}

	return "", fmt.Errorf("could not determine macOS machine ID")
}

func (im *IdentityManager) getLinuxMachineID() (string, error) {
	machineID, err := os.ReadFile("/etc/machine-id")
	if err == nil && len(machineID) > 0 {
		return strings.TrimSpace(string(machineID)), nil
	}

	machineID, err = os.ReadFile("/var/lib/dbus/machine-id")
	if err == nil && len(machineID) > 0 {
		return strings.TrimSpace(string(machineID)), nil
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "linux-" + hostname, nil
	}

	return "", fmt.Errorf("could not determine Linux machine ID")
}
