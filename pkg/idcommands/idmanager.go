package idcommands

import (
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/The-Promised-Neverland/cardhost/pkg/utils"
)

// GenerateDeviceID creates a stable hardware-based ID from the machine id
// and the first physical MAC address.
func GenerateDeviceID() string {
	machineID, err := getMachineID()
	if err != nil {
		hostname, _ := os.Hostname()
		machineID = "host:" + hostname
	}
	macAddr, err := getPrimaryMACAddress()
	if err != nil {
		macAddr = "no-network"
	}
	combined := fmt.Sprintf("%s:%s", machineID, macAddr)
	hash := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("%x", hash[:16])
}

func getMachineID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		output, err := utils.RunCommand(
			"powershell", "-NoProfile", "-Command",
			`(Get-ItemProperty 'HKLM:\SOFTWARE\Microsoft\Cryptography' -Name MachineGuid).MachineGuid`,
		)
		if err != nil {
			return "", fmt.Errorf("failed to query machine GUID: %w", err)
		}
		return nonEmpty(output, "machine GUID")
	case "darwin":
		output, err := utils.RunCommand("ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
		if err != nil {
			return "", fmt.Errorf("failed to query platform UUID: %w", err)
		}
		for _, line := range strings.Split(output, "\n") {
			if strings.Contains(line, "IOPlatformUUID") {
				if _, v, ok := strings.Cut(line, "="); ok {
					return nonEmpty(strings.Trim(strings.TrimSpace(v), `"`), "platform UUID")
				}
			}
		}
		return "", fmt.Errorf("platform UUID not found")
	default:
		for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if b, err := os.ReadFile(p); err == nil {
				return nonEmpty(string(b), "machine id")
			}
		}
		return "", fmt.Errorf("no machine id file")
	}
}

func nonEmpty(s, what string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s is empty", what)
	}
	return s, nil
}

// getPrimaryMACAddress returns the hardware address of the first interface
// that is up and not a loopback.
func getPrimaryMACAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", fmt.Errorf("no active network adapter found")
}
