package daemon

import (
	"fmt"
	"net"
	"strings"

	"snapkeep/internal/config"
)

// ValidateListenAddress enforces loopback binding unless remote listeners
// are explicitly allowed.
func ValidateListenAddress(addr string, allowRemote bool) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		trimmed = config.DefaultListenAddr
	}

	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", trimmed, err)
	}

	if allowRemote {
		return trimmed, nil
	}

	if strings.EqualFold(host, "localhost") {
		return trimmed, nil
	}

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return "", fmt.Errorf("listen address %q is not loopback; set allow_remote or pass --allow-remote to permit remote listeners", trimmed)
	}
	return trimmed, nil
}
