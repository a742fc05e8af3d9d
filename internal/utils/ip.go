package utils

import (
	"fmt"
	"net"
	"strings"
)

// ParseCIDRs parses an allow-list. A bare IP is treated as a single-host network.
func ParseCIDRs(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid allow-list entry %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, netblock, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list entry %q: %w", entry, err)
		}
		nets = append(nets, netblock)
	}
	return nets, nil
}

// IsAllowedIP checking if the IP address enters one of the allowed subnetworks
func IsAllowedIP(ip string, allowed []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, netblock := range allowed {
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}
