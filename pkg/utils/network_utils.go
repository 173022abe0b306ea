package utils

import (
	"net"
	"slices"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultServerPort is the matchmaker port used when an address carries none.
const DefaultServerPort = 8888

// LocalIPAddress returns the first non-loopback IPv4 address of an interface
// that is up, falling back to 127.0.0.1.
func LocalIPAddress() string {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range interfaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			return ip.String()
		}
	}
	return "127.0.0.1"
}

// WithDefaultPort appends the matchmaker port to a bare host.
func WithDefaultPort(addr string, port int) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// HostOf returns the IP part of a net.Addr, or "" when it has none.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return host
}
