package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:8888", WithDefaultPort("10.0.0.5", DefaultServerPort))
	assert.Equal(t, "10.0.0.5:9000", WithDefaultPort("10.0.0.5:9000", DefaultServerPort))
	assert.Equal(t, "", WithDefaultPort("  ", DefaultServerPort))
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "192.168.1.4", HostOf(&net.TCPAddr{IP: net.ParseIP("192.168.1.4"), Port: 5000}))
	assert.Equal(t, "", HostOf(nil))
}

func TestLocalIPAddressParses(t *testing.T) {
	ip := net.ParseIP(LocalIPAddress())
	assert.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}
