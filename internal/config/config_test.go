package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	cfg := New(Options{SkipEnv: true, DeviceName: "alpha"})

	assert.Equal(t, "alpha", cfg.DeviceName())
	assert.Equal(t, "127.0.0.1:8888", cfg.ServerAddr())
	assert.Equal(t, 3*time.Second, cfg.HeartbeatTimer())
	assert.Equal(t, 2*time.Second, cfg.PeersQueryTimeout())
	assert.Equal(t, 10, cfg.RoomCapacity())
	assert.True(t, cfg.AutoReconnect())
	assert.True(t, cfg.Discoverable())
	assert.Equal(t, "127.0.0.1:8890", cfg.BridgeAddr())
	assert.Empty(t, cfg.ShareDir())
	assert.Empty(t, cfg.StunServerAddr())
	assert.Equal(t, 5*time.Minute, cfg.StunInterval())
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", "10.1.1.1")
	t.Setenv("HEARTBEAT_TIMER", "7")
	t.Setenv("AUTO_RECONNECT", "false")
	t.Setenv("ROOM_CAPACITY", "4")

	cfg := New(Options{DeviceName: "beta", ServerAddr: "192.168.0.9:9999"})

	assert.Equal(t, "192.168.0.9:9999", cfg.ServerAddr())
	assert.Equal(t, 7*time.Second, cfg.HeartbeatTimer())
	assert.False(t, cfg.AutoReconnect())
	assert.Equal(t, 4, cfg.RoomCapacity())
}

func TestEnvBareHostGetsDefaultPort(t *testing.T) {
	t.Setenv("SERVER_ADDR", "10.1.1.1")
	cfg := New(Options{DeviceName: "gamma"})
	assert.Equal(t, "10.1.1.1:8888", cfg.ServerAddr())
}

func TestFlagsDisable(t *testing.T) {
	cfg := New(Options{SkipEnv: true, DeviceName: "d", DisableAutoReconnect: true, Hidden: true, DisableBridge: true})
	assert.False(t, cfg.AutoReconnect())
	assert.False(t, cfg.Discoverable())
	assert.Empty(t, cfg.BridgeAddr())
}

func TestGeneratedDeviceName(t *testing.T) {
	cfg := New(Options{SkipEnv: true})
	assert.NotEmpty(t, cfg.DeviceName())
}

func TestConfiguredDeviceNameIsWireSafe(t *testing.T) {
	cfg := New(Options{SkipEnv: true, DeviceName: "kitchen|pc:2"})
	assert.Equal(t, "kitchen-pc-2", cfg.DeviceName())

	t.Setenv("DEVICE_NAME", " den,tv\n")
	cfg = New(Options{})
	assert.Equal(t, "den-tv", cfg.DeviceName())
}

func TestStunSettings(t *testing.T) {
	t.Setenv("STUN_SERVER", "stun.example.org:3478")
	t.Setenv("STUN_INTERVAL", "30")
	cfg := New(Options{DeviceName: "e"})
	assert.Equal(t, "stun.example.org:3478", cfg.StunServerAddr())
	assert.Equal(t, 30*time.Second, cfg.StunInterval())

	cfg = New(Options{DeviceName: "e", StunServer: "127.0.0.1:3478"})
	assert.Equal(t, "127.0.0.1:3478", cfg.StunServerAddr())
}
