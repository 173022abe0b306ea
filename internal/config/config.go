package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/dropline/pkg/idcommands"
	"github.com/The-Promised-Neverland/dropline/pkg/utils"
	"github.com/joho/godotenv"
)

const (
	defaultHeartbeat     = 3 * time.Second
	defaultPeersQuery    = 2 * time.Second
	defaultRoomCapacity  = 10
	defaultReconnect     = 5 * time.Second
	defaultBridgeAddr    = "127.0.0.1:8890"
	defaultListenAddr    = ":0"
	defaultMatchmaker    = ":8888"
	defaultServerAddress = "127.0.0.1"
	defaultStunInterval  = 5 * time.Minute
)

// Config holds session configuration. Fields are unexported to prevent modification.
type Config struct {
	deviceName         string
	serverAddr         string
	listenAddr         string
	heartbeatTimer     time.Duration
	peersQueryTimeout  time.Duration
	roomCapacity       int
	autoReconnect      bool
	discoverable       bool
	knownPeersFile     string
	downloadDir        string
	shareDir           string
	bridgeAddr         string
	stunServerAddr     string
	stunInterval       time.Duration
	reconnectDelay     time.Duration
	matchmakerAddr     string
	logFile            string
	serviceName        string
	serviceDisplayName string
	serviceDescription string
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	DeviceName           string
	ServerAddr           string
	ListenAddr           string
	KnownPeersFile       string
	DownloadDir          string
	ShareDir             string
	BridgeAddr           string
	MatchmakerAddr       string
	StunServer           string
	HeartbeatTimer       time.Duration
	PeersQueryTimeout    time.Duration
	ReconnectDelay       time.Duration
	RoomCapacity         int
	DisableAutoReconnect bool
	Hidden               bool
	DisableBridge        bool
	// SkipEnv ignores the environment and .env entirely (used by tests).
	SkipEnv bool
}

// New resolves every value with priority: Options > environment > default.
func New(opts Options) *Config {
	getenv := os.Getenv
	if opts.SkipEnv {
		getenv = func(string) string { return "" }
	} else {
		_ = godotenv.Load() // ignore error if .env not found
	}

	deviceName := idcommands.Sanitize(pick(opts.DeviceName, getenv("DEVICE_NAME")))
	if deviceName == "" {
		deviceName = idcommands.GenerateDeviceName()
	}

	serverAddr := pick(opts.ServerAddr, getenv("SERVER_ADDR"), defaultServerAddress)

	cfg := &Config{
		deviceName:         deviceName,
		serverAddr:         utils.WithDefaultPort(serverAddr, utils.DefaultServerPort),
		listenAddr:         pick(opts.ListenAddr, getenv("LISTEN_ADDR"), defaultListenAddr),
		heartbeatTimer:     pickDuration(opts.HeartbeatTimer, getenv("HEARTBEAT_TIMER"), time.Second, defaultHeartbeat),
		peersQueryTimeout:  pickDuration(opts.PeersQueryTimeout, getenv("PEERS_QUERY_TIMEOUT_MS"), time.Millisecond, defaultPeersQuery),
		roomCapacity:       pickInt(opts.RoomCapacity, getenv("ROOM_CAPACITY"), defaultRoomCapacity),
		autoReconnect:      !opts.DisableAutoReconnect && envBool(getenv("AUTO_RECONNECT"), true),
		discoverable:       !opts.Hidden && envBool(getenv("DISCOVERABLE"), true),
		knownPeersFile:     pick(opts.KnownPeersFile, getenv("KNOWN_PEERS_FILE"), defaultKnownPeersFile()),
		downloadDir:        pick(opts.DownloadDir, getenv("DOWNLOAD_DIR"), defaultDownloadDir()),
		shareDir:           pick(opts.ShareDir, getenv("SHARE_DIR")),
		bridgeAddr:         pick(opts.BridgeAddr, getenv("BRIDGE_ADDR"), defaultBridgeAddr),
		stunServerAddr:     pick(opts.StunServer, getenv("STUN_SERVER")),
		stunInterval:       pickDuration(0, getenv("STUN_INTERVAL"), time.Second, defaultStunInterval),
		reconnectDelay:     pickDuration(opts.ReconnectDelay, getenv("RECONNECT_DELAY"), time.Second, defaultReconnect),
		matchmakerAddr:     pick(opts.MatchmakerAddr, getenv("MATCHMAKER_ADDR"), defaultMatchmaker),
		logFile:            pick(getenv("LOG_FILE"), "dropline.log"),
		serviceName:        pick(getenv("SERVICE_NAME"), "DropLine"),
		serviceDisplayName: pick(getenv("SERVICE_DISPLAY_NAME"), "DropLine Peer"),
		serviceDescription: pick(getenv("SERVICE_DESCRIPTION"), "Shares text, clipboard content and files with nearby devices"),
	}
	if opts.DisableBridge {
		cfg.bridgeAddr = ""
	}
	return cfg
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func pickInt(override int, env string, def int) int {
	if override > 0 {
		return override
	}
	if n, err := strconv.Atoi(env); err == nil && n > 0 {
		return n
	}
	return def
}

func pickDuration(override time.Duration, env string, unit time.Duration, def time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if env == "" {
		return def
	}
	n, err := strconv.Atoi(env)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * unit
}

func envBool(env string, def bool) bool {
	if env == "" {
		return def
	}
	b, err := strconv.ParseBool(env)
	if err != nil {
		return def
	}
	return b
}

func defaultKnownPeersFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "known_peers.json"
	}
	return filepath.Join(dir, "DropGoLine", "known_peers.json")
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "DropGoLine")
	}
	return filepath.Join(home, "Downloads", "DropGoLine")
}

// Getter methods (immutable from outside)

func (c *Config) DeviceName() string {
	return c.deviceName
}

func (c *Config) ServerAddr() string {
	return c.serverAddr
}

func (c *Config) ListenAddr() string {
	return c.listenAddr
}

func (c *Config) HeartbeatTimer() time.Duration {
	return c.heartbeatTimer
}

func (c *Config) PeersQueryTimeout() time.Duration {
	return c.peersQueryTimeout
}

func (c *Config) RoomCapacity() int {
	return c.roomCapacity
}

func (c *Config) AutoReconnect() bool {
	return c.autoReconnect
}

func (c *Config) Discoverable() bool {
	return c.discoverable
}

func (c *Config) KnownPeersFile() string {
	return c.knownPeersFile
}

func (c *Config) DownloadDir() string {
	return c.downloadDir
}

func (c *Config) ShareDir() string {
	return c.shareDir
}

func (c *Config) BridgeAddr() string {
	return c.bridgeAddr
}

func (c *Config) StunServerAddr() string {
	return c.stunServerAddr
}

// StunInterval is how often the public endpoint is refreshed.
func (c *Config) StunInterval() time.Duration {
	return c.stunInterval
}

// ReconnectDelay is how long the supervisor waits before re-registering after
// the matchmaker connection drops. Zero disables the retry.
func (c *Config) ReconnectDelay() time.Duration {
	return c.reconnectDelay
}

func (c *Config) MatchmakerAddr() string {
	return c.matchmakerAddr
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}
