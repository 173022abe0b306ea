package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/internal/matchmaker"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *collector) add(e models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) has(match func(models.Event) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if match(e) {
			return true
		}
	}
	return false
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newApp(t *testing.T, name, server, share string) (*Application, *collector) {
	t.Helper()
	cfg := config.New(config.Options{
		SkipEnv:        true,
		DeviceName:     name,
		ServerAddr:     server,
		ListenAddr:     "127.0.0.1:0",
		ShareDir:       share,
		DownloadDir:    t.TempDir(),
		HeartbeatTimer: 200 * time.Millisecond,
		ReconnectDelay: 100 * time.Millisecond,
		DisableBridge:  true,
	})
	app := NewApplication(cfg, knownpeers.NewMemoryStore())
	c := &collector{}
	app.OnEvent(c.add)
	return app, c
}

func roomAssigned(e models.Event) bool {
	return e.Type == models.EventRoomCodeChanged && e.Room != models.RoomLoading
}

func TestApplicationReconnectsWhenServerAppears(t *testing.T) {
	addr := freeAddr(t)
	app, events := newApp(t, "alice", addr, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	assert.False(t, app.Session().Online())

	m := matchmaker.New()
	require.NoError(t, m.Listen(addr))
	go m.Serve(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool { return events.has(roomAssigned) }, 5*time.Second, 20*time.Millisecond)
	assert.True(t, app.Session().Online())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestSharedFileIsOffered(t *testing.T) {
	m := matchmaker.New()
	require.NoError(t, m.Listen("127.0.0.1:0"))
	go m.Serve(context.Background())
	defer m.Close()

	share := filepath.Join(t.TempDir(), "share")
	alice, aliceEvents := newApp(t, "alice", m.Addr(), share)
	bob, bobEvents := newApp(t, "bob", m.Addr(), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)
	require.Eventually(t, func() bool { return aliceEvents.has(roomAssigned) }, 5*time.Second, 20*time.Millisecond)
	go bob.Run(ctx)
	require.Eventually(t, func() bool { return bobEvents.has(roomAssigned) }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, bob.Session().Join(alice.Session().RoomCode()))
	require.Eventually(t, func() bool {
		return bobEvents.has(func(e models.Event) bool { return e.Type == models.EventPeerConnected && e.Peer == "alice" })
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(share, "drop.txt"), []byte("dropped in"), 0644))

	require.Eventually(t, func() bool {
		return bobEvents.has(func(e models.Event) bool {
			return e.Type == models.EventMessageReceived && e.Message.Kind == models.KindFileOffer && e.Message.Content == "drop.txt"
		})
	}, 5*time.Second, 20*time.Millisecond)
}
