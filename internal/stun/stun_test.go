package stun

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSTUN answers every binding request with a fixed mapped address.
func fakeSTUN(t *testing.T, ip net.IP, port int) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: ip, Port: port},
			)
			if err != nil {
				continue
			}
			pc.WriteTo(res.Raw, addr)
		}
	}()
	return pc.LocalAddr().String()
}

func TestQueryEndpoint(t *testing.T) {
	addr := fakeSTUN(t, net.IPv4(203, 0, 113, 7), 40000)
	c := NewClient(addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := c.QueryEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7:40000", info.PublicEndpoint)
	assert.True(t, info.Changed)
	assert.Equal(t, "203.0.113.7:40000", c.CurrentEndpoint())

	info, err = c.QueryEndpoint(ctx)
	require.NoError(t, err)
	assert.False(t, info.Changed)
	assert.False(t, c.LastQuery().IsZero())
}

func TestQueryEndpointCancelled(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = NewClient(pc.LocalAddr().String()).QueryEndpoint(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryEndpointSilentServerTimesOut(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	start := time.Now()
	_, err = NewClient(pc.LocalAddr().String()).QueryEndpoint(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), queryTimeout+2*time.Second)
}

func TestPeriodicQueryReportsChange(t *testing.T) {
	addr := fakeSTUN(t, net.IPv4(198, 51, 100, 4), 41000)
	c := NewClient(addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 4)
	go c.StartPeriodicQuery(ctx, 20*time.Millisecond, func(endpoint string) { changed <- endpoint })

	select {
	case endpoint := <-changed:
		assert.Equal(t, "198.51.100.4:41000", endpoint)
	case <-time.After(5 * time.Second):
		t.Fatal("no endpoint reported")
	}
}
