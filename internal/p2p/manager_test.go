package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	established chan string
	messages    chan string
	closed      chan string
}

func newRecorder() *recorder {
	return &recorder{
		established: make(chan string, 16),
		messages:    make(chan string, 16),
		closed:      make(chan string, 16),
	}
}

func (r *recorder) LinkEstablished(l *Link) { r.established <- l.Name() }
func (r *recorder) LinkMessage(l *Link, sender, payload string) {
	r.messages <- fmt.Sprintf("%s:%s", sender, payload)
}
func (r *recorder) LinkClosed(l *Link) { r.closed <- l.Name() }

func recv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func pair(t *testing.T) (*Manager, *recorder, *Manager, *recorder, string) {
	t.Helper()
	ra, rb := newRecorder(), newRecorder()
	a := NewManager(context.Background(), "alice", func() string { return "123456" }, ra)
	b := NewManager(context.Background(), "bob", func() string { return "123456" }, rb)
	t.Cleanup(func() { a.Close(); b.Close() })
	port, err := a.Listen("127.0.0.1:0")
	require.NoError(t, err)
	return a, ra, b, rb, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestHandshakeAndMessage(t *testing.T) {
	a, ra, b, rb, addr := pair(t)

	link, err := b.Connect(context.Background(), "127.0.0.1:1", addr)
	require.NoError(t, err)
	assert.False(t, link.Inbound())

	assert.Equal(t, "bob", recv(t, ra.established))
	assert.Equal(t, "alice", recv(t, rb.established))
	assert.True(t, a.Has("bob"))
	assert.Equal(t, []string{"alice"}, b.Names())

	require.NoError(t, link.Send("TEXT|aGk=|x"))
	assert.Equal(t, "bob:TEXT|aGk=|x", recv(t, ra.messages))

	assert.Equal(t, 1, a.Broadcast("TEXT|Yg=="))
	assert.Equal(t, "alice:TEXT|Yg==", recv(t, rb.messages))
}

func TestDisconnectFiresOnce(t *testing.T) {
	a, ra, b, rb, addr := pair(t)

	link, err := b.Connect(context.Background(), addr)
	require.NoError(t, err)
	recv(t, ra.established)
	recv(t, rb.established)

	link.Close()
	assert.Equal(t, "bob", recv(t, ra.closed))
	assert.Equal(t, "alice", recv(t, rb.closed))
	assert.False(t, a.Has("bob"))

	select {
	case name := <-ra.closed:
		t.Fatalf("second close event for %s", name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLastWriterWins(t *testing.T) {
	a, ra, b, rb, addr := pair(t)

	first, err := b.Connect(context.Background(), addr)
	require.NoError(t, err)
	recv(t, ra.established)
	recv(t, rb.established)

	_, err = b.Connect(context.Background(), addr)
	require.NoError(t, err)
	recv(t, ra.established)
	recv(t, rb.established)

	current, ok := a.Link("bob")
	require.True(t, ok)

	// the replaced link closing must not drop the peer
	first.Close()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, a.Has("bob"))
	still, _ := a.Link("bob")
	assert.Same(t, current, still)
	assert.Empty(t, ra.closed)
}

func TestLegacyMessageShape(t *testing.T) {
	a, ra, _, _, addr := pair(t)
	_ = a

	raw := NewManager(context.Background(), "legacy", func() string { return "" }, newRecorder())
	t.Cleanup(func() { raw.Close() })
	link, err := raw.Connect(context.Background(), addr)
	require.NoError(t, err)
	recv(t, ra.established)

	require.NoError(t, link.writer.WriteLine("MSG", "legacy", "hello"))
	assert.Equal(t, "legacy:hello", recv(t, ra.messages))
}

func TestConnectNoEndpoints(t *testing.T) {
	m := NewManager(context.Background(), "x", func() string { return "" }, newRecorder())
	_, err := m.Connect(context.Background())
	assert.Error(t, err)
}
