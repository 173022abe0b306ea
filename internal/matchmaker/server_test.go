package matchmaker

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := New()
	require.NoError(t, s.Listen("127.0.0.1:0"))
	go s.Serve(context.Background())
	t.Cleanup(func() { s.Close() })
	return s
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(t, err)
}

func (c *testClient) read(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func registered(t *testing.T, s *Server, name string, discoverable bool) *testClient {
	c := dial(t, s)
	disc := "true"
	if !discoverable {
		disc = "false"
	}
	c.send(t, "REGISTER|"+name+"|10.0.0.1|5000|"+disc)
	return c
}

func TestCreateJoinMatch(t *testing.T) {
	s := startServer(t)
	alice := registered(t, s, "alice", true)
	bob := registered(t, s, "bob", true)

	alice.send(t, "CREATE")
	code := strings.TrimPrefix(alice.read(t), "CODE|")
	require.Len(t, code, 6)

	bob.send(t, "JOIN|"+code)
	assert.Equal(t, "CODE|"+code, bob.read(t))

	m, err := wire.ParseMatch(wire.Fields(bob.read(t), 0)[1:])
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Name)
	assert.Equal(t, "10.0.0.1", m.LocalIP)
	assert.Equal(t, 5000, m.LocalPort)

	m, err = wire.ParseMatch(wire.Fields(alice.read(t), 0)[1:])
	require.NoError(t, err)
	assert.Equal(t, "bob", m.Name)

	alice.send(t, "RELAY|TEXT|a|b")
	assert.Equal(t, "RELAY|alice|TEXT|a|b", bob.read(t))

	alice.conn.Close()
	assert.Equal(t, "DISCONNECT|alice", bob.read(t))
}

func TestQueryPeers(t *testing.T) {
	s := startServer(t)
	alice := registered(t, s, "alice", true)
	hidden := registered(t, s, "hidden", false)
	alice.send(t, "CREATE")
	code := strings.TrimPrefix(alice.read(t), "CODE|")
	hidden.send(t, "JOIN|"+code)
	hidden.read(t)

	carol := registered(t, s, "carol", true)
	carol.send(t, "QUERY_PEERS|alice,hidden,nobody")
	assert.Equal(t, "PEERS_FOUND|alice:"+code+":2", carol.read(t))

	carol.send(t, "QUERY_PEERS|nobody")
	assert.Equal(t, "PEERS_FOUND|", carol.read(t))
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	s := startServer(t)
	alice := registered(t, s, "alice", true)
	bob := registered(t, s, "bob", true)

	alice.send(t, "CREATE")
	first := strings.TrimPrefix(alice.read(t), "CODE|")
	bob.send(t, "JOIN|"+first)
	bob.read(t)
	bob.read(t)
	alice.read(t)

	bob.send(t, "CREATE")
	assert.Equal(t, "DISCONNECT|bob", alice.read(t))
	second := strings.TrimPrefix(bob.read(t), "CODE|")
	assert.NotEqual(t, first, second)
}

func TestRelayChannelPreservesStreamBytes(t *testing.T) {
	s := startServer(t)

	creator := dial(t, s)
	// stream bytes share the packet with the command
	_, err := io.WriteString(creator.conn, "CHANNEL_CREATE|abc\nhello world")
	require.NoError(t, err)
	require.NoError(t, wire.ReadAck(creator.conn, wire.AckRelayWait))

	joiner := dial(t, s)
	joiner.send(t, "CHANNEL_JOIN|abc")
	require.NoError(t, wire.ReadAck(joiner.conn, wire.AckRelayStart))

	creator.conn.(*net.TCPConn).CloseWrite()
	joiner.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got, err := io.ReadAll(joiner.conn)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestRelayChannelJoinerFirst(t *testing.T) {
	s := startServer(t)

	joiner := dial(t, s)
	joiner.send(t, "CHANNEL_JOIN|xyz")
	require.Eventually(t, func() bool { return s.Stats().Channels == 1 }, time.Second, 10*time.Millisecond)

	creator := dial(t, s)
	creator.send(t, "CHANNEL_CREATE|xyz")
	require.NoError(t, wire.ReadAck(creator.conn, wire.AckRelayWait))
	require.NoError(t, wire.ReadAck(joiner.conn, wire.AckRelayStart))

	_, err := io.WriteString(creator.conn, "data")
	require.NoError(t, err)
	creator.conn.Close()
	got, err := io.ReadAll(joiner.conn)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
