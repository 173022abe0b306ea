package matchmaker

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/The-Promised-Neverland/dropline/pkg/utils"
)

type client struct {
	conn   net.Conn
	writer *wire.Writer

	// guarded by Server.mu
	name         string
	localIP      string
	localPort    int
	discoverable bool
	room         string
	publicIP     string
	publicPort   int
}

func newClient(conn net.Conn) *client {
	c := &client{conn: conn, writer: wire.NewWriter(conn)}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		c.publicIP = addr.IP.String()
		c.publicPort = addr.Port
	}
	return c
}

func (c *client) send(fields ...string) {
	if err := c.writer.WriteLine(fields...); err != nil {
		logger.Log.Debug("[MATCH] Write failed", "client", c.name, "err", err)
		c.conn.Close()
	}
}

// per-command split limits; the last field keeps its separators
var fieldLimits = map[string]int{
	wire.CmdRelay:      2,
	wire.CmdJoin:       2,
	wire.CmdQueryPeers: 2,
	wire.CmdRegister:   5,
}

func (s *Server) serveClient(c *client, first string) {
	defer s.dropClient(c)

	s.handleLine(c, first)
	sc := wire.NewScanner(c.conn)
	for {
		c.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		if !sc.Scan() {
			return
		}
		s.handleLine(c, sc.Text())
	}
}

func (s *Server) handleLine(c *client, line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	cmd, _, _ := strings.Cut(line, wire.Separator)
	fields := wire.Fields(line, fieldLimits[cmd])
	args := fields[1:]

	switch cmd {
	case wire.CmdRegister:
		s.register(c, args)
	case wire.CmdCreate:
		s.mu.Lock()
		code := s.newRoomCode()
		s.mu.Unlock()
		s.enterRoom(c, code)
	case wire.CmdJoin:
		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return
		}
		s.enterRoom(c, strings.TrimSpace(args[0]))
	case wire.CmdQueryPeers:
		var names []string
		if len(args) > 0 {
			names = strings.Split(args[0], ",")
		}
		c.send(wire.CmdPeersFound, wire.FormatPeersFound(s.findPeers(c, names)))
	case wire.CmdRelay:
		if len(args) == 0 {
			return
		}
		s.relay(c, args[0])
	case wire.CmdPing:
	default:
		logger.Log.Debug("[MATCH] Unknown command", "cmd", cmd)
	}
}

func (s *Server) register(c *client, args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(args) > 0 {
		c.name = strings.TrimSpace(args[0])
	}
	if len(args) > 1 {
		c.localIP = args[1]
	}
	if len(args) > 2 {
		c.localPort, _ = strconv.Atoi(args[2])
	}
	c.discoverable = true
	if len(args) > 3 {
		if b, err := strconv.ParseBool(args[3]); err == nil {
			c.discoverable = b
		}
	}
	if c.localIP == "" {
		c.localIP = c.publicIP
	}
	logger.Log.Info("✨ Client registered", "name", c.name, "local", c.localIP, "port", c.localPort, "public", utils.HostOf(c.conn.RemoteAddr()))
}

func (c *client) match() wire.Match {
	return wire.Match{
		PublicIP:   c.publicIP,
		PublicPort: c.localPort,
		LocalIP:    c.localIP,
		LocalPort:  c.localPort,
		Name:       c.name,
	}
}

// enterRoom moves c into room code, announcing it to the members on both sides.
func (s *Server) enterRoom(c *client, code string) {
	s.mu.Lock()
	left := s.leaveLocked(c)
	members := s.rooms[code]
	if members == nil {
		members = make(map[*client]struct{})
		s.rooms[code] = members
	}
	others := make([]*client, 0, len(members))
	for m := range members {
		others = append(others, m)
	}
	members[c] = struct{}{}
	c.room = code
	mine := c.match()
	theirs := make([]wire.Match, 0, len(others))
	for _, m := range others {
		theirs = append(theirs, m.match())
	}
	name := c.name
	s.mu.Unlock()

	for _, m := range left {
		m.send(wire.CmdDisconnect, name)
	}
	c.send(wire.CmdCode, code)
	for i, m := range others {
		c.send(theirs[i].Fields()...)
		m.send(mine.Fields()...)
	}
	logger.Log.Info("[MATCH] Client entered room", "name", name, "room", code, "members", len(others)+1)
}

// leaveLocked removes c from its room and returns the members left behind.
func (s *Server) leaveLocked(c *client) []*client {
	if c.room == "" {
		return nil
	}
	members := s.rooms[c.room]
	delete(members, c)
	if len(members) == 0 {
		delete(s.rooms, c.room)
	}
	c.room = ""
	out := make([]*client, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

func (s *Server) findPeers(c *client, names []string) []wire.RoomCandidate {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.RoomCandidate
	for other := range s.clients {
		if other == c || !other.discoverable || other.room == "" || !want[other.name] {
			continue
		}
		out = append(out, wire.RoomCandidate{Name: other.name, Room: other.room, Count: len(s.rooms[other.room])})
	}
	return out
}

func (s *Server) relay(c *client, payload string) {
	s.mu.RLock()
	name := c.name
	var targets []*client
	for m := range s.rooms[c.room] {
		if m != c {
			targets = append(targets, m)
		}
	}
	s.mu.RUnlock()
	for _, m := range targets {
		m.send(wire.CmdRelay, name, payload)
	}
}

func (s *Server) dropClient(c *client) {
	c.conn.Close()
	s.mu.Lock()
	delete(s.clients, c)
	left := s.leaveLocked(c)
	name := c.name
	s.mu.Unlock()
	for _, m := range left {
		m.send(wire.CmdDisconnect, name)
	}
	logger.Log.Info("🔴 Client disconnected", "name", name)
}
