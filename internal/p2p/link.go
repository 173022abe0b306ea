package p2p

import (
	"net"
	"strings"
	"sync"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/The-Promised-Neverland/dropline/pkg/utils"
)

// Link is one direct TCP connection to one peer.
type Link struct {
	conn    net.Conn
	writer  *wire.Writer
	mgr     *Manager
	inbound bool

	mu   sync.RWMutex
	name string

	closeOnce sync.Once
}

func newLink(conn net.Conn, mgr *Manager, inbound bool) *Link {
	return &Link{
		conn:    conn,
		writer:  wire.NewWriter(conn),
		mgr:     mgr,
		inbound: inbound,
	}
}

// Name is the peer's declared name, empty until its NAME line arrives.
func (l *Link) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

func (l *Link) Inbound() bool {
	return l.inbound
}

// RemoteIP is the peer address as observed on this socket.
func (l *Link) RemoteIP() string {
	return utils.HostOf(l.conn.RemoteAddr())
}

// Send writes MSG|room|me|payload. Concurrent sends are serialised.
func (l *Link) Send(payload string) error {
	err := l.writer.WriteLine(wire.CmdMsg, l.mgr.room(), l.mgr.self, payload)
	if err != nil {
		logger.Log.Warn("[P2P] Send failed, closing link", "peer", l.Name(), "err", err)
		l.Close()
	}
	return err
}

// Close ends the link; the read loop then reports it.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}

func (l *Link) run() {
	defer l.finish()

	if err := l.writer.WriteLine(wire.CmdName, l.mgr.room(), l.mgr.self); err != nil {
		logger.Log.Warn("[P2P] Handshake write failed", "remote", l.conn.RemoteAddr(), "err", err)
		return
	}

	sc := wire.NewScanner(l.conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, _, _ := strings.Cut(line, wire.Separator)
		switch cmd {
		case wire.CmdName:
			l.handleName(wire.Fields(line, 3))
		case wire.CmdMsg:
			l.handleMsg(wire.Fields(line, 4))
		default:
			logger.Log.Debug("[P2P] Ignoring unknown line", "cmd", cmd)
		}
	}
}

func (l *Link) handleName(fields []string) {
	if len(fields) < 2 {
		return
	}
	name := strings.TrimSpace(fields[len(fields)-1])
	if name == "" {
		return
	}
	l.mu.Lock()
	l.name = name
	l.mu.Unlock()
	l.mgr.register(l, name)
}

func (l *Link) handleMsg(fields []string) {
	var sender, payload string
	switch len(fields) {
	case 4:
		sender, payload = fields[2], fields[3]
	case 3:
		// older peers omit the room code
		sender, payload = fields[1], fields[2]
	default:
		return
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		sender = l.Name()
	}
	l.mgr.handler.LinkMessage(l, sender, payload)
}

func (l *Link) finish() {
	l.Close()
	l.mgr.remove(l)
}
