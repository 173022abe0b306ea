package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"go.uber.org/multierr"
)

const ConnectionTimeout = 3 * time.Second

// Handler receives link lifecycle and traffic. LinkClosed is only called for
// the link that currently owns its name in the writer table.
type Handler interface {
	LinkEstablished(l *Link)
	LinkMessage(l *Link, sender, payload string)
	LinkClosed(l *Link)
}

// Manager owns the peer listener and the writer table (peer name to link).
type Manager struct {
	self    string
	room    func() string
	handler Handler

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	table map[string]*Link
	live  map[*Link]struct{}
}

func NewManager(parentCtx context.Context, self string, room func() string, handler Handler) *Manager {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Manager{
		self:    self,
		room:    room,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		table:   make(map[string]*Link),
		live:    make(map[*Link]struct{}),
	}
}

// Listen binds the peer listener and starts accepting. It returns the bound port.
func (m *Manager) Listen(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen for peers: %w", err)
	}
	m.ln = ln
	context.AfterFunc(m.ctx, func() { ln.Close() })
	go m.acceptLoop()
	port := ln.Addr().(*net.TCPAddr).Port
	logger.Log.Info("[P2P] Listening for peers", "port", port)
	return port, nil
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Log.Warn("[P2P] Accept failed", "err", err)
			}
			return
		}
		m.start(conn, true)
	}
}

// Connect dials the endpoints in order and keeps the first that answers.
func (m *Manager) Connect(ctx context.Context, endpoints ...string) (*Link, error) {
	var errs error
	for _, ep := range endpoints {
		if ep == "" {
			continue
		}
		d := net.Dialer{Timeout: ConnectionTimeout}
		conn, err := d.DialContext(ctx, "tcp", ep)
		if err != nil {
			logger.Log.Debug("[P2P] Dial failed", "target", ep, "err", err)
			errs = multierr.Append(errs, err)
			continue
		}
		logger.Log.Info("[P2P] Connection established", "target", ep)
		return m.start(conn, false), nil
	}
	if errs == nil {
		errs = errors.New("no endpoints")
	}
	return nil, fmt.Errorf("failed to connect to peer: %w", errs)
}

func (m *Manager) start(conn net.Conn, inbound bool) *Link {
	l := newLink(conn, m, inbound)
	m.mu.Lock()
	select {
	case <-m.ctx.Done():
		m.mu.Unlock()
		conn.Close()
		return l
	default:
	}
	m.live[l] = struct{}{}
	m.mu.Unlock()
	go l.run()
	return l
}

func (m *Manager) register(l *Link, name string) {
	m.mu.Lock()
	prev := m.table[name]
	m.table[name] = l
	m.mu.Unlock()
	if prev != nil && prev != l {
		logger.Log.Info("[P2P] Replacing link for peer", "peer", name)
	}
	m.handler.LinkEstablished(l)
}

func (m *Manager) remove(l *Link) {
	name := l.Name()
	m.mu.Lock()
	delete(m.live, l)
	current := name != "" && m.table[name] == l
	if current {
		delete(m.table, name)
	}
	m.mu.Unlock()
	if current {
		logger.Log.Info("[P2P] Link closed", "peer", name)
		m.handler.LinkClosed(l)
	}
}

// Link returns the current link for a peer name.
func (m *Manager) Link(name string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.table[name]
	return l, ok
}

func (m *Manager) Has(name string) bool {
	_, ok := m.Link(name)
	return ok
}

// Names lists peers with a direct link, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.table))
	for n := range m.table {
		names = append(names, n)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Broadcast sends payload on every named link and returns how many accepted it.
func (m *Manager) Broadcast(payload string) int {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.table))
	for _, l := range m.table {
		links = append(links, l)
	}
	m.mu.Unlock()

	sent := 0
	for _, l := range links {
		if err := l.Send(payload); err == nil {
			sent++
		}
	}
	return sent
}

// Close stops the listener and closes every link.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	links := make([]*Link, 0, len(m.live))
	for l := range m.live {
		links = append(links, l)
	}
	m.mu.Unlock()

	var errs error
	for _, l := range links {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
