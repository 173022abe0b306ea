package matchmaker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"go.uber.org/multierr"
)

const (
	// IdleTimeout drops clients that stop sending, heartbeats included.
	IdleTimeout = 30 * time.Second
	// ChannelTimeout bounds how long one side of a relay channel waits for the other.
	ChannelTimeout = 2 * time.Minute
	firstLineLimit = 4096
)

// Server is the rendezvous server: rooms, matches, message relay and relay channels.
type Server struct {
	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	clients  map[*client]struct{}
	rooms    map[string]map[*client]struct{}
	channels map[string]*pendingChannel
}

func New() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*client]struct{}),
		rooms:    make(map[string]map[*client]struct{}),
		channels: make(map[string]*pendingChannel),
	}
}

// Listen binds addr; Serve must be called afterwards.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, useful after listening on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("matchmaker not listening")
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	logger.Log.Info("✅ Matchmaker listening", "addr", s.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go s.handleConn(conn)
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) Close() error {
	s.cancel()
	var errs error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c.conn)
	}
	for id, ch := range s.channels {
		conns = append(conns, ch.conn)
		delete(s.channels, id)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return errs
}

// Stats reports room and client counts.
type Stats struct {
	Clients  int
	Rooms    int
	Channels int
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Clients: len(s.clients), Rooms: len(s.rooms), Channels: len(s.channels)}
}

// handleConn reads the first line without buffering so that a relay channel
// keeps every stream byte that follows its command.
func (s *Server) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(IdleTimeout))
	line, err := wire.ReadLineUnbuffered(conn, firstLineLimit)
	if err != nil {
		conn.Close()
		return
	}
	fields := wire.Fields(line, 0)
	switch fields[0] {
	case wire.CmdChannelCreate, wire.CmdChannelJoin:
		conn.SetReadDeadline(time.Time{})
		if len(fields) < 2 || fields[1] == "" {
			conn.Close()
			return
		}
		s.openChannel(conn, fields[1], fields[0] == wire.CmdChannelCreate)
	default:
		c := newClient(conn)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		s.serveClient(c, line)
	}
}

func (s *Server) newRoomCode() string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % 1000000)
		}
		code := fmt.Sprintf("%06d", n.Int64())
		if _, taken := s.rooms[code]; !taken {
			return code
		}
	}
}
