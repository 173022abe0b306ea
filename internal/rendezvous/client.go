package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

const dialTimeout = 5 * time.Second

var (
	ErrNotConnected = errors.New("not connected to rendezvous server")
	ErrAckMismatch  = wire.ErrAckMismatch
	ErrQueryTimeout = errors.New("peer query timed out")
)

// HandlerFunc receives the arguments of one server line, command excluded.
type HandlerFunc func(args []string) error

// Registration is what the client announces in REGISTER.
type Registration struct {
	Name         string
	LocalIP      string
	LocalPort    int
	Discoverable bool
}

// Client owns the long-lived connection to the matchmaking server.
type Client struct {
	conn      net.Conn
	writer    *wire.Writer
	heartbeat time.Duration
	handlers  map[string]HandlerFunc

	incoming chan []string
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	pending chan []wire.RoomCandidate
}

func NewClient(parentCtx context.Context, heartbeat time.Duration) *Client {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Client{
		heartbeat: heartbeat,
		handlers:  make(map[string]HandlerFunc),
		incoming:  make(chan []string, 256),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Disconnected is closed once the server connection is gone.
func (c *Client) Disconnected() <-chan struct{} {
	return c.ctx.Done()
}

// RegisterHandler must be called before RunPumps.
func (c *Client) RegisterHandler(cmd string, handler HandlerFunc) {
	c.handlers[cmd] = handler
}

// Connect dials the server and sends REGISTER.
func (c *Client) Connect(ctx context.Context, addr string, reg Registration) error {
	logger.Log.Info("Attempting connection", "server", addr)
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		logger.Log.Error("Connection error", "server", addr, "err", err)
		return fmt.Errorf("failed to dial rendezvous server: %w", err)
	}
	c.conn = conn
	c.writer = wire.NewWriter(conn)
	context.AfterFunc(c.ctx, func() { conn.Close() })

	err = c.writer.WriteLine(wire.CmdRegister, reg.Name, reg.LocalIP,
		strconv.Itoa(reg.LocalPort), strconv.FormatBool(reg.Discoverable))
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to register: %w", err)
	}
	logger.Log.Info("Connected to rendezvous server", "server", addr, "name", reg.Name)
	return nil
}

func (c *Client) send(fields ...string) error {
	if c.writer == nil {
		return ErrNotConnected
	}
	select {
	case <-c.ctx.Done():
		return ErrNotConnected
	default:
	}
	if err := c.writer.WriteLine(fields...); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Client) Create() error {
	return c.send(wire.CmdCreate)
}

func (c *Client) Join(code string) error {
	return c.send(wire.CmdJoin, code)
}

// Relay hands a payload to the server for fan-out to the rest of the room.
func (c *Client) Relay(payload string) error {
	return c.send(wire.CmdRelay, payload)
}

// Connected reports whether the server connection is still up.
func (c *Client) Connected() bool {
	if c.conn == nil {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *Client) Close() error {
	c.cancel()
	return nil
}
