package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/p2p"
	"github.com/The-Promised-Neverland/dropline/internal/rendezvous"
	"github.com/The-Promised-Neverland/dropline/internal/router"
	"github.com/The-Promised-Neverland/dropline/internal/stun"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/The-Promised-Neverland/dropline/pkg/utils"
	"go.uber.org/multierr"
)

const eventBuffer = 256

var (
	ErrOffline = errors.New("not connected to rendezvous server")
	ErrClosed  = errors.New("session closed")
)

type pendingDownload struct {
	filename string
	dst      transfer.Destination
	size     int64
}

// Session owns one device's sockets, peers, transfers and event stream.
type Session struct {
	cfg    *config.Config
	known  *knownpeers.Set
	router *router.Router
	links  *p2p.Manager
	engine *transfer.Engine
	events chan models.Event

	ctx    context.Context
	cancel context.CancelFunc

	emitMu       sync.Mutex
	backlog      []models.Event
	endpointOnce sync.Once

	mu             sync.RWMutex
	client         *rendezvous.Client
	serverAddr     string
	room           string
	listenPort     int
	publicEndpoint string
	offers         map[string]string
	pending        map[string][]pendingDownload
	manualOffline  bool
}

func New(cfg *config.Config, store knownpeers.Store) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		known:   knownpeers.Open(store),
		events:  make(chan models.Event, eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		room:    models.RoomLoading,
		offers:  make(map[string]string),
		pending: make(map[string][]pendingDownload),
	}
	s.router = router.New(cfg.DeviceName(), s.known, s.emit, router.Hooks{
		OnFileRequest: s.handleFileRequest,
		OnMessage:     s.handleMessage,
	})
	s.links = p2p.NewManager(ctx, cfg.DeviceName(), s.RoomCode, s.router)
	s.router.SetLinks(s.links)
	s.engine = transfer.NewEngine(transfer.Options{
		ServerAddr: s.ServerAddr,
		Notify:     s.router.SendDirect,
		Emit:       s.emit,
	})
	return s
}

// Events is the stream of notifications for the UI. When nobody drains it,
// progress ticks are dropped and everything else queues up in order.
func (s *Session) Events() <-chan models.Event {
	return s.events
}

func (s *Session) emit(e models.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if len(s.backlog) == 0 {
		select {
		case s.events <- e:
			return
		default:
		}
	}
	if e.Type.IsProgress() {
		logger.Log.Debug("Event buffer full, dropping progress", "job", e.JobID)
		return
	}
	s.backlog = append(s.backlog, e)
	if len(s.backlog) == 1 {
		logger.Log.Warn("⚠️ Event buffer full, queueing events")
		go s.flushBacklog()
	}
}

// flushBacklog delivers queued events once the consumer catches up.
func (s *Session) flushBacklog() {
	for {
		s.emitMu.Lock()
		if len(s.backlog) == 0 {
			s.emitMu.Unlock()
			return
		}
		e := s.backlog[0]
		s.emitMu.Unlock()

		select {
		case s.events <- e:
		case <-s.ctx.Done():
			return
		}

		s.emitMu.Lock()
		s.backlog = s.backlog[1:]
		if len(s.backlog) == 0 {
			s.backlog = nil
			s.emitMu.Unlock()
			return
		}
		s.emitMu.Unlock()
	}
}

func (s *Session) Name() string {
	return s.cfg.DeviceName()
}

func (s *Session) RoomCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) setRoom(code string) {
	s.mu.Lock()
	changed := s.room != code
	s.room = code
	s.mu.Unlock()
	if changed {
		logger.Log.Info("Room code changed", "room", code)
		s.emit(models.Event{Type: models.EventRoomCodeChanged, Room: code})
	}
}

func (s *Session) Peers() []models.PeerInfo {
	return s.router.Peers()
}

func (s *Session) KnownPeers() []string {
	return s.known.Names()
}

func (s *Session) ServerAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverAddr
}

func (s *Session) PublicEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicEndpoint
}

func (s *Session) ListenPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenPort
}

func (s *Session) Jobs() []*transfer.Job {
	return s.engine.Jobs()
}

func (s *Session) currentClient() *rendezvous.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Online reports whether the rendezvous connection is up.
func (s *Session) Online() bool {
	c := s.currentClient()
	return c != nil && c.Connected()
}

// ServerLost is closed when the current rendezvous connection ends. While
// offline it is already closed.
func (s *Session) ServerLost() <-chan struct{} {
	if c := s.currentClient(); c != nil {
		return c.Disconnected()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// WantsServer is false after Disconnect or Close.
func (s *Session) WantsServer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.manualOffline && s.ctx.Err() == nil
}

// Initialize starts the peer listener, registers with the server at
// serverAddr and enters a room. An unreachable server leaves the session
// offline without an error.
func (s *Session) Initialize(ctx context.Context, serverAddr string) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if err := s.ensureListening(); err != nil {
		return err
	}
	s.endpointOnce.Do(func() { go s.trackPublicEndpoint() })

	serverAddr = utils.WithDefaultPort(serverAddr, utils.DefaultServerPort)
	s.mu.Lock()
	if old := s.client; old != nil {
		s.client = nil
		old.Close()
	}
	s.serverAddr = serverAddr
	s.manualOffline = false
	s.mu.Unlock()

	client := rendezvous.NewClient(s.ctx, s.cfg.HeartbeatTimer())
	s.registerHandlers(client)
	reg := rendezvous.Registration{
		Name:         s.cfg.DeviceName(),
		LocalIP:      s.advertisedIP(),
		LocalPort:    s.ListenPort(),
		Discoverable: s.cfg.Discoverable(),
	}
	if err := client.Connect(ctx, serverAddr, reg); err != nil {
		logger.Log.Warn("Rendezvous server unreachable, staying offline", "server", serverAddr, "err", err)
		return nil
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.router.SetRelay(client)
	client.RunPumps()
	go s.watchServer(client)

	code, err := client.EnterRoom(ctx, s.known.Names(), s.cfg.AutoReconnect(), s.cfg.RoomCapacity(), s.cfg.PeersQueryTimeout())
	if err != nil {
		logger.Log.Warn("Failed to enter room", "err", err)
		return nil
	}
	if code != "" {
		logger.Log.Info("Auto-joined known peer room", "room", code)
	}
	return nil
}

func (s *Session) ensureListening() error {
	s.mu.RLock()
	port := s.listenPort
	s.mu.RUnlock()
	if port != 0 {
		return nil
	}
	port, err := s.links.Listen(s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listenPort = port
	s.mu.Unlock()
	return nil
}

// advertisedIP is the listen host when it names one, else the LAN address.
func (s *Session) advertisedIP() string {
	host, _, err := net.SplitHostPort(s.cfg.ListenAddr())
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
			return ip.String()
		}
	}
	return utils.LocalIPAddress()
}

// trackPublicEndpoint asks the STUN server for the NAT mapping and keeps it
// fresh until the session closes.
func (s *Session) trackPublicEndpoint() {
	addr := s.cfg.StunServerAddr()
	if addr == "" {
		return
	}
	client := stun.NewClient(addr)
	if info, err := client.QueryEndpoint(s.ctx); err != nil {
		logger.Log.Warn("STUN query failed", "server", addr, "err", err)
	} else {
		s.setPublicEndpoint(info.PublicEndpoint)
	}
	client.StartPeriodicQuery(s.ctx, s.cfg.StunInterval(), s.setPublicEndpoint)
}

func (s *Session) setPublicEndpoint(endpoint string) {
	s.mu.Lock()
	changed := s.publicEndpoint != endpoint
	s.publicEndpoint = endpoint
	s.mu.Unlock()
	if changed {
		s.emit(models.Event{Type: models.EventEndpointChanged, Endpoint: endpoint})
	}
}

func (s *Session) watchServer(client *rendezvous.Client) {
	<-client.Disconnected()
	s.mu.Lock()
	current := s.client == client
	if current {
		s.client = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.setRoom(models.RoomLoading)
	s.router.SetRelay(nil)
	s.router.DropRelayOnly()
	logger.Log.Warn("🔴 Rendezvous connection lost")
	s.emit(models.Event{Type: models.EventServerDisconnected})
}

func (s *Session) registerHandlers(client *rendezvous.Client) {
	client.RegisterHandler(wire.CmdCode, func(args []string) error {
		if len(args) == 0 || args[0] == "" {
			return fmt.Errorf("empty room code")
		}
		s.setRoom(args[0])
		return nil
	})
	client.RegisterHandler(wire.CmdMatch, func(args []string) error {
		m, err := wire.ParseMatch(args)
		if err != nil {
			return err
		}
		s.handleMatch(m)
		return nil
	})
	client.RegisterHandler(wire.CmdRelay, func(args []string) error {
		if len(args) < 2 {
			return fmt.Errorf("malformed RELAY")
		}
		s.router.HandleRelay(args[0], args[1])
		return nil
	})
	client.RegisterHandler(wire.CmdDisconnect, func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("malformed DISCONNECT")
		}
		s.router.HandleServerDisconnect(args[0])
		return nil
	})
}

// handleMatch dials the matched peer, local endpoint first.
func (s *Session) handleMatch(m wire.Match) {
	if m.Name == s.cfg.DeviceName() {
		return
	}
	if m.Name != "" {
		s.router.HandleMatchHint(m.Name)
		if s.links.Has(m.Name) {
			return
		}
	}
	endpoints := []string{net.JoinHostPort(m.LocalIP, strconv.Itoa(m.LocalPort))}
	if m.PublicIP != "" && m.PublicIP != m.LocalIP {
		endpoints = append(endpoints, net.JoinHostPort(m.PublicIP, strconv.Itoa(m.PublicPort)))
	}
	go func() {
		if _, err := s.links.Connect(s.ctx, endpoints...); err != nil {
			logger.Log.Info("[P2P] Direct connection failed, relay only", "peer", m.Name, "err", err)
		}
	}()
}

// Join switches to the room with the given code.
func (s *Session) Join(code string) error {
	c := s.currentClient()
	if c == nil {
		return ErrOffline
	}
	return c.Join(code)
}

// Disconnect drops the rendezvous connection. Direct links stay up.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.client
	s.manualOffline = true
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Close tears everything down. Known peers are kept for the next start.
func (s *Session) Close() error {
	s.router.SetClosing(true)
	s.mu.Lock()
	c := s.client
	s.manualOffline = true
	s.mu.Unlock()

	var errs error
	if c != nil {
		errs = multierr.Append(errs, c.Close())
	}
	errs = multierr.Append(errs, s.links.Close())
	s.cancel()
	return errs
}

func (s *Session) Broadcast(kind models.Kind, content string, extra any) error {
	return s.router.Send(kind, content, extra)
}

func (s *Session) BroadcastDirect(peer, payload string) error {
	return s.router.SendDirect(peer, payload)
}

func (s *Session) SendText(text string) error {
	return s.Broadcast(models.KindText, text, nil)
}

func (s *Session) SendTextTo(peer, text string) error {
	return s.BroadcastDirect(peer, wire.TextPayload(text))
}

func (s *Session) addOffer(path string) string {
	name := filepath.Base(path)
	s.mu.Lock()
	s.offers[name] = path
	s.mu.Unlock()
	return name
}

func (s *Session) offerPath(filename string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.offers[filepath.Base(filename)]
	return p, ok
}
