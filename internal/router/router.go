package router

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/p2p"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	dedupeSize = 1024
	dedupeTTL  = 30 * time.Second
)

var ErrNoRoute = errors.New("no direct link and no relay")

// Relayer sends a payload through the rendezvous server.
type Relayer interface {
	Relay(payload string) error
}

// Hooks lets the owner react to messages that need more than an event.
type Hooks struct {
	// OnFileRequest runs when a peer asks for a file we offered.
	OnFileRequest func(requester, filename string)
	// OnMessage runs for every delivered message before its event is emitted.
	OnMessage func(msg *models.Message)
}

type pathCount struct {
	direct int
	relay  int
}

// Router turns inbound payloads into events, tracks presence and picks
// outbound transports.
type Router struct {
	self  string
	known *knownpeers.Set
	emit  func(models.Event)
	hooks Hooks

	links *p2p.Manager

	mu      sync.Mutex
	relay   Relayer
	present map[string]struct{}
	closing bool

	seenMu sync.Mutex
	seen   *expirable.LRU[string, *pathCount]
}

func New(self string, known *knownpeers.Set, emit func(models.Event), hooks Hooks) *Router {
	return &Router{
		self:    self,
		known:   known,
		emit:    emit,
		hooks:   hooks,
		present: make(map[string]struct{}),
		seen:    expirable.NewLRU[string, *pathCount](dedupeSize, nil, dedupeTTL),
	}
}

// SetLinks attaches the link manager; it is created with the router as handler.
func (r *Router) SetLinks(m *p2p.Manager) {
	r.links = m
}

// SetRelay swaps the relay path. nil means offline.
func (r *Router) SetRelay(relay Relayer) {
	r.mu.Lock()
	r.relay = relay
	r.mu.Unlock()
}

// SetClosing stops presence changes from being persisted while the local side shuts down.
func (r *Router) SetClosing(closing bool) {
	r.mu.Lock()
	r.closing = closing
	r.mu.Unlock()
}

func (r *Router) currentRelay() Relayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relay
}

func (r *Router) hasLink(name string) bool {
	return r.links != nil && r.links.Has(name)
}

// markPresent emits PeerConnected on the absent to present transition only.
func (r *Router) markPresent(name string) {
	if name == "" || name == r.self {
		return
	}
	r.mu.Lock()
	_, ok := r.present[name]
	if !ok {
		r.present[name] = struct{}{}
	}
	r.mu.Unlock()
	if ok {
		return
	}
	r.known.Add(name)
	logger.Log.Info("Peer connected", "peer", name)
	r.emit(models.Event{Type: models.EventPeerConnected, Peer: name})
}

// markAbsent emits PeerDisconnected on the present to absent transition only.
func (r *Router) markAbsent(name string) {
	r.mu.Lock()
	_, ok := r.present[name]
	delete(r.present, name)
	closing := r.closing
	r.mu.Unlock()
	if !ok {
		return
	}
	if !closing {
		r.known.Remove(name)
	}
	logger.Log.Info("Peer disconnected", "peer", name)
	r.emit(models.Event{Type: models.EventPeerDisconnected, Peer: name})
}

// Peers lists present peers, sorted by name.
func (r *Router) Peers() []models.PeerInfo {
	r.mu.Lock()
	names := make([]string, 0, len(r.present))
	for n := range r.present {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	out := make([]models.PeerInfo, 0, len(names))
	for _, n := range names {
		out = append(out, models.PeerInfo{Name: n, Direct: r.hasLink(n)})
	}
	return out
}

func (r *Router) LinkEstablished(l *p2p.Link) {
	r.markPresent(l.Name())
}

func (r *Router) LinkMessage(l *p2p.Link, sender, payload string) {
	if !r.firstCopy(sender, payload, true) {
		return
	}
	r.Dispatch(sender, payload, true, l.RemoteIP())
}

func (r *Router) LinkClosed(l *p2p.Link) {
	r.markAbsent(l.Name())
}

// HandleRelay receives RELAY|sender|payload from the server.
func (r *Router) HandleRelay(sender, payload string) {
	sender = strings.TrimSpace(sender)
	if sender == r.self {
		return
	}
	if !r.firstCopy(sender, payload, false) {
		return
	}
	r.Dispatch(sender, payload, false, "")
}

// HandleServerDisconnect receives DISCONNECT|name. A live direct link wins.
func (r *Router) HandleServerDisconnect(name string) {
	if r.hasLink(name) {
		logger.Log.Debug("Ignoring server disconnect for directly linked peer", "peer", name)
		return
	}
	r.markAbsent(name)
}

// HandleMatchHint marks a peer named in a MATCH as present.
func (r *Router) HandleMatchHint(name string) {
	r.markPresent(name)
}

// DropRelayOnly forgets peers that were only reachable through the server.
func (r *Router) DropRelayOnly() {
	for _, p := range r.Peers() {
		if !p.Direct {
			r.markAbsent(p.Name)
		}
	}
}

// firstCopy reports whether this copy should be delivered. A copy on one path
// cancels one pending copy seen on the other path.
func (r *Router) firstCopy(sender, payload string, direct bool) bool {
	key := sender + "\x00" + payload
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	pc, ok := r.seen.Get(key)
	if !ok {
		pc = &pathCount{}
	}
	mine, other := &pc.relay, &pc.direct
	if direct {
		mine, other = &pc.direct, &pc.relay
	}
	if *other > 0 {
		*other--
		if pc.direct == 0 && pc.relay == 0 {
			r.seen.Remove(key)
		}
		return false
	}
	*mine++
	r.seen.Add(key, pc)
	return true
}

// Dispatch decodes a payload and delivers it. The sender is marked present first.
func (r *Router) Dispatch(sender, payload string, isDirect bool, observedIP string) {
	r.markPresent(sender)

	msg := Decode(sender, payload, observedIP)
	if msg.Kind == models.KindFileRequest && r.hooks.OnFileRequest != nil {
		r.hooks.OnFileRequest(sender, msg.Content)
	}
	if r.hooks.OnMessage != nil {
		r.hooks.OnMessage(msg)
	}
	logger.Log.Debug("Message received", "peer", sender, "kind", msg.Kind.String(), "direct", isDirect)
	r.emit(models.Event{Type: models.EventMessageReceived, Peer: sender, Message: msg})
}

// Send encodes a message and broadcasts it.
func (r *Router) Send(kind models.Kind, content string, extra any) error {
	payload, err := EncodePayload(kind, content, extra)
	if err != nil {
		return err
	}
	return r.SendPayload(payload)
}

// SendPayload writes to every direct link and, except for FILE_PORT, relays too.
func (r *Router) SendPayload(payload string) error {
	sent := 0
	if r.links != nil {
		sent = r.links.Broadcast(payload)
	}
	kind, _, _ := strings.Cut(payload, wire.Separator)
	if kind == wire.KindFilePort {
		if sent == 0 {
			return ErrNoRoute
		}
		return nil
	}
	relay := r.currentRelay()
	if relay == nil {
		if sent == 0 {
			return ErrNoRoute
		}
		return nil
	}
	if err := relay.Relay(payload); err != nil {
		logger.Log.Warn("[RELAY] Relay send failed", "err", err)
		if sent == 0 {
			return err
		}
	}
	return nil
}

// SendDirect uses the peer's link when there is one and falls back to SendPayload.
func (r *Router) SendDirect(target, payload string) error {
	if r.links != nil {
		if l, ok := r.links.Link(target); ok {
			if err := l.Send(payload); err == nil {
				return nil
			}
		}
	}
	logger.Log.Debug("No direct link, falling back to broadcast", "peer", target)
	return r.SendPayload(payload)
}
