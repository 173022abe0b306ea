package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/fatih/color"
)

// controller is what the console drives; *session.Session satisfies it.
type controller interface {
	Name() string
	RoomCode() string
	PublicEndpoint() string
	Peers() []models.PeerInfo
	Join(code string) error
	Disconnect()
	SendText(text string) error
	SendTextTo(peer, text string) error
	OfferFile(path string) error
	SendImageOffer(path string) error
	RequestFile(peer, filename string, dst transfer.Destination, size int64) error
}

var (
	infoColor  = color.New(color.FgCyan)
	peerColor  = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

type console struct {
	ctl controller
	out io.Writer

	mu     sync.Mutex
	offers map[string]int64
}

func newConsole(ctl controller, out io.Writer) *console {
	return &console{ctl: ctl, out: out, offers: make(map[string]int64)}
}

func (c *console) banner(cfg *config.Config) {
	infoColor.Fprintf(c.out, "DropLine as %s, matchmaker %s\n", cfg.DeviceName(), cfg.ServerAddr())
	if cfg.BridgeAddr() != "" {
		dimColor.Fprintf(c.out, "UI bridge on http://%s\n", cfg.BridgeAddr())
	}
	if cfg.StunServerAddr() != "" {
		dimColor.Fprintf(c.out, "Public endpoint via STUN %s, shown once discovered\n", cfg.StunServerAddr())
	}
	dimColor.Fprintln(c.out, "Type a message and press enter, or /help.")
}

func offerKey(peer, filename string) string {
	return peer + "/" + filename
}

func (c *console) printEvent(e models.Event) {
	switch e.Type {
	case models.EventRoomCodeChanged:
		infoColor.Fprintf(c.out, "Room code: %s\n", e.Room)
	case models.EventPeerConnected:
		peerColor.Fprintf(c.out, "+ %s joined\n", e.Peer)
	case models.EventPeerDisconnected:
		warnColor.Fprintf(c.out, "- %s left\n", e.Peer)
	case models.EventServerDisconnected:
		warnColor.Fprintln(c.out, "Lost the matchmaker, direct links stay up")
	case models.EventEndpointChanged:
		dimColor.Fprintf(c.out, "Public endpoint: %s\n", e.Endpoint)
	case models.EventMessageReceived:
		c.printMessage(e.Message)
	case models.EventTransferCompleted:
		infoColor.Fprintf(c.out, "✓ Transfer %s finished (%d bytes)\n", e.JobID, e.Bytes)
	case models.EventTransferFailed:
		errorColor.Fprintf(c.out, "✗ Transfer %s failed: %v\n", e.JobID, e.Err)
	}
}

func (c *console) printMessage(m *models.Message) {
	if m == nil {
		return
	}
	switch m.Kind {
	case models.KindText:
		fmt.Fprintf(c.out, "%s: %s\n", peerColor.Sprint(m.Sender), m.Content)
	case models.KindFileOffer:
		size, _ := m.Size()
		c.mu.Lock()
		c.offers[offerKey(m.Sender, m.Content)] = size
		c.mu.Unlock()
		fmt.Fprintf(c.out, "%s offers %s (%d bytes), /get %s %s\n", peerColor.Sprint(m.Sender), m.Content, size, m.Sender, m.Content)
	}
}

func (c *console) readCommands(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		quit, err := c.execute(line)
		if err != nil {
			errorColor.Fprintf(c.out, "✗ %v\n", err)
		}
		if quit {
			return
		}
	}
}

// execute runs one console line and reports whether the user asked to quit.
func (c *console) execute(line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.ctl.SendText(line)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		dimColor.Fprintln(c.out, "/room  /peers  /join CODE  /to PEER TEXT  /offer PATH  /image PATH  /get PEER FILE  /offline  /quit")
	case "/room":
		infoColor.Fprintf(c.out, "%s in room %s\n", c.ctl.Name(), c.ctl.RoomCode())
		if ep := c.ctl.PublicEndpoint(); ep != "" {
			dimColor.Fprintf(c.out, "Public endpoint %s\n", ep)
		}
	case "/peers":
		peers := c.ctl.Peers()
		if len(peers) == 0 {
			dimColor.Fprintln(c.out, "No peers yet")
		}
		for _, p := range peers {
			path := "relay"
			if p.Direct {
				path = "direct"
			}
			fmt.Fprintf(c.out, "  %s (%s)\n", peerColor.Sprint(p.Name), path)
		}
	case "/join":
		if rest == "" {
			return false, fmt.Errorf("usage: /join CODE")
		}
		return false, c.ctl.Join(rest)
	case "/to":
		peer, text, ok := strings.Cut(rest, " ")
		if !ok || text == "" {
			return false, fmt.Errorf("usage: /to PEER TEXT")
		}
		return false, c.ctl.SendTextTo(peer, text)
	case "/offer":
		if rest == "" {
			return false, fmt.Errorf("usage: /offer PATH")
		}
		return false, c.ctl.OfferFile(rest)
	case "/image":
		if rest == "" {
			return false, fmt.Errorf("usage: /image PATH")
		}
		return false, c.ctl.SendImageOffer(rest)
	case "/get":
		peer, filename, ok := strings.Cut(rest, " ")
		if !ok || filename == "" {
			return false, fmt.Errorf("usage: /get PEER FILE")
		}
		c.mu.Lock()
		size, known := c.offers[offerKey(peer, filename)]
		c.mu.Unlock()
		if !known {
			size = -1
		}
		return false, c.ctl.RequestFile(peer, filename, nil, size)
	case "/offline":
		c.ctl.Disconnect()
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, nil
}
