package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/The-Promised-Neverland/dropline/internal/config"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	calls []string
}

func (f *fakeController) Name() string     { return "alice" }
func (f *fakeController) RoomCode() string { return "424242" }
func (f *fakeController) PublicEndpoint() string {
	return "203.0.113.9:40000"
}
func (f *fakeController) Peers() []models.PeerInfo {
	return []models.PeerInfo{{Name: "bob", Direct: true}, {Name: "carol"}}
}
func (f *fakeController) Join(code string) error { f.calls = append(f.calls, "join "+code); return nil }
func (f *fakeController) Disconnect()            { f.calls = append(f.calls, "offline") }
func (f *fakeController) SendText(text string) error {
	f.calls = append(f.calls, "text "+text)
	return nil
}
func (f *fakeController) SendTextTo(peer, text string) error {
	f.calls = append(f.calls, "to "+peer+" "+text)
	return nil
}
func (f *fakeController) OfferFile(path string) error {
	f.calls = append(f.calls, "offer "+path)
	return nil
}
func (f *fakeController) SendImageOffer(path string) error {
	return errors.New("not an image")
}
func (f *fakeController) RequestFile(peer, filename string, dst transfer.Destination, size int64) error {
	f.calls = append(f.calls, "get "+peer+" "+filename+" "+map[bool]string{true: "known", false: "unknown"}[size >= 0])
	return nil
}

func newTestConsole() (*console, *fakeController, *bytes.Buffer) {
	color.NoColor = true
	ctl := &fakeController{}
	out := &bytes.Buffer{}
	return newConsole(ctl, out), ctl, out
}

func TestConsoleCommands(t *testing.T) {
	c, ctl, out := newTestConsole()

	c.readCommands(strings.NewReader("hello room\n/join 123456\n/to bob psst\n/offer /tmp/a.txt\n/offline\n/quit\nnever sent\n"))

	assert.Equal(t, []string{"text hello room", "join 123456", "to bob psst", "offer /tmp/a.txt", "offline"}, ctl.calls)
	assert.Empty(t, out.String())
}

func TestConsoleUsageErrors(t *testing.T) {
	c, ctl, _ := newTestConsole()

	for _, line := range []string{"/join", "/to bob", "/get bob", "/nope", "/image x.png"} {
		_, err := c.execute(line)
		assert.Error(t, err, line)
	}
	assert.Empty(t, ctl.calls)
}

func TestConsoleGetUsesOfferedSize(t *testing.T) {
	c, ctl, out := newTestConsole()

	c.printEvent(models.Event{
		Type:    models.EventMessageReceived,
		Message: &models.Message{Sender: "bob", Kind: models.KindFileOffer, Content: "b.txt", Tag: int64(12)},
	})
	assert.Contains(t, out.String(), "bob offers b.txt (12 bytes)")

	_, err := c.execute("/get bob b.txt")
	require.NoError(t, err)
	_, err = c.execute("/get bob other.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"get bob b.txt known", "get bob other.txt unknown"}, ctl.calls)
}

func TestConsolePrintsEvents(t *testing.T) {
	c, _, out := newTestConsole()

	c.printEvent(models.Event{Type: models.EventRoomCodeChanged, Room: "424242"})
	c.printEvent(models.Event{Type: models.EventPeerConnected, Peer: "bob"})
	c.printEvent(models.Event{Type: models.EventMessageReceived, Message: &models.Message{Sender: "bob", Kind: models.KindText, Content: "hi"}})
	c.printEvent(models.Event{Type: models.EventTransferFailed, JobID: "j1", Err: errors.New("boom")})
	c.printEvent(models.Event{Type: models.EventPeerDisconnected, Peer: "bob"})
	c.printEvent(models.Event{Type: models.EventEndpointChanged, Endpoint: "203.0.113.9:40000"})

	assert.Equal(t, "Room code: 424242\n+ bob joined\nbob: hi\n✗ Transfer j1 failed: boom\n- bob left\nPublic endpoint: 203.0.113.9:40000\n", out.String())
}

func TestConsoleRoomShowsPublicEndpoint(t *testing.T) {
	c, _, out := newTestConsole()
	_, err := c.execute("/room")
	require.NoError(t, err)
	assert.Equal(t, "alice in room 424242\nPublic endpoint 203.0.113.9:40000\n", out.String())
}

func TestConsoleBannerNamesStunServer(t *testing.T) {
	c, _, out := newTestConsole()
	c.banner(config.New(config.Options{SkipEnv: true, DeviceName: "alice", DisableBridge: true, StunServer: "127.0.0.1:3478"}))
	assert.Contains(t, out.String(), "DropLine as alice")
	assert.Contains(t, out.String(), "Public endpoint via STUN 127.0.0.1:3478")
	assert.NotContains(t, out.String(), "UI bridge")
}

func TestConsolePeers(t *testing.T) {
	c, _, out := newTestConsole()
	_, err := c.execute("/peers")
	require.NoError(t, err)
	assert.Equal(t, "  bob (direct)\n  carol (relay)\n", out.String())
}
