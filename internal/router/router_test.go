package router

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/The-Promised-Neverland/dropline/internal/knownpeers"
	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu       sync.Mutex
	payloads []string
}

func (f *fakeRelay) Relay(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

type sink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *sink) emit(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func newRouter(t *testing.T, hooks Hooks) (*Router, *sink, *knownpeers.Set) {
	t.Helper()
	s := &sink{}
	known := knownpeers.Open(knownpeers.NewMemoryStore())
	return New("alice", known, s.emit, hooks), s, known
}

func TestRelayTextSelfHealsPresence(t *testing.T) {
	r, s, known := newRouter(t, Hooks{})

	r.HandleRelay("bob", wire.TextPayload("hi"))

	require.Equal(t, []models.EventType{models.EventPeerConnected, models.EventMessageReceived}, s.types())
	msg := s.events[1].Message
	assert.Equal(t, models.KindText, msg.Kind)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "bob", msg.Sender)
	assert.True(t, known.Contains("bob"))
	assert.Equal(t, []models.PeerInfo{{Name: "bob", Direct: false}}, r.Peers())
}

func TestRelayFromSelfIgnored(t *testing.T) {
	r, s, _ := newRouter(t, Hooks{})
	r.HandleRelay("alice", wire.TextPayload("echo"))
	assert.Empty(t, s.types())
}

func TestDuplicateAcrossPathsDeliveredOnce(t *testing.T) {
	r, _, _ := newRouter(t, Hooks{})
	p := wire.TextPayload("hi")

	assert.True(t, r.firstCopy("bob", p, true))
	assert.False(t, r.firstCopy("bob", p, false))

	// two real sends, arriving relay first
	assert.True(t, r.firstCopy("bob", p, false))
	assert.True(t, r.firstCopy("bob", p, false))
	assert.False(t, r.firstCopy("bob", p, true))
	assert.False(t, r.firstCopy("bob", p, true))

	// different sender is independent
	assert.True(t, r.firstCopy("carol", p, true))
}

func TestServerDisconnectFiresOnce(t *testing.T) {
	r, s, known := newRouter(t, Hooks{})
	r.HandleMatchHint("bob")
	r.HandleServerDisconnect("bob")
	r.HandleServerDisconnect("bob")

	assert.Equal(t, []models.EventType{models.EventPeerConnected, models.EventPeerDisconnected}, s.types())
	assert.False(t, known.Contains("bob"))
}

func TestClosingKeepsKnownPeers(t *testing.T) {
	r, _, known := newRouter(t, Hooks{})
	r.HandleMatchHint("bob")
	r.SetClosing(true)
	r.DropRelayOnly()
	assert.True(t, known.Contains("bob"))
	assert.Empty(t, r.Peers())
}

func TestFileRequestHook(t *testing.T) {
	var got [2]string
	r, s, _ := newRouter(t, Hooks{OnFileRequest: func(requester, filename string) {
		got = [2]string{requester, filename}
	}})
	r.HandleRelay("bob", wire.FileRequestPayload("report.pdf"))
	assert.Equal(t, [2]string{"bob", "report.pdf"}, got)
	assert.Equal(t, models.KindFileRequest, s.events[len(s.events)-1].Message.Kind)
}

func TestSendRelaysAndSkipsFilePort(t *testing.T) {
	r, _, _ := newRouter(t, Hooks{})
	assert.ErrorIs(t, r.Send(models.KindText, "hi", nil), ErrNoRoute)

	relay := &fakeRelay{}
	r.SetRelay(relay)
	require.NoError(t, r.Send(models.KindText, "hi", nil))
	require.NoError(t, r.Send(models.KindFileOffer, "a.txt", int64(1000)))
	assert.ErrorIs(t, r.Send(models.KindFilePort, "4000", nil), ErrNoRoute)
	require.NoError(t, r.SendDirect("nobody", wire.FileRequestPayload("a.txt")))

	assert.Equal(t, []string{"TEXT|aGk=", "FILE_OFFER|a.txt|1000", "FILE_REQ|a.txt"}, relay.payloads)
}

func TestDecodeKinds(t *testing.T) {
	m := Decode("bob", "FILE_OFFER|a.txt|1000", "")
	assert.Equal(t, models.KindFileOffer, m.Kind)
	size, _ := m.Size()
	assert.Equal(t, int64(1000), size)

	m = Decode("bob", "FILE_RELAY_READY|id-1|a.txt|5", "")
	id, ok := m.TransferID()
	require.True(t, ok)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, "a.txt", m.Content)

	m = Decode("bob", "FILE_PORT|4000", "10.0.0.7")
	port, ok := m.Port()
	require.True(t, ok)
	assert.Equal(t, 4000, port)
	assert.Equal(t, "10.0.0.7", m.Content)

	m = Decode("bob", "bob: legacy text", "")
	assert.Equal(t, models.KindText, m.Kind)
	assert.Equal(t, "bob: legacy text", m.Content)

	m = Decode("bob", "FILE_RELAY_READY|broken", "")
	assert.Equal(t, models.KindText, m.Kind)
}

func TestDecodeImageOffer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	thumb := base64.StdEncoding.EncodeToString(buf.Bytes())

	m := Decode("bob", wire.ImageOfferPayload("cat.png", 2048, thumb), "")
	assert.Equal(t, models.KindFileOffer, m.Kind)
	assert.Equal(t, "cat.png", m.Content)
	decoded, ok := m.Extra.(image.Image)
	require.True(t, ok)
	assert.Equal(t, 4, decoded.Bounds().Dx())

	m = Decode("bob", wire.ImageOfferPayload("cat.png", 2048, "!!"), "")
	assert.Equal(t, models.KindFileOffer, m.Kind)
	assert.Nil(t, m.Extra)
}

func TestEncodePayload(t *testing.T) {
	p, err := EncodePayload(models.KindFileRelayReady, "a.txt", RelayTicket{ID: "x", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "FILE_RELAY_READY|x|a.txt|3", p)

	p, err = EncodePayload(models.KindImageOffer, "a.jpg", Thumbnail{Size: 9, Data: "QQ=="})
	require.NoError(t, err)
	assert.Equal(t, "IMG_OFFER|a.jpg|9|QQ==", p)

	_, err = EncodePayload(models.KindFileRelayReady, "a.txt", nil)
	assert.Error(t, err)
}
