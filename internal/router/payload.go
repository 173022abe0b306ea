package router

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
)

// RelayTicket is the extra value for KindFileRelayReady.
type RelayTicket struct {
	ID   string
	Size int64
}

// Thumbnail is the extra value for KindImageOffer. Data is base64 JPEG.
type Thumbnail struct {
	Size int64
	Data string
}

// EncodePayload builds the wire payload for a message kind.
func EncodePayload(kind models.Kind, content string, extra any) (string, error) {
	switch kind {
	case models.KindText:
		return wire.TextPayload(content), nil
	case models.KindFileOffer:
		return wire.FileOfferPayload(content, sizeOf(extra)), nil
	case models.KindFileRequest:
		return wire.FileRequestPayload(content), nil
	case models.KindFileRelayReady:
		t, ok := extra.(RelayTicket)
		if !ok {
			return "", fmt.Errorf("relay ready needs a RelayTicket, got %T", extra)
		}
		return wire.FileRelayReadyPayload(t.ID, content, t.Size), nil
	case models.KindFilePort:
		port, err := strconv.Atoi(content)
		if err != nil {
			if p, ok := extra.(int); ok {
				port = p
			} else {
				return "", fmt.Errorf("invalid file port %q", content)
			}
		}
		return wire.FilePortPayload(port), nil
	case models.KindImageOffer:
		th, ok := extra.(Thumbnail)
		if !ok {
			return "", fmt.Errorf("image offer needs a Thumbnail, got %T", extra)
		}
		return wire.ImageOfferPayload(content, th.Size, th.Data), nil
	default:
		return content, nil
	}
}

func sizeOf(extra any) int64 {
	switch v := extra.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return -1
}

// Decode turns a raw payload into a message. Malformed payloads of a known
// kind fall back to text carrying the raw payload.
func Decode(sender, raw, observedIP string) *models.Message {
	kind, rest, _ := strings.Cut(raw, wire.Separator)
	text := &models.Message{Sender: sender, Kind: models.KindText, Content: raw}

	switch kind {
	case wire.KindText:
		return &models.Message{Sender: sender, Kind: models.KindText, Content: wire.DecodeText(rest)}

	case wire.KindFileOffer:
		f := wire.Fields(rest, 2)
		if len(f) < 2 || f[0] == "" {
			return text
		}
		return &models.Message{Sender: sender, Kind: models.KindFileOffer, Content: f[0], Tag: parseSize(f[1])}

	case wire.KindFileRequest:
		if rest == "" {
			return text
		}
		return &models.Message{Sender: sender, Kind: models.KindFileRequest, Content: rest}

	case wire.KindFileRelayReady:
		f := wire.Fields(rest, 3)
		if len(f) < 3 || f[0] == "" {
			return text
		}
		return &models.Message{Sender: sender, Kind: models.KindFileRelayReady, Content: f[1], Tag: f[0], Extra: parseSize(f[2])}

	case wire.KindFilePort:
		port, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return text
		}
		return &models.Message{Sender: sender, Kind: models.KindFilePort, Content: observedIP, Tag: port}

	case wire.KindImageOffer:
		f := wire.Fields(rest, 3)
		if len(f) < 3 || f[0] == "" {
			return text
		}
		msg := &models.Message{Sender: sender, Kind: models.KindFileOffer, Content: f[0], Tag: parseSize(f[1])}
		if img, ok := decodeThumbnail(f[2]); ok {
			msg.Extra = img
		}
		return msg
	}
	return text
}

func parseSize(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func decodeThumbnail(s string) (image.Image, bool) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return img, true
}
