package models

import (
	"strconv"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindFileOffer
	KindFileRequest
	KindFileRelayReady
	KindFilePort
	KindImageOffer
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFileOffer:
		return "file_offer"
	case KindFileRequest:
		return "file_request"
	case KindFileRelayReady:
		return "file_relay_ready"
	case KindFilePort:
		return "file_port"
	case KindImageOffer:
		return "image_offer"
	default:
		return "unknown"
	}
}

// IsTransferring reports whether the message announces a stream the receiver should fetch.
func (k Kind) IsTransferring() bool {
	return k == KindFileRelayReady || k == KindFilePort
}

// Message is one decoded payload. Tag carries the kind-specific handle:
// size for offers, transfer id for relay-ready, port for file-port.
type Message struct {
	Sender  string `json:"sender"`
	Kind    Kind   `json:"-"`
	Content string `json:"content"`
	Tag     any    `json:"tag,omitempty"`
	Extra   any    `json:"-"`
}

// Size returns the announced byte count of an offer or relay-ready message.
func (m *Message) Size() (int64, bool) {
	switch m.Kind {
	case KindFileOffer, KindImageOffer:
		return asInt64(m.Tag)
	case KindFileRelayReady:
		return asInt64(m.Extra)
	}
	return 0, false
}

func (m *Message) TransferID() (string, bool) {
	if m.Kind != KindFileRelayReady {
		return "", false
	}
	id, ok := m.Tag.(string)
	return id, ok && id != ""
}

func (m *Message) Port() (int, bool) {
	if m.Kind != KindFilePort {
		return 0, false
	}
	switch v := m.Tag.(type) {
	case int:
		return v, v > 0
	case string:
		p, err := strconv.Atoi(v)
		return p, err == nil && p > 0
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
