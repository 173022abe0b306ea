package wire

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Rendezvous commands, client to server.
const (
	CmdRegister      = "REGISTER"
	CmdCreate        = "CREATE"
	CmdJoin          = "JOIN"
	CmdQueryPeers    = "QUERY_PEERS"
	CmdPing          = "PING"
	CmdRelay         = "RELAY"
	CmdChannelCreate = "CHANNEL_CREATE"
	CmdChannelJoin   = "CHANNEL_JOIN"
)

// Rendezvous commands, server to client.
const (
	CmdCode       = "CODE"
	CmdMatch      = "MATCH"
	CmdPeersFound = "PEERS_FOUND"
	CmdDisconnect = "DISCONNECT"
)

// Peer link commands.
const (
	CmdName = "NAME"
	CmdMsg  = "MSG"
)

// Relay channel acknowledgements. These are raw lines, read byte by byte.
const (
	AckRelayWait  = "RELAY_WAIT"
	AckRelayStart = "RELAY_START"
)

// Payload kinds carried inside MSG and RELAY.
const (
	KindText           = "TEXT"
	KindFileOffer      = "FILE_OFFER"
	KindFileRequest    = "FILE_REQ"
	KindFileRelayReady = "FILE_RELAY_READY"
	KindFilePort       = "FILE_PORT"
	KindImageOffer     = "IMG_OFFER"
)

const (
	Separator = "|"
	// MaxLineSize bounds one protocol line; image offers carry a base64 thumbnail.
	MaxLineSize = 1 << 20
	maxAckSize  = 64
)

// ErrAckMismatch is returned when a relay channel answers with an unexpected ack.
var ErrAckMismatch = errors.New("unexpected relay ack")

// ErrLineTooLong is returned by ReadLineUnbuffered when no newline arrives in time.
var ErrLineTooLong = errors.New("line exceeds limit")

// Line joins fields with the separator. No terminator is appended.
func Line(fields ...string) string {
	return strings.Join(fields, Separator)
}

// Fields splits a line into at most n fields; the last one keeps any
// remaining separators. n <= 0 splits everything.
func Fields(line string, n int) []string {
	line = strings.TrimRight(line, "\r\n")
	if n <= 0 {
		return strings.Split(line, Separator)
	}
	return strings.SplitN(line, Separator, n)
}

// EncodeText base64 encodes free text so it survives the line format.
func EncodeText(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeText reverses EncodeText. Input that is not valid base64 is returned unchanged.
func DecodeText(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

// Writer serialises line writes on one connection.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLine writes the joined fields plus "\n" in a single Write call.
func (w *Writer) WriteLine(fields ...string) error {
	line := Line(fields...) + "\n"
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// NewScanner returns a line scanner sized for protocol lines.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return sc
}

// ReadLineUnbuffered reads one "\n"-terminated line a byte at a time so that
// nothing after the newline is consumed. The terminator is stripped.
func ReadLineUnbuffered(r io.Reader, max int) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimRight(sb.String(), "\r"), nil
			}
			if sb.Len() >= max {
				return "", ErrLineTooLong
			}
			sb.WriteByte(buf[0])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}

// ReadAck reads exactly one ack line and compares it with want.
func ReadAck(r io.Reader, want string) error {
	got, err := ReadLineUnbuffered(r, maxAckSize)
	if err != nil {
		return fmt.Errorf("failed to read ack: %w", err)
	}
	if strings.TrimSpace(got) != want {
		return fmt.Errorf("%w: want %q, got %q", ErrAckMismatch, want, got)
	}
	return nil
}

// WriteAck writes a raw ack line.
func WriteAck(w io.Writer, ack string) error {
	_, err := io.WriteString(w, ack+"\n")
	return err
}

func TextPayload(content string) string {
	return Line(KindText, EncodeText(content))
}

func FileOfferPayload(filename string, size int64) string {
	return Line(KindFileOffer, filename, strconv.FormatInt(size, 10))
}

func FileRequestPayload(filename string) string {
	return Line(KindFileRequest, filename)
}

func FileRelayReadyPayload(transferID, filename string, size int64) string {
	return Line(KindFileRelayReady, transferID, filename, strconv.FormatInt(size, 10))
}

func FilePortPayload(port int) string {
	return Line(KindFilePort, strconv.Itoa(port))
}

func ImageOfferPayload(filename string, size int64, thumbnail string) string {
	return Line(KindImageOffer, filename, strconv.FormatInt(size, 10), thumbnail)
}

// RoomCandidate is one entry of a PEERS_FOUND reply.
type RoomCandidate struct {
	Name  string
	Room  string
	Count int
}

// ParsePeersFound parses "name:room:count,..." and skips malformed entries.
func ParsePeersFound(s string) []RoomCandidate {
	var out []RoomCandidate
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			continue
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		out = append(out, RoomCandidate{Name: parts[0], Room: parts[1], Count: count})
	}
	return out
}

func FormatPeersFound(candidates []RoomCandidate) string {
	entries := make([]string, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, fmt.Sprintf("%s:%s:%d", c.Name, c.Room, c.Count))
	}
	return strings.Join(entries, ",")
}

// Match is the endpoint set announced by a MATCH line.
type Match struct {
	PublicIP   string
	PublicPort int
	LocalIP    string
	LocalPort  int
	Name       string
}

// ParseMatch parses the fields after the MATCH command.
func ParseMatch(fields []string) (Match, error) {
	if len(fields) < 4 {
		return Match{}, fmt.Errorf("malformed MATCH: %d fields", len(fields))
	}
	pubPort, err := strconv.Atoi(fields[1])
	if err != nil {
		return Match{}, fmt.Errorf("malformed MATCH public port: %w", err)
	}
	locPort, err := strconv.Atoi(fields[3])
	if err != nil {
		return Match{}, fmt.Errorf("malformed MATCH local port: %w", err)
	}
	m := Match{PublicIP: fields[0], PublicPort: pubPort, LocalIP: fields[2], LocalPort: locPort}
	if len(fields) > 4 {
		m.Name = strings.TrimSpace(fields[4])
	}
	return m, nil
}

// Fields returns the MATCH arguments in wire order.
func (m Match) Fields() []string {
	f := []string{CmdMatch, m.PublicIP, strconv.Itoa(m.PublicPort), m.LocalIP, strconv.Itoa(m.LocalPort)}
	if m.Name != "" {
		f = append(f, m.Name)
	}
	return f
}
