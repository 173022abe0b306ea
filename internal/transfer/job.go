package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/The-Promised-Neverland/dropline/internal/rendezvous"
)

type TransferMode string

const (
	ModeDirect TransferMode = "direct"
	ModeRelay  TransferMode = "relay"
)

type Direction string

const (
	DirSend    Direction = "send"
	DirReceive Direction = "receive"
)

type State string

const (
	StateRequested   State = "requested"
	StateListening   State = "listening"
	StateConnected   State = "connected"
	StateChannelOpen State = "channel_open"
	StateAcked       State = "acked"
	StateStreaming   State = "streaming"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

var (
	ErrSourceMissing = errors.New("source file missing")
	ErrIncomplete    = errors.New("stream ended before expected size")
	ErrAckMismatch   = rendezvous.ErrAckMismatch
)

// Error is a failure scoped to one transfer job.
type Error struct {
	Op    string
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transfer %s [%s]: %v", e.Op, e.JobID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Job is one transfer attempt. Bytes only grows until the job ends.
type Job struct {
	ID           string
	Peer         string
	Direction    Direction
	Mode         TransferMode
	ExpectedSize int64
	Filename     string

	bytes atomic.Int64

	mu    sync.Mutex
	state State
	err   error

	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(id, peer string, dir Direction, mode TransferMode, size int64) *Job {
	return &Job{
		ID:           id,
		Peer:         peer,
		Direction:    dir,
		Mode:         mode,
		ExpectedSize: size,
		state:        StateRequested,
		done:         make(chan struct{}),
	}
}

func (j *Job) Bytes() int64 {
	return j.bytes.Load()
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Progress is Bytes/ExpectedSize, or -1 when the size is unknown.
func (j *Job) Progress() float64 {
	return progress(j.Bytes(), j.ExpectedSize)
}

func progress(n, size int64) float64 {
	if size < 0 {
		return -1
	}
	if size == 0 || n >= size {
		return 1
	}
	return float64(n) / float64(size)
}

// Cancel aborts the job by closing its socket.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends and returns its error.
func (j *Job) Wait() error {
	<-j.done
	return j.Err()
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	if err != nil {
		j.state = StateFailed
		j.err = err
	} else {
		j.state = StateCompleted
	}
	j.mu.Unlock()
	close(j.done)
}

// Destination is where a received stream goes.
type Destination interface {
	open() (io.WriteCloser, error)
	discard()
	String() string
}

// ToPath writes to a file, created with its parent directories on first use.
func ToPath(path string) Destination {
	return &pathDest{path: path}
}

// ToWriter writes to w. The writer is not closed.
func ToWriter(w io.Writer) Destination {
	return &writerDest{w: w}
}

type pathDest struct {
	path string
}

func (d *pathDest) open() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination dir: %w", err)
	}
	f, err := os.Create(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	return f, nil
}

func (d *pathDest) discard() {
	os.Remove(d.path)
}

func (d *pathDest) String() string {
	return d.path
}

type writerDest struct {
	w io.Writer
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func (d *writerDest) open() (io.WriteCloser, error) {
	return nopCloser{d.w}, nil
}

func (d *writerDest) discard() {}

func (d *writerDest) String() string {
	return "stream"
}
