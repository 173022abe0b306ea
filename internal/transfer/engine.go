package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

const ChunkSize = 64 * 1024

// Options wires the engine to its session.
type Options struct {
	// ServerAddr returns the rendezvous address used for relay channels.
	ServerAddr func() string
	// Notify delivers an out-of-band payload to one peer.
	Notify func(peer, payload string) error
	// Emit receives progress and completion events.
	Emit func(models.Event)
}

// Engine runs file transfers. Every job is independent of the others.
type Engine struct {
	opts Options

	mu   sync.Mutex
	jobs map[*Job]struct{}
}

func NewEngine(opts Options) *Engine {
	if opts.Emit == nil {
		opts.Emit = func(models.Event) {}
	}
	return &Engine{opts: opts, jobs: make(map[*Job]struct{})}
}

// Jobs lists the jobs still in flight, oldest id first.
func (e *Engine) Jobs() []*Job {
	e.mu.Lock()
	out := make([]*Job, 0, len(e.jobs))
	for j := range e.jobs {
		out = append(out, j)
	}
	e.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// launch registers the job and runs fn on its own goroutine.
func (e *Engine) launch(ctx context.Context, j *Job, op string, fn func(ctx context.Context) error) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	e.mu.Lock()
	e.jobs[j] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer cancel()
		err := fn(ctx)
		if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if err != nil {
			err = &Error{Op: op, JobID: j.ID, Err: err}
		}
		e.mu.Lock()
		delete(e.jobs, j)
		e.mu.Unlock()
		e.report(j, err)
		j.finish(err)
	}()
	return j
}

func (e *Engine) report(j *Job, err error) {
	if err != nil {
		logger.Log.Warn("Transfer failed", "job", j.ID, "peer", j.Peer, "mode", j.Mode, "err", err)
		e.opts.Emit(models.Event{Type: models.EventTransferFailed, Peer: j.Peer, JobID: j.ID, Bytes: j.Bytes(), Err: err})
		return
	}
	logger.Log.Info("Transfer completed", "job", j.ID, "peer", j.Peer, "mode", j.Mode, "bytes", j.Bytes())
	e.opts.Emit(models.Event{Type: models.EventTransferCompleted, Peer: j.Peer, JobID: j.ID, Bytes: j.Bytes(), Progress: j.Progress()})
}

func (e *Engine) progressEvent(j *Job) {
	t := models.EventDownloadProgress
	if j.Direction == DirSend {
		t = models.EventUploadProgress
	}
	e.opts.Emit(models.Event{Type: t, Peer: j.Peer, JobID: j.ID, Progress: j.Progress(), Bytes: j.Bytes()})
}

// receive copies conn into dst in chunks, reporting progress after each one.
func (e *Engine) receive(j *Job, conn net.Conn, dst Destination) (err error) {
	w, err := dst.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			dst.discard()
		}
	}()

	j.setState(StateStreaming)
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write destination: %w", werr)
			}
			j.bytes.Add(int64(n))
			e.progressEvent(j)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("failed to read stream: %w", rerr)
		}
	}
	if j.ExpectedSize >= 0 && j.Bytes() != j.ExpectedSize {
		return fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, j.Bytes(), j.ExpectedSize)
	}
	if j.ExpectedSize == 0 {
		e.progressEvent(j)
	}
	return nil
}

// send streams the file at path into conn in chunks.
func (e *Engine) send(j *Job, conn net.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}
	defer f.Close()

	j.setState(StateStreaming)
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write stream: %w", werr)
			}
			j.bytes.Add(int64(n))
			e.progressEvent(j)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("failed to read source: %w", rerr)
		}
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrSourceMissing, path)
	}
	return info.Size(), nil
}
