package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

const (
	DirectDialTimeout = 10 * time.Second
	// ServeWindow is how long an offer listener keeps accepting.
	ServeWindow = 10 * time.Minute
)

// StartFileServer serves path to every connection on a fresh ephemeral
// listener. The port identifies this offer; the listener closes when ctx ends
// or after ServeWindow.
func (e *Engine) StartFileServer(ctx context.Context, peer, path string) (int, error) {
	size, err := fileSize(path)
	if err != nil {
		return 0, &Error{Op: "serve", Err: err}
	}
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, &Error{Op: "serve", Err: fmt.Errorf("failed to listen: %w", err)}
	}
	port := ln.Addr().(*net.TCPAddr).Port

	serveCtx, cancel := context.WithTimeout(ctx, ServeWindow)
	context.AfterFunc(serveCtx, func() { ln.Close() })
	logger.Log.Info("[P2P] Serving file", "file", filepath.Base(path), "port", port)

	go func() {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Log.Warn("[P2P] File server accept failed", "port", port, "err", err)
				}
				return
			}
			j := newJob(conn.RemoteAddr().String(), peer, DirSend, ModeDirect, size)
			j.Filename = filepath.Base(path)
			j.setState(StateConnected)
			e.launch(ctx, j, "direct send", func(ctx context.Context) error {
				stop := context.AfterFunc(ctx, func() { conn.Close() })
				defer stop()
				defer conn.Close()
				return e.send(j, conn, path)
			})
		}
	}()
	return port, nil
}

// DownloadDirect dials host:port and streams whatever it serves into dst.
func (e *Engine) DownloadDirect(ctx context.Context, peer, host string, port int, dst Destination, size int64) *Job {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	j := newJob(addr, peer, DirReceive, ModeDirect, size)
	return e.launch(ctx, j, "direct receive", func(ctx context.Context) error {
		d := net.Dialer{Timeout: DirectDialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		defer conn.Close()
		j.setState(StateConnected)
		logger.Log.Info("[P2P] Downloading", "peer", peer, "addr", addr, "dest", dst.String())
		return e.receive(j, conn, dst)
	})
}
