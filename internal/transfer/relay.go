package transfer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/The-Promised-Neverland/dropline/internal/rendezvous"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/idcommands"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

// StartRelaySender opens a relay channel under a fresh id, tells peer about it
// with FILE_RELAY_READY and streams the file into the channel.
func (e *Engine) StartRelaySender(ctx context.Context, peer, path string) (*Job, error) {
	size, err := fileSize(path)
	if err != nil {
		return nil, &Error{Op: "relay send", Err: err}
	}
	filename := filepath.Base(path)
	j := newJob(idcommands.NewTransferID(), peer, DirSend, ModeRelay, size)
	j.Filename = filename

	return e.launch(ctx, j, "relay send", func(ctx context.Context) error {
		conn, err := rendezvous.OpenChannel(ctx, e.serverAddr(), j.ID, rendezvous.RoleCreator)
		if err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		defer conn.Close()
		j.setState(StateAcked)

		if e.opts.Notify != nil {
			if err := e.opts.Notify(peer, wire.FileRelayReadyPayload(j.ID, filename, size)); err != nil {
				return fmt.Errorf("failed to notify peer: %w", err)
			}
		}
		logger.Log.Info("[RELAY] Sending", "peer", peer, "file", filename, "id", j.ID, "size", size)
		return e.send(j, conn, path)
	}), nil
}

// StartRelayReceiver joins relay channel id and streams it into dst.
func (e *Engine) StartRelayReceiver(ctx context.Context, peer, id string, dst Destination, size int64) *Job {
	j := newJob(id, peer, DirReceive, ModeRelay, size)
	return e.launch(ctx, j, "relay receive", func(ctx context.Context) error {
		j.setState(StateChannelOpen)
		conn, err := rendezvous.OpenChannel(ctx, e.serverAddr(), id, rendezvous.RoleJoiner)
		if err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		defer conn.Close()
		j.setState(StateAcked)
		logger.Log.Info("[RELAY] Receiving", "peer", peer, "id", id, "dest", dst.String())
		return e.receive(j, conn, dst)
	})
}

func (e *Engine) serverAddr() string {
	if e.opts.ServerAddr == nil {
		return ""
	}
	return e.opts.ServerAddr()
}
