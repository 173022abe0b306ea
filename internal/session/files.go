package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/The-Promised-Neverland/dropline/internal/models"
	"github.com/The-Promised-Neverland/dropline/internal/router"
	"github.com/The-Promised-Neverland/dropline/internal/transfer"
	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

// OfferFile announces path to the room and remembers it so a FILE_REQ for its
// name can be answered.
func (s *Session) OfferFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &transfer.Error{Op: "offer", Err: transfer.ErrSourceMissing}
	}
	name := s.addOffer(path)
	logger.Log.Info("Offering file", "file", name, "size", info.Size())
	return s.Broadcast(models.KindFileOffer, name, info.Size())
}

// SendImageOffer announces an image with an embedded thumbnail.
func (s *Session) SendImageOffer(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &transfer.Error{Op: "offer", Err: transfer.ErrSourceMissing}
	}
	thumb, err := makeThumbnail(path)
	if err != nil {
		return fmt.Errorf("failed to build thumbnail: %w", err)
	}
	name := s.addOffer(path)
	return s.Broadcast(models.KindImageOffer, name, router.Thumbnail{Size: info.Size(), Data: thumb})
}

// StartFileServer serves path on a fresh port until ctx ends.
func (s *Session) StartFileServer(ctx context.Context, path string) (int, error) {
	return s.engine.StartFileServer(ctx, "", path)
}

// OfferFileDirect serves path and sends its port to peer as FILE_PORT.
func (s *Session) OfferFileDirect(peer, path string) (int, error) {
	port, err := s.engine.StartFileServer(s.ctx, peer, path)
	if err != nil {
		return 0, err
	}
	s.addOffer(path)
	if err := s.router.SendDirect(peer, wire.FilePortPayload(port)); err != nil {
		return port, fmt.Errorf("failed to send file port: %w", err)
	}
	return port, nil
}

func (s *Session) DownloadFileDirect(ctx context.Context, peer, host string, port int, dst transfer.Destination, size int64) *transfer.Job {
	return s.engine.DownloadDirect(ctx, peer, host, port, dst, size)
}

func (s *Session) StartRelaySender(ctx context.Context, peer, path string) (*transfer.Job, error) {
	return s.engine.StartRelaySender(ctx, peer, path)
}

func (s *Session) StartRelayReceiver(ctx context.Context, peer, id string, dst transfer.Destination, size int64) *transfer.Job {
	return s.engine.StartRelayReceiver(ctx, peer, id, dst, size)
}

// RequestFile asks peer for filename. The download starts by itself when the
// peer answers with FILE_RELAY_READY or FILE_PORT. A nil dst saves into the
// download directory.
func (s *Session) RequestFile(peer, filename string, dst transfer.Destination, size int64) error {
	filename = filepath.Base(filename)
	if dst == nil {
		dst = transfer.ToPath(filepath.Join(s.cfg.DownloadDir(), filename))
	}
	s.mu.Lock()
	s.pending[peer] = append(s.pending[peer], pendingDownload{filename: filename, dst: dst, size: size})
	s.mu.Unlock()

	if err := s.router.SendDirect(peer, wire.FileRequestPayload(filename)); err != nil {
		s.takePending(peer, func(p pendingDownload) bool { return p.filename == filename })
		return err
	}
	return nil
}

// takePending removes and returns the first pending download from peer that match accepts.
func (s *Session) takePending(peer string, match func(pendingDownload) bool) (pendingDownload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pending[peer]
	for i, p := range list {
		if !match(p) {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.pending, peer)
		} else {
			s.pending[peer] = list
		}
		return p, true
	}
	return pendingDownload{}, false
}

func (s *Session) handleFileRequest(requester, filename string) {
	path, ok := s.offerPath(filename)
	if !ok {
		logger.Log.Warn("File requested but never offered", "peer", requester, "file", filename)
		return
	}
	if _, err := s.engine.StartRelaySender(s.ctx, requester, path); err != nil {
		logger.Log.Warn("Skipping file request", "peer", requester, "file", filename, "err", err)
	}
}

// handleMessage starts downloads that RequestFile is waiting for.
func (s *Session) handleMessage(msg *models.Message) {
	if !msg.Kind.IsTransferring() {
		return
	}
	switch msg.Kind {
	case models.KindFileRelayReady:
		id, ok := msg.TransferID()
		if !ok {
			return
		}
		p, ok := s.takePending(msg.Sender, func(p pendingDownload) bool { return p.filename == msg.Content })
		if !ok {
			return
		}
		size, known := msg.Size()
		if !known || size < 0 {
			size = p.size
		}
		s.engine.StartRelayReceiver(s.ctx, msg.Sender, id, p.dst, size)

	case models.KindFilePort:
		port, ok := msg.Port()
		if !ok || msg.Content == "" {
			return
		}
		p, ok := s.takePending(msg.Sender, func(pendingDownload) bool { return true })
		if !ok {
			return
		}
		logger.Log.Info("[P2P] Starting direct download", "peer", msg.Sender, "file", p.filename, "port", strconv.Itoa(port))
		s.engine.DownloadDirect(s.ctx, msg.Sender, msg.Content, port, p.dst, p.size)
	}
}
