package matchmaker

import (
	"io"
	"net"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

type pendingChannel struct {
	conn    net.Conn
	creator bool
	timer   *time.Timer
}

// openChannel parks the first side of channel id and bridges when the other side arrives.
func (s *Server) openChannel(conn net.Conn, id string, creator bool) {
	s.mu.Lock()
	waiting, ok := s.channels[id]
	if ok && waiting.creator != creator {
		delete(s.channels, id)
		waiting.timer.Stop()
		s.mu.Unlock()
		if creator {
			wire.WriteAck(conn, wire.AckRelayWait)
			s.bridge(id, conn, waiting.conn)
		} else {
			s.bridge(id, waiting.conn, conn)
		}
		return
	}
	if ok {
		s.mu.Unlock()
		logger.Log.Warn("[RELAY] Channel side already waiting", "id", id, "creator", creator)
		conn.Close()
		return
	}
	pc := &pendingChannel{conn: conn, creator: creator}
	pc.timer = time.AfterFunc(ChannelTimeout, func() {
		s.mu.Lock()
		if s.channels[id] == pc {
			delete(s.channels, id)
		}
		s.mu.Unlock()
		logger.Log.Warn("[RELAY] Channel expired", "id", id)
		conn.Close()
	})
	s.channels[id] = pc
	s.mu.Unlock()

	if creator {
		if err := wire.WriteAck(conn, wire.AckRelayWait); err != nil {
			conn.Close()
		}
	}
	logger.Log.Info("[RELAY] Channel waiting", "id", id, "creator", creator)
}

// bridge starts the joiner and pipes bytes both ways until the creator finishes.
func (s *Server) bridge(id string, creator, joiner net.Conn) {
	if err := wire.WriteAck(joiner, wire.AckRelayStart); err != nil {
		creator.Close()
		joiner.Close()
		return
	}
	logger.Log.Info("[RELAY] Channel bridged", "id", id)
	go func() {
		io.Copy(creator, joiner)
	}()
	go func() {
		n, _ := io.Copy(joiner, creator)
		joiner.Close()
		creator.Close()
		logger.Log.Info("[RELAY] Channel closed", "id", id, "bytes", n)
	}()
}
