package rendezvous

import (
	"context"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

// QueryPeers asks which rooms the named peers sit in and waits up to timeout.
// A reply that arrives after the timeout is discarded.
func (c *Client) QueryPeers(ctx context.Context, names []string, timeout time.Duration) ([]wire.RoomCandidate, error) {
	ch := make(chan []wire.RoomCandidate, 1)
	c.mu.Lock()
	c.pending = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send(wire.CmdQueryPeers, strings.Join(names, ",")); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case found := <-ch:
		return found, nil
	case <-timer.C:
		return nil, ErrQueryTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}
}

func (c *Client) resolvePeersFound(found []wire.RoomCandidate) {
	c.mu.Lock()
	ch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if ch == nil {
		logger.Log.Debug("Ignoring unsolicited PEERS_FOUND")
		return
	}
	ch <- found
}

// EnterRoom joins the room of a known peer when one has space, otherwise
// creates a fresh room. It returns the joined code, or "" after CREATE.
func (c *Client) EnterRoom(ctx context.Context, known []string, autoReconnect bool, capacity int, timeout time.Duration) (string, error) {
	if !autoReconnect || len(known) == 0 {
		return "", c.Create()
	}
	found, err := c.QueryPeers(ctx, known, timeout)
	if err != nil {
		logger.Log.Info("No known peer room found, creating one", "reason", err)
		return "", c.Create()
	}
	for _, cand := range found {
		if cand.Count < capacity {
			logger.Log.Info("Rejoining known peer room", "peer", cand.Name, "room", cand.Room, "count", cand.Count)
			return cand.Room, c.Join(cand.Room)
		}
	}
	logger.Log.Info("Known peer rooms full or empty, creating one", "candidates", len(found))
	return "", c.Create()
}
