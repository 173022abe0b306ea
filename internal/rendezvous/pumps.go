package rendezvous

import (
	"strings"
	"time"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

// fieldLimits caps the split of commands whose last field may contain separators.
var fieldLimits = map[string]int{
	wire.CmdRelay:      3,
	wire.CmdCode:       2,
	wire.CmdDisconnect: 2,
	wire.CmdPeersFound: 2,
}

func splitCommand(line string) []string {
	cmd, _, _ := strings.Cut(line, wire.Separator)
	return wire.Fields(line, fieldLimits[cmd])
}

// readPump reads server lines until the connection ends
func (c *Client) readPump() {
	defer func() {
		logger.Log.Info("🔴 Rendezvous read pump stopped")
		c.Close()
	}()
	sc := wire.NewScanner(c.conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := splitCommand(line)
		if fields[0] == wire.CmdPeersFound {
			var arg string
			if len(fields) > 1 {
				arg = fields[1]
			}
			c.resolvePeersFound(wire.ParsePeersFound(arg))
			continue
		}
		select {
		case c.incoming <- fields:
		case <-c.ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		logger.Log.Warn("Rendezvous read failed", "err", err)
	}
}

// dispatchPump dispatches server lines to registered handlers
func (c *Client) dispatchPump() {
	defer func() {
		logger.Log.Info("🔴 Rendezvous dispatch pump stopped")
	}()
	for {
		select {
		case fields := <-c.incoming:
			handler, ok := c.handlers[fields[0]]
			if !ok {
				logger.Log.Debug("No handler for server command", "cmd", fields[0])
				continue
			}
			if err := handler(fields[1:]); err != nil {
				logger.Log.Error("❌ Handler error", "cmd", fields[0], "err", err)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// heartbeatPump sends PING every interval; a failed write ends the connection.
func (c *Client) heartbeatPump() {
	if c.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.send(wire.CmdPing); err != nil {
				logger.Log.Warn("Heartbeat failed, treating as disconnect", "err", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// RunPumps starts the read, dispatch and heartbeat loops
func (c *Client) RunPumps() {
	go c.readPump()
	go c.dispatchPump()
	go c.heartbeatPump()
	logger.Log.Info("✅ Rendezvous pumps started")
}
