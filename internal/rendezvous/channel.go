package rendezvous

import (
	"context"
	"fmt"
	"net"

	"github.com/The-Promised-Neverland/dropline/internal/wire"
	"github.com/The-Promised-Neverland/dropline/pkg/logger"
)

type ChannelRole string

const (
	RoleCreator ChannelRole = "creator"
	RoleJoiner  ChannelRole = "joiner"
)

// OpenChannel opens a relay channel on a fresh server connection. After the
// ack the returned conn is a raw byte pipe to the other side of the channel.
func OpenChannel(ctx context.Context, addr, id string, role ChannelRole) (net.Conn, error) {
	cmd, ack := wire.CmdChannelCreate, wire.AckRelayWait
	if role == RoleJoiner {
		cmd, ack = wire.CmdChannelJoin, wire.AckRelayStart
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay channel: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := wire.NewWriter(conn).WriteLine(cmd, id); err != nil {
		conn.Close()
		return nil, err
	}
	if err := wire.ReadAck(conn, ack); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	logger.Log.Info("[RELAY] Channel open", "id", id, "role", role)
	return conn, nil
}
