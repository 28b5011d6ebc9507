package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotifyConn is a dedicated connection for LISTEN traffic. The pool is not
// used here: a pooled connection could be recycled mid-subscription, and
// the listener owns exactly one subscription for its whole session.
type NotifyConn struct {
	conn   *pgx.Conn
	logger *zap.Logger
}

// DialNotify opens a fresh single connection with the gateway's
// configuration. The caller owns the connection and must Close it.
func (g *Gateway) DialNotify(ctx context.Context) (*NotifyConn, error) {
	connCfg := g.pool.Config().ConnConfig.Copy()
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("dial notify connection: %w", err)
	}
	return &NotifyConn{conn: conn, logger: g.logger}, nil
}

// Listen subscribes the connection to the channel.
func (nc *NotifyConn) Listen(ctx context.Context, channel string) error {
	if _, err := nc.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %s: %w", channel, err)
	}
	nc.logger.Info("listening for channel events", zap.String("channel", channel))
	return nil
}

// Wait blocks until a notification arrives or ctx expires, returning the
// notification payload. Callers poll with a short deadline to stay
// responsive; a deadline expiry surfaces as ctx.Err().
func (nc *NotifyConn) Wait(ctx context.Context) (string, error) {
	n, err := nc.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close tears the connection down.
func (nc *NotifyConn) Close(ctx context.Context) error {
	return nc.conn.Close(ctx)
}
