// Package eventbuf is the thin client over the store-side notification
// buffer: the persistent queue that keeps NOTIFY payloads alive while no
// consumer is attached. Draining never removes rows; only an explicit
// acknowledgement after a fully successful flush does.
package eventbuf

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arc-self/apps/search-indexer/internal/store"
)

// payloadColumn is the buffer procedure's payload column name.
const payloadColumn = "payload"

// Caller is the procedure-call surface the buffer client needs, satisfied
// by *store.Gateway.
type Caller interface {
	Call(ctx context.Context, procedure string, args ...any) (*store.RowBatch, error)
}

// Buffer wraps the two buffer procedures for one deployment. The
// acknowledgement JSON is keyed by the global event fetch key — a different
// key from the per-domain fetch key used when fetching rows.
type Buffer struct {
	caller        Caller
	getProc       string
	cleanProc     string
	eventFetchKey string
	logger        *zap.Logger
}

// New builds a Buffer over the given procedure names.
func New(caller Caller, getProc, cleanProc, eventFetchKey string, logger *zap.Logger) *Buffer {
	return &Buffer{
		caller:        caller,
		getProc:       getProc,
		cleanProc:     cleanProc,
		eventFetchKey: eventFetchKey,
		logger:        logger,
	}
}

// DrainPending fetches every buffered notification for the channel and
// returns the payloads in fetch order. The buffer rows stay put.
func (b *Buffer) DrainPending(ctx context.Context, channel string) ([]string, error) {
	batch, err := b.caller.Call(ctx, b.getProc, channel)
	if err != nil {
		return nil, fmt.Errorf("drain notification buffer: %w", err)
	}
	idx := batch.ColumnIndex(payloadColumn)
	if idx < 0 {
		return nil, fmt.Errorf("drain notification buffer: procedure %s returned no %q column", b.getProc, payloadColumn)
	}

	payloads := make([]string, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		p, ok := row[idx].(string)
		if !ok {
			return nil, fmt.Errorf("drain notification buffer: non-text payload %v", row[idx])
		}
		payloads = append(payloads, p)
	}
	b.logger.Debug("drained buffered notifications",
		zap.String("channel", channel),
		zap.Int("count", len(payloads)),
	)
	return payloads, nil
}

// Acknowledge removes the given payloads from the channel's buffer. The
// payloads travel as {"<eventFetchKey>": [...]} plus the channel name, and
// the removal is committed before return.
func (b *Buffer) Acknowledge(ctx context.Context, channel string, payloads []string) error {
	doc, err := store.MarshalKeyedPayloads(b.eventFetchKey, payloads)
	if err != nil {
		return fmt.Errorf("acknowledge notifications: %w", err)
	}
	if _, err := b.caller.Call(ctx, b.cleanProc, doc, channel); err != nil {
		return fmt.Errorf("acknowledge notifications: %w", err)
	}
	b.logger.Debug("acknowledged notifications",
		zap.String("channel", channel),
		zap.Int("count", len(payloads)),
	)
	return nil
}
