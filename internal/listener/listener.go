// Package listener runs the change-capture loop for one domain: subscribe
// to the domain channel, recover notifications buffered while offline,
// coalesce live notifications by size-or-time, and drive the
// fetch → normalise → hook → upsert → acknowledge cycle.
//
// Delivery is at-least-once. The in-memory buffer is cleared and the
// persistent buffer acknowledged only after a fully successful flush; any
// failure abandons the session, and the next session re-drains the
// un-acknowledged payloads from the persistent buffer. Duplicates are safe
// because the index upsert is idempotent on document identity.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/apps/search-indexer/internal/config"
	"github.com/arc-self/apps/search-indexer/internal/normalize"
	"github.com/arc-self/apps/search-indexer/internal/store"
)

// defaultPollInterval bounds how long one poll blocks; the loop stays
// responsive to shutdown and flush deadlines within this window.
const defaultPollInterval = 100 * time.Millisecond

// NotifyConn is one session's subscription connection.
type NotifyConn interface {
	Listen(ctx context.Context, channel string) error
	Wait(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// NotifyDialer opens subscription connections; satisfied by *store.Gateway.
type NotifyDialer interface {
	DialNotify(ctx context.Context) (*store.NotifyConn, error)
}

// RowFetcher fetches authoritative rows for a set of payload keys.
type RowFetcher interface {
	CallGetByID(ctx context.Context, procedure, fetchKey string, payloads []string) (*store.RowBatch, error)
}

// EventBuffer is the persistent notification buffer protocol.
type EventBuffer interface {
	DrainPending(ctx context.Context, channel string) ([]string, error)
	Acknowledge(ctx context.Context, channel string, payloads []string) error
}

// DocumentSink receives normalised document batches.
type DocumentSink interface {
	Upsert(ctx context.Context, collection string, docs []map[string]any) error
}

// HookApplier applies the per-domain business transform.
type HookApplier interface {
	Apply(ctx context.Context, domain string, batch *store.RowBatch) error
}

// dialFunc adapts NotifyDialer's concrete return type to the NotifyConn
// interface so tests can substitute fake connections.
type dialFunc func(ctx context.Context) (NotifyConn, error)

// Listener owns the notify buffer and the session lifecycle for one domain.
type Listener struct {
	domain        config.DomainBindings
	dial          dialFunc
	fetcher       RowFetcher
	events        EventBuffer
	sink          DocumentSink
	hooks         HookApplier
	retryInterval time.Duration
	pollInterval  time.Duration
	logger        *zap.Logger
	tracer        trace.Tracer

	// mu guards the buffer state against Snapshot readers; the loop itself
	// is single-threaded.
	mu        sync.Mutex
	buffer    []string
	lastFlush time.Time
	flushes   uint64
	failures  uint64
}

// New builds a Listener bound to one domain.
func New(domain config.DomainBindings, dialer NotifyDialer, fetcher RowFetcher, events EventBuffer,
	sink DocumentSink, hooks HookApplier, retryInterval time.Duration, logger *zap.Logger) *Listener {
	return &Listener{
		domain: domain,
		dial: func(ctx context.Context) (NotifyConn, error) {
			return dialer.DialNotify(ctx)
		},
		fetcher:       fetcher,
		events:        events,
		sink:          sink,
		hooks:         hooks,
		retryInterval: retryInterval,
		pollInterval:  defaultPollInterval,
		logger:        logger,
		tracer:        otel.Tracer("change-listener"),
	}
}

// Run supervises sessions until ctx is cancelled. A session that ends with
// an error discards the in-memory buffer (its payloads are still in the
// persistent buffer) and reconnects after a backoff delay. Returns nil on
// graceful shutdown.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.retryInterval
	bo.MaxInterval = 10 * l.retryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := l.session(ctx, bo.Reset)
		if ctx.Err() != nil {
			l.logger.Info("listener shutting down", zap.String("domain", l.domain.Name))
			return nil
		}

		l.mu.Lock()
		dropped := len(l.buffer)
		l.buffer = nil
		l.failures++
		l.mu.Unlock()

		wait := bo.NextBackOff()
		l.logger.Error("listener session ended, will reconnect",
			zap.String("domain", l.domain.Name),
			zap.Int("discarded_buffer", dropped),
			zap.Duration("retry_in", wait),
			zap.Bool("connection_error", store.IsConnectionError(err)),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// session is one CONNECT → RECOVER → LISTEN pass. subscribed is invoked
// once the subscription and recovery succeed, so the supervisor can reset
// its backoff.
func (l *Listener) session(ctx context.Context, subscribed func()) error {
	// CONNECT
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if err := conn.Listen(ctx, l.domain.Channel); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// RECOVER: notifications emitted while no consumer was attached are
	// waiting in the persistent buffer.
	pending, err := l.events.DrainPending(ctx, l.domain.Channel)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	l.mu.Lock()
	l.buffer = append(l.buffer, pending...)
	l.lastFlush = time.Now()
	l.mu.Unlock()
	l.logger.Info("recovered buffered events",
		zap.String("channel", l.domain.Channel),
		zap.Int("count", len(pending)),
	)
	subscribed()

	// LISTEN
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pollCtx, cancel := context.WithTimeout(ctx, l.pollInterval)
		payload, err := conn.Wait(pollCtx)
		cancel()
		switch {
		case err == nil:
			l.mu.Lock()
			l.buffer = append(l.buffer, payload)
			l.mu.Unlock()
			l.logger.Debug("change detected",
				zap.String("channel", l.domain.Channel),
				zap.String("payload", payload),
			)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// Poll window elapsed without a notification.
		default:
			return fmt.Errorf("poll: %w", err)
		}

		if l.shouldFlush() {
			if err := l.process(ctx); err != nil {
				return err
			}
		}
	}
}

// shouldFlush checks the flush predicate: a non-empty buffer that is either
// over the size threshold (strictly greater) or at least as old as the
// duration threshold. An empty buffer never flushes.
func (l *Listener) shouldFlush() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == 0 {
		return false
	}
	return len(l.buffer) > l.domain.BufferSize || time.Since(l.lastFlush) >= l.domain.BufferDuration
}

// process runs one flush over a snapshot of the buffer. The buffer is
// cleared and the persistent rows acknowledged only after every step
// succeeds; on any error both are left untouched for the next session.
func (l *Listener) process(ctx context.Context) error {
	l.mu.Lock()
	keys := make([]string, len(l.buffer))
	copy(keys, l.buffer)
	l.mu.Unlock()

	ctx, span := l.tracer.Start(ctx, "indexer.flush",
		trace.WithAttributes(
			attribute.String("domain", l.domain.Name),
			attribute.Int("keys", len(keys)),
		))
	defer span.End()

	batch, err := l.fetcher.CallGetByID(ctx, l.domain.GetByIDProc, l.domain.FetchKey, keys)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fetch rows: %w", err)
	}
	normalize.Batch(batch)
	if err := l.hooks.Apply(ctx, l.domain.Name, batch); err != nil {
		span.RecordError(err)
		return err
	}
	if err := l.sink.Upsert(ctx, l.domain.Collection, batch.Documents()); err != nil {
		span.RecordError(err)
		return err
	}
	if err := l.events.Acknowledge(ctx, l.domain.Channel, keys); err != nil {
		span.RecordError(err)
		return err
	}

	l.mu.Lock()
	l.buffer = nil
	l.lastFlush = time.Now()
	l.flushes++
	l.mu.Unlock()

	l.logger.Info("flushed change batch",
		zap.String("domain", l.domain.Name),
		zap.Int("keys", len(keys)),
		zap.Int("rows", batch.Len()),
	)
	return nil
}

// Snapshot is the read-only view exposed to the health surface. Nothing
// outside the listener touches the buffer itself.
type Snapshot struct {
	Domain    string    `json:"domain"`
	Channel   string    `json:"channel"`
	Buffered  int       `json:"buffered"`
	LastFlush time.Time `json:"last_flush"`
	Flushes   uint64    `json:"flushes"`
	Failures  uint64    `json:"failures"`
}

// Snapshot returns the current buffer state.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Domain:    l.domain.Name,
		Channel:   l.domain.Channel,
		Buffered:  len(l.buffer),
		LastFlush: l.lastFlush,
		Flushes:   l.flushes,
		Failures:  l.failures,
	}
}
