// Package store is the gateway to the relational side: a pgx pool scoped to
// the configured schema, invoking the named stored procedures and returning
// columnar results with their metadata. Every call acquires a pooled
// connection and releases it on all exit paths.
package store

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config is the connection tuple resolved from configuration and the secret
// store. Schema, when set, is applied as search_path on every connection.
type Config struct {
	Name     string
	User     string
	Password string
	Host     string
	Port     string
	Schema   string
}

// Window bounds a windowed full fetch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Gateway wraps the pgx pool and exposes procedure-call primitives.
type Gateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// identPattern matches plain or schema-qualified SQL identifiers. Procedure
// names are interpolated into statements (they cannot be bound parameters),
// so anything else is rejected before it reaches the wire.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Open builds the pool from the connection tuple. The pool carries an
// otelpgx tracer so every procedure call shows up on the trace.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Gateway, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Name)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	if cfg.Schema != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info("connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
		zap.String("schema", cfg.Schema),
	)
	return &Gateway{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// CallGetAll invokes the full-fetch procedure. With a nil window the
// zero-argument form is used; otherwise the three-argument form with a null
// first argument and the window bounds.
func (g *Gateway) CallGetAll(ctx context.Context, procedure string, window *Window) (*RowBatch, error) {
	if window == nil {
		return g.Call(ctx, procedure)
	}
	return g.Call(ctx, procedure, nil, window.Start, window.End)
}

// CallGetByID invokes the keyed-fetch procedure with the payloads wrapped
// under the domain fetch key: procedure({"<fetchKey>": payloads}, null).
func (g *Gateway) CallGetByID(ctx context.Context, procedure, fetchKey string, payloads []string) (*RowBatch, error) {
	doc, err := MarshalKeyedPayloads(fetchKey, payloads)
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, procedure, doc, nil)
}

// Call runs SELECT * FROM procedure(args...) and collects the tabular
// result with column metadata.
func (g *Gateway) Call(ctx context.Context, procedure string, args ...any) (*RowBatch, error) {
	stmt, err := selectStatement(procedure, len(args))
	if err != nil {
		return nil, err
	}
	g.logger.Debug("calling procedure", zap.String("procedure", procedure), zap.Int("args", len(args)))

	rows, err := g.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("procedure %s: %w", procedure, err)
	}
	batch, err := collectBatch(rows)
	if err != nil {
		return nil, fmt.Errorf("procedure %s: %w", procedure, err)
	}
	return batch, nil
}

// CallVoid runs CALL procedure(args...) for procedures with no result set.
// Statements run in autocommit, so the call is committed on return.
func (g *Gateway) CallVoid(ctx context.Context, procedure string, args ...any) error {
	if !identPattern.MatchString(procedure) {
		return fmt.Errorf("invalid procedure name %q", procedure)
	}
	stmt := fmt.Sprintf("CALL %s(%s)", procedure, placeholders(len(args)))
	g.logger.Debug("calling procedure", zap.String("procedure", procedure), zap.Int("args", len(args)))

	if _, err := g.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("procedure %s: %w", procedure, err)
	}
	return nil
}

func selectStatement(procedure string, argc int) (string, error) {
	if !identPattern.MatchString(procedure) {
		return "", fmt.Errorf("invalid procedure name %q", procedure)
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", procedure, placeholders(argc)), nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func collectBatch(rows pgx.Rows) (*RowBatch, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	batch := &RowBatch{Columns: make([]Column, len(fds))}
	for i, fd := range fds {
		batch.Columns[i] = Column{Name: fd.Name, TypeOID: fd.DataTypeOID}
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		batch.Rows = append(batch.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}
