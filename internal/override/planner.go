// Package override materialises a domain into the search collection, either
// as one unwindowed pass or driven by a pending override record whose
// [source_ts, target_ts] window is sliced into fixed-day sub-windows and
// processed on a bounded worker pool.
package override

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arc-self/apps/search-indexer/internal/config"
	"github.com/arc-self/apps/search-indexer/internal/normalize"
	"github.com/arc-self/apps/search-indexer/internal/store"
)

// Store is the gateway surface the planner drives; satisfied by
// *store.Gateway.
type Store interface {
	Call(ctx context.Context, procedure string, args ...any) (*store.RowBatch, error)
	CallVoid(ctx context.Context, procedure string, args ...any) error
	CallGetAll(ctx context.Context, procedure string, window *store.Window) (*store.RowBatch, error)
}

// DocumentSink receives normalised document batches.
type DocumentSink interface {
	Upsert(ctx context.Context, collection string, docs []map[string]any) error
}

// HookApplier applies the per-domain business transform.
type HookApplier interface {
	Apply(ctx context.Context, domain string, batch *store.RowBatch) error
}

// Settings binds the override procedures and pool shape from configuration.
type Settings struct {
	GetProc     string
	CleanProc   string
	SourceField string
	TargetField string
	StepDays    int
	Workers     int
}

// SettingsFromConfig reads the override settings from the global keys.
func SettingsFromConfig(c *config.Config) Settings {
	return Settings{
		GetProc:     c.String(config.KeyGetIndexOverride),
		CleanProc:   c.String(config.KeyCleanIndexOverride),
		SourceField: c.String(config.KeyOverrideSourceField),
		TargetField: c.String(config.KeyOverrideTargetField),
		StepDays:    c.Int(config.KeyOverrideStepDays),
		Workers:     c.Int(config.KeyOverrideWorkers),
	}
}

// Planner drives full refreshes for one domain.
type Planner struct {
	store    Store
	sink     DocumentSink
	hooks    HookApplier
	settings Settings
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPlanner builds a Planner.
func NewPlanner(st Store, sink DocumentSink, hooks HookApplier, settings Settings, logger *zap.Logger) *Planner {
	return &Planner{
		store:    st,
		sink:     sink,
		hooks:    hooks,
		settings: settings,
		logger:   logger,
		tracer:   otel.Tracer("override-planner"),
	}
}

// Plan slices [source, target] into step-day sub-windows. Windows are
// emitted while their start does not pass target, so the final window may
// overshoot target, and source == target yields exactly one full-width
// window.
func Plan(source, target time.Time, stepDays int) []store.Window {
	if stepDays < 1 || target.Before(source) {
		return nil
	}
	var windows []store.Window
	for start := source; !start.After(target); {
		end := start.AddDate(0, 0, stepDays)
		windows = append(windows, store.Window{Start: start, End: end})
		start = end
	}
	return windows
}

// Run checks for a pending override for the domain. Without one it returns
// false and the caller falls through to a plain unwindowed refresh. With
// one, it processes every sub-window on a pool of at most Workers
// goroutines, awaits them all, and archives the override record only if
// every sub-window succeeded.
func (p *Planner) Run(ctx context.Context, domain config.DomainBindings) (bool, error) {
	batch, err := p.store.Call(ctx, p.settings.GetProc, domain.Name)
	if err != nil {
		return false, fmt.Errorf("read index override: %w", err)
	}
	if batch.Len() == 0 {
		return false, nil
	}

	// Only the first record is honoured per invocation.
	source, err := timestampCell(batch, 0, p.settings.SourceField)
	if err != nil {
		return true, err
	}
	target, err := timestampCell(batch, 0, p.settings.TargetField)
	if err != nil {
		return true, err
	}
	if target.Before(source) {
		return true, fmt.Errorf("index override window inverted: %s after %s",
			source.Format(time.RFC3339), target.Format(time.RFC3339))
	}
	if p.settings.StepDays < 1 {
		return true, fmt.Errorf("invalid timestep day size %d", p.settings.StepDays)
	}

	windows := Plan(source, target, p.settings.StepDays)
	p.logger.Info("index override identified",
		zap.String("domain", domain.Name),
		zap.Time("source_ts", source),
		zap.Time("target_ts", target),
		zap.Int("sub_windows", len(windows)),
		zap.Int("workers", p.settings.Workers),
	)

	workers := p.settings.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, w := range windows {
		g.Go(func() error {
			if err := p.processWindow(ctx, domain, w); err != nil {
				p.logger.Error("sub-window failed",
					zap.String("domain", domain.Name),
					zap.Time("sub_start", w.Start),
					zap.Time("sub_end", w.End),
					zap.Error(err),
				)
				return fmt.Errorf("sub-window [%s, %s]: %w",
					w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// The override record stays; a later invocation retries the window.
		return true, fmt.Errorf("override reindex incomplete: %w", err)
	}

	if err := p.store.CallVoid(ctx, p.settings.CleanProc, domain.Name); err != nil {
		return true, fmt.Errorf("archive index override: %w", err)
	}
	p.logger.Info("index override complete", zap.String("domain", domain.Name))
	return true, nil
}

// FullRefresh materialises the whole domain in one unwindowed pass.
func (p *Planner) FullRefresh(ctx context.Context, domain config.DomainBindings) error {
	ctx, span := p.tracer.Start(ctx, "indexer.full_refresh",
		trace.WithAttributes(attribute.String("domain", domain.Name)))
	defer span.End()

	if err := p.refresh(ctx, domain, nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// processWindow is one worker unit: fetch the sub-window, transform, and
// upsert. An empty sub-window is success without an upsert.
func (p *Planner) processWindow(ctx context.Context, domain config.DomainBindings, w store.Window) error {
	ctx, span := p.tracer.Start(ctx, "indexer.sub_window",
		trace.WithAttributes(
			attribute.String("domain", domain.Name),
			attribute.String("sub_start", w.Start.Format(time.RFC3339)),
			attribute.String("sub_end", w.End.Format(time.RFC3339)),
		))
	defer span.End()

	p.logger.Info("processing sub-window",
		zap.String("domain", domain.Name),
		zap.Time("sub_start", w.Start),
		zap.Time("sub_end", w.End),
	)
	if err := p.refresh(ctx, domain, &w); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (p *Planner) refresh(ctx context.Context, domain config.DomainBindings, w *store.Window) error {
	batch, err := p.store.CallGetAll(ctx, domain.GetAllProc, w)
	if err != nil {
		return fmt.Errorf("fetch rows: %w", err)
	}
	if batch.Len() == 0 {
		p.logger.Debug("no rows in range", zap.String("domain", domain.Name))
		return nil
	}
	normalize.Batch(batch)
	if err := p.hooks.Apply(ctx, domain.Name, batch); err != nil {
		return err
	}
	return p.sink.Upsert(ctx, domain.Collection, batch.Documents())
}

// timestampCell extracts a time.Time cell by column name.
func timestampCell(b *store.RowBatch, row int, column string) (time.Time, error) {
	idx := b.ColumnIndex(column)
	if idx < 0 {
		return time.Time{}, fmt.Errorf("index override record has no %q column", column)
	}
	ts, ok := b.Rows[row][idx].(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("index override %q is not a timestamp: %v", column, b.Rows[row][idx])
	}
	return ts, nil
}
