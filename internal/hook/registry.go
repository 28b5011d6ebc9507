// Package hook dispatches per-domain business transforms. The source system
// resolved these by module name at runtime; here they are a registry
// populated at startup. An unregistered domain is a warning, not an error —
// hooks are optional trusted code.
package hook

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arc-self/apps/search-indexer/internal/store"
)

// Transform mutates a row batch in place before it is upserted.
type Transform interface {
	Process(ctx context.Context, batch *store.RowBatch) error
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc func(ctx context.Context, batch *store.RowBatch) error

func (f TransformFunc) Process(ctx context.Context, batch *store.RowBatch) error {
	return f(ctx, batch)
}

// Registry maps lowercased domain tokens to transforms. Registration
// happens during startup wiring; Apply is called from the processing paths.
type Registry struct {
	transforms map[string]Transform
	logger     *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		transforms: make(map[string]Transform),
		logger:     logger,
	}
}

// Register binds a transform to a domain. Later registrations replace
// earlier ones.
func (r *Registry) Register(domain string, t Transform) {
	r.transforms[strings.ToLower(domain)] = t
}

// Apply runs the domain's transform against the batch in place. A missing
// transform logs a warning and succeeds; a transform error propagates to
// the caller untouched.
func (r *Registry) Apply(ctx context.Context, domain string, batch *store.RowBatch) error {
	t, ok := r.transforms[strings.ToLower(domain)]
	if !ok {
		r.logger.Warn("no business hook registered for domain", zap.String("domain", domain))
		return nil
	}
	if err := t.Process(ctx, batch); err != nil {
		return fmt.Errorf("business hook %s: %w", strings.ToLower(domain), err)
	}
	return nil
}
