// Package solr posts document batches to a Solr collection's update
// endpoint. One batch is one POST with commit-on-write; partial rejections
// fail the whole call and the caller never splits and retries.
package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// callTimeout bounds every update call.
const callTimeout = 10 * time.Second

// Client talks to one Solr base URL; the collection is chosen per call.
type Client struct {
	http     *http.Client
	baseURL  string
	user     string
	password string
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewClient builds a client with basic-auth credentials from the secret
// store. An empty user disables authentication.
func NewClient(baseURL, user, password string, logger *zap.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: callTimeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		logger:   logger,
		tracer:   otel.Tracer("solr-client"),
	}
}

// Upsert sends the whole batch as a single update with commit semantics.
// An empty batch is a no-op with a warning, not an error.
func (c *Client) Upsert(ctx context.Context, collection string, docs []map[string]any) error {
	if len(docs) == 0 {
		c.logger.Warn("no documents passed to upsert", zap.String("collection", collection))
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "solr.upsert",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.Int("documents", len(docs)),
		))
	defer span.End()

	body, err := json.Marshal(docs)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal documents: %w", err)
	}

	url := fmt.Sprintf("%s/%s/update?commit=true", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("solr update %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("solr update %s: status %d: %s", collection, resp.StatusCode, string(detail))
		span.RecordError(err)
		return err
	}

	c.logger.Info("updated documents in index",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return nil
}
