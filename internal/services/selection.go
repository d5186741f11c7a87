package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SelectionClient posts selection requests to the processing service. The
// response body is drained and discarded.
type SelectionClient struct {
	url     string
	http    *http.Client
	metrics *Metrics
	logger  *zap.Logger
}

func NewSelectionClient(url string, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *SelectionClient {
	return &SelectionClient{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger,
	}
}

func (c *SelectionClient) Select(ctx context.Context, req models.SelectionRequest) error {
	ctx, span := otel.Tracer("services").Start(ctx, "SelectionClient.Select")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("select.x", req.X),
		attribute.Float64("select.y", req.Y),
		attribute.String("client.id", req.ClientID),
	)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build selection request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.metrics.IncrementSelections()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("post selection: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post selection: status %d", resp.StatusCode)
	}

	c.logger.Debug("selection sent",
		zap.Float64("x", req.X),
		zap.Float64("y", req.Y),
		zap.Float64("width", req.Width),
		zap.Float64("height", req.Height),
	)
	return nil
}
