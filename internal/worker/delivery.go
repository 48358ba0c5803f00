package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/signature"
)

// DeliveryResult is the outcome of a single HTTP delivery attempt.
// HTTPStatus is 0 when no response was received (network error, timeout).
type DeliveryResult struct {
	HTTPStatus int
	Success    bool
	Err        error
}

// ErrorText returns the failure description for the attempt log, or nil
// on success.
func (r *DeliveryResult) ErrorText() *string {
	if r.Success {
		return nil
	}
	var msg string
	if r.Err != nil {
		msg = r.Err.Error()
	} else {
		msg = fmt.Sprintf("HTTP %d", r.HTTPStatus)
	}
	return &msg
}

// Deliverer performs signed webhook HTTP POSTs
type Deliverer struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewDeliverer creates a deliverer with the given per-attempt timeout
func NewDeliverer(timeout time.Duration, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// payload is the JSON body sent to receivers
type payload struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Deliver makes exactly one signed POST to url. Any 2xx response is a
// success; every other status, timeout, or connection error is a failure.
// The attempt is bounded by the client timeout and the caller's context.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID uuid.UUID, url, eventType string, data map[string]interface{}, secret string) *DeliveryResult {
	ts := d.now().Unix()

	body, err := json.Marshal(payload{
		ID:        deliveryID.String(),
		Event:     eventType,
		Timestamp: ts,
		Data:      data,
	})
	if err != nil {
		return &DeliveryResult{Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryResult{Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderSignature, signature.Sign(body, ts, secret))
	req.Header.Set(signature.HeaderTimestamp, signature.TimestampHeader(ts))
	req.Header.Set(signature.HeaderEvent, eventType)
	req.Header.Set(signature.HeaderID, deliveryID.String())

	start := d.now()
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("Webhook request failed",
			zap.String("url", url),
			zap.Duration("elapsed", d.now().Sub(start)),
			zap.Error(err),
		)
		return &DeliveryResult{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; receivers' bodies are ignored
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return &DeliveryResult{
		HTTPStatus: resp.StatusCode,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}
