// Package webhooks posts signed JSON events to a configured URL.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types dispatched by the system.
const (
	EventPostUnreachable = "post.unreachable"
	EventPostRecovered   = "post.recovered"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Expose-Signature"

// Event is the delivered body.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// MetricsRecorder records delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier delivers events to a single endpoint.
type Notifier struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// New creates a Notifier posting to url. An empty secret disables signing.
func New(url, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with exponential backoff: 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// SetRetryDelays replaces the wait before each attempt. Its length is the
// number of attempts; an empty list means a single immediate attempt.
func (n *Notifier) SetRetryDelays(delays []time.Duration) {
	if len(delays) == 0 {
		delays = []time.Duration{0}
	}
	n.delays = delays
}

// Notify delivers an event, retrying on failure. It returns the last error
// once attempts are exhausted or ctx is done.
func (n *Notifier) Notify(ctx context.Context, eventType string, payload map[string]string) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt, delay := range n.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.deliver(ctx, body)
		if n.onMetrics != nil {
			n.onMetrics(lastErr == nil)
		}
		if lastErr == nil {
			n.logger.Debug("webhook: delivered", zap.String("type", eventType), zap.String("id", event.ID))
			return nil
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", n.url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

// deliver performs a single HTTP POST.
func (n *Notifier) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
