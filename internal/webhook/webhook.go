// Package webhook implements fire-and-forget, HMAC-signed HTTP delivery
// of audit event envelopes to operator-configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/khoregos/internal/bus"
	"github.com/basket/khoregos/internal/otel"
)

const (
	userAgent      = "khoregos-webhook/1.0"
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
	backoffBase    = 4 * time.Second
)

// Target is one operator-configured delivery endpoint.
type Target struct {
	URL    string
	Secret string
	Events []string // empty matches every event type
}

// resolveSecret returns the target's secret, resolving a "$NAME"-prefixed
// value from the process environment.
func (t Target) resolveSecret() string {
	if strings.HasPrefix(t.Secret, "$") {
		return os.Getenv(strings.TrimPrefix(t.Secret, "$"))
	}
	return t.Secret
}

func (t Target) matches(eventType string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// envelope is the outbound wire shape (spec §6): the raw event JSON,
// session correlation fields, and a delivery timestamp.
type envelope struct {
	Event     json.RawMessage `json:"event"`
	Session   sessionRef      `json:"session"`
	Timestamp string          `json:"timestamp"`
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
	TraceID   string `json:"traceId"`
}

// Dispatcher subscribes to the audit event bus and asynchronously POSTs a
// signed envelope to every matching target. Constructed once per
// long-lived process and never mutated after Start; hook subprocesses do
// not construct one (spec §4.9's "not invoked from hook subprocesses"
// posture applies equally to webhook delivery: it is driven off the bus,
// which hook processes have no long enough lifetime to drain).
type Dispatcher struct {
	targets []Target
	client  *http.Client
	logger  *slog.Logger
	metrics *otel.Metrics
	clock   func() time.Time
	sleep   func(time.Duration)

	wg sync.WaitGroup
}

// New returns a Dispatcher for the given targets. logger and metrics may
// be nil.
func New(targets []Target, logger *slog.Logger, metrics *otel.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		targets: targets,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		metrics: metrics,
		clock:   time.Now,
		sleep:   time.Sleep,
	}
}

// Start subscribes the dispatcher to b's audit-event topic. Call once.
func (d *Dispatcher) Start(ctx context.Context, b *bus.Bus) {
	if b == nil || len(d.targets) == 0 {
		return
	}
	sub := b.Subscribe(bus.TopicAuditEvent)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.Ch():
				if !ok {
					return
				}
				payload, ok := evt.Payload.(bus.AuditEventPublished)
				if !ok {
					continue
				}
				d.Dispatch(ctx, payload)
			}
		}
	}()
}

// Wait blocks until every in-flight delivery this dispatcher scheduled has
// finished. Lifecycle processes call this before exit; hook processes
// never construct a Dispatcher, so they never need to.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch schedules an asynchronous delivery to every target whose
// Events filter matches the published event's type. Never blocks the
// caller and never returns an error: delivery failures are logged, not
// propagated (spec §4.8).
func (d *Dispatcher) Dispatch(ctx context.Context, payload bus.AuditEventPublished) {
	for _, target := range d.targets {
		if !target.matches(payload.EventType) {
			continue
		}
		body, err := json.Marshal(envelope{
			Event: payload.Encoded,
			Session: sessionRef{
				SessionID: payload.SessionID,
				TraceID:   payload.TraceID,
			},
			Timestamp: d.clock().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			d.logger.Warn("webhook: encode envelope failed", "url", target.URL, "error", err)
			continue
		}
		d.wg.Add(1)
		go func(target Target, body []byte) {
			defer d.wg.Done()
			d.deliver(ctx, target, body)
		}(target, body)
	}
}

// deliver runs the retry state machine: up to maxAttempts attempts with
// delays 0s, 1s, 4s (exponential, base 4s) between them. The final
// failure is logged once and never raised.
func (d *Dispatcher) deliver(ctx context.Context, target Target, body []byte) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.sleep(delay)
			if d.metrics != nil {
				d.metrics.WebhookRetries.Add(ctx, 1, metric.WithAttributes(otel.AttrWebhookTarget.String(target.URL)))
			}
		}

		start := d.clock()
		err := d.attempt(ctx, target, body)
		duration := d.clock().Sub(start).Seconds()

		outcome := "success"
		if err != nil {
			outcome = "failure"
			lastErr = err
		}
		if d.metrics != nil {
			d.metrics.WebhookDeliveries.Add(ctx, 1, metric.WithAttributes(
				otel.AttrWebhookTarget.String(target.URL), otel.AttrOutcome.String(outcome),
			))
			d.metrics.WebhookDuration.Record(ctx, duration, metric.WithAttributes(otel.AttrWebhookTarget.String(target.URL)))
		}
		if err == nil {
			return
		}
	}
	d.logger.Error("webhook: delivery failed after retries", "url", target.URL, "attempts", maxAttempts, "error", lastErr)
}

func backoffDelay(attempt int) time.Duration {
	// attempt 1 -> 1s, attempt 2 -> 4s (base 4s, exponential from attempt 1).
	if attempt <= 1 {
		return 1 * time.Second
	}
	return backoffBase
}

func (d *Dispatcher) attempt(ctx context.Context, target Target, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if secret := target.resolveSecret(); secret != "" {
		req.Header.Set("X-K6s-Signature", "sha256="+signBody(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
