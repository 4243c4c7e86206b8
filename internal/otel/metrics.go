package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Khoregos metrics instruments.
type Metrics struct {
	AuditEventsTotal    metric.Int64Counter
	HookDuration        metric.Float64Histogram
	HookErrors          metric.Int64Counter
	BoundaryViolations  metric.Int64Counter
	LockContention      metric.Int64Counter
	WebhookDeliveries   metric.Int64Counter
	WebhookDuration     metric.Float64Histogram
	WebhookRetries      metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
	ChainVerifyFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AuditEventsTotal, err = meter.Int64Counter("khoregos.audit.events_total",
		metric.WithDescription("Audit events persisted, labeled by event_type and severity"),
	)
	if err != nil {
		return nil, err
	}

	m.HookDuration, err = meter.Float64Histogram("khoregos.hook.duration",
		metric.WithDescription("post-tool-use hook processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HookErrors, err = meter.Int64Counter("khoregos.hook.errors",
		metric.WithDescription("post-tool-use hook invocations that failed to complete"),
	)
	if err != nil {
		return nil, err
	}

	m.BoundaryViolations, err = meter.Int64Counter("khoregos.boundary.violations",
		metric.WithDescription("path boundary violations recorded"),
	)
	if err != nil {
		return nil, err
	}

	m.LockContention, err = meter.Int64Counter("khoregos.lock.contention",
		metric.WithDescription("file lock acquisitions that found a live conflicting holder"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookDeliveries, err = meter.Int64Counter("khoregos.webhook.deliveries",
		metric.WithDescription("webhook delivery attempts, labeled by target and outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookDuration, err = meter.Float64Histogram("khoregos.webhook.duration",
		metric.WithDescription("webhook delivery round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookRetries, err = meter.Int64Counter("khoregos.webhook.retries",
		metric.WithDescription("webhook delivery retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("khoregos.session.active",
		metric.WithDescription("number of sessions currently open (started, not yet ended)"),
	)
	if err != nil {
		return nil, err
	}

	m.ChainVerifyFailures, err = meter.Int64Counter("khoregos.chain.verify_failures",
		metric.WithDescription("HMAC chain verification runs that reported gap, missing, or mismatch errors"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
