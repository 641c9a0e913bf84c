package ssl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	metricsInst    *MetricsCollector
)

// MetricsCollector handles session-layer metrics collection
type MetricsCollector struct {
	// Session metrics
	sessionsTotal   metric.Int64Counter
	sessionsActive  metric.Int64UpDownCounter
	handshakeErrors metric.Int64Counter

	// Performance metrics
	handshakeDuration metric.Float64Histogram
	sessionDuration   metric.Float64Histogram

	// Traffic metrics
	bytesSent     metric.Int64Counter
	bytesReceived metric.Int64Counter

	// Distribution metrics
	versionDistribution metric.Int64Counter
	cipherDistribution  metric.Int64Counter

	// Identity metrics
	identityExpiry  metric.Float64Gauge
	identityReloads metric.Int64Counter
	identityErrors  metric.Int64Counter

	logger *slog.Logger
}

// GetMetricsCollector returns the singleton session metrics collector
func GetMetricsCollector(logger *slog.Logger) (*MetricsCollector, error) {
	metricsOnce.Do(func() {
		metricsInst, metricsInitErr = newMetricsCollector(logger)
	})
	return metricsInst, metricsInitErr
}

func newMetricsCollector(logger *slog.Logger) (*MetricsCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.GetMeterProvider().Meter("sslservice.session")

	collector := &MetricsCollector{
		logger: logger,
	}

	var err error

	collector.sessionsTotal, err = meter.Int64Counter(
		"ssl_sessions_total",
		metric.WithDescription("Total number of TLS sessions established"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	collector.sessionsActive, err = meter.Int64UpDownCounter(
		"ssl_sessions_active",
		metric.WithDescription("Number of currently active TLS sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeErrors, err = meter.Int64Counter(
		"ssl_handshake_errors_total",
		metric.WithDescription("Total number of TLS handshake errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeDuration, err = meter.Float64Histogram(
		"ssl_handshake_duration_seconds",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.sessionDuration, err = meter.Float64Histogram(
		"ssl_session_duration_seconds",
		metric.WithDescription("TLS session duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.bytesSent, err = meter.Int64Counter(
		"ssl_bytes_sent_total",
		metric.WithDescription("Total plaintext bytes sent through TLS sessions"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	collector.bytesReceived, err = meter.Int64Counter(
		"ssl_bytes_received_total",
		metric.WithDescription("Total plaintext bytes received through TLS sessions"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	collector.versionDistribution, err = meter.Int64Counter(
		"ssl_version_total",
		metric.WithDescription("TLS sessions by negotiated protocol version"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	collector.cipherDistribution, err = meter.Int64Counter(
		"ssl_cipher_suite_total",
		metric.WithDescription("TLS sessions by negotiated cipher suite"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	collector.identityExpiry, err = meter.Float64Gauge(
		"ssl_identity_expiry_timestamp",
		metric.WithDescription("Local credential expiry timestamp in Unix seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.identityReloads, err = meter.Int64Counter(
		"ssl_identity_reloads_total",
		metric.WithDescription("Total number of credential reloads"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, err
	}

	collector.identityErrors, err = meter.Int64Counter(
		"ssl_identity_errors_total",
		metric.WithDescription("Total number of credential errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return collector, nil
}

// RecordSessionStart records a session entering the handshake phase
func (c *MetricsCollector) RecordSessionStart(ctx context.Context, role string) {
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
	}

	c.sessionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.sessionsActive.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionEnd records a session closing
func (c *MetricsCollector) RecordSessionEnd(ctx context.Context, role string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
	}

	c.sessionsActive.Add(ctx, -1, metric.WithAttributes(attrs...))
	if duration > 0 {
		c.sessionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordHandshakeSuccess records a completed handshake with its negotiated
// parameters
func (c *MetricsCollector) RecordHandshakeSuccess(ctx context.Context, role, version, cipherSuite string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
		attribute.String("tls_version", version),
		attribute.String("cipher_suite", cipherSuite),
	}

	c.handshakeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	c.versionDistribution.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tls_version", version),
	))
	c.cipherDistribution.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cipher_suite", cipherSuite),
	))

	c.logger.Debug("handshake completed",
		"role", role,
		"tls_version", version,
		"cipher_suite", cipherSuite,
		"handshake_duration", duration)
}

// RecordHandshakeError records a failed handshake
func (c *MetricsCollector) RecordHandshakeError(ctx context.Context, role, errorKind string) {
	attrs := []attribute.KeyValue{
		attribute.String("role", role),
		attribute.String("error_kind", errorKind),
	}

	c.handshakeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	c.sessionsActive.Add(ctx, -1, metric.WithAttributes(
		attribute.String("role", role),
	))
}

// RecordBytesSent records plaintext bytes written to a session
func (c *MetricsCollector) RecordBytesSent(ctx context.Context, n int) {
	if n > 0 {
		c.bytesSent.Add(ctx, int64(n))
	}
}

// RecordBytesReceived records plaintext bytes read from a session
func (c *MetricsCollector) RecordBytesReceived(ctx context.Context, n int) {
	if n > 0 {
		c.bytesReceived.Add(ctx, int64(n))
	}
}

// RecordIdentityExpiry records the expiry timestamp of the loaded credential
func (c *MetricsCollector) RecordIdentityExpiry(ctx context.Context, subject string, notAfter time.Time) {
	c.identityExpiry.Record(ctx, float64(notAfter.Unix()), metric.WithAttributes(
		attribute.String("subject", subject),
	))
}

// RecordIdentityReload records a credential reload attempt
func (c *MetricsCollector) RecordIdentityReload(ctx context.Context, success bool, errorMsg string) {
	c.identityReloads.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))

	if !success {
		c.logger.Error("credential reload failed", "error", errorMsg)
	}
}

// RecordIdentityError records a credential loading or validation error
func (c *MetricsCollector) RecordIdentityError(ctx context.Context, errorKind, errorMsg string) {
	c.identityErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_kind", errorKind),
	))

	c.logger.Error("credential error",
		"error_kind", errorKind,
		"error", errorMsg)
}
