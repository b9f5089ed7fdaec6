package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics groups the relay instruments. The zero value is not usable; build
// one with NewMetrics or Discard.
type Metrics struct {
	framesReceived metric.Int64Counter
	framesRejected metric.Int64Counter
	deliveries     metric.Int64Counter
	storeCalls     metric.Int64Counter
	storeDuration  metric.Float64Histogram
	presence       metric.Int64Counter
	typingExpired  metric.Int64Counter
	signals        metric.Int64Counter
	connections    metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err, e error

	m.framesReceived, e = meter.Int64Counter("relay_frames_received_total",
		metric.WithDescription("Inbound frames decoded, by envelope kind"))
	err = errors.Join(err, e)
	m.framesRejected, e = meter.Int64Counter("relay_frames_rejected_total",
		metric.WithDescription("Inbound frames dropped as malformed or unknown"))
	err = errors.Join(err, e)
	m.deliveries, e = meter.Int64Counter("relay_deliveries_total",
		metric.WithDescription("Outbound envelopes accepted by a live connection"))
	err = errors.Join(err, e)
	m.storeCalls, e = meter.Int64Counter("relay_store_calls_total",
		metric.WithDescription("External store calls, by operation and outcome"))
	err = errors.Join(err, e)
	m.storeDuration, e = meter.Float64Histogram("relay_store_call_duration_seconds",
		metric.WithDescription("External store call latency"),
		metric.WithUnit("s"))
	err = errors.Join(err, e)
	m.presence, e = meter.Int64Counter("relay_presence_transitions_total",
		metric.WithDescription("Online/offline transitions broadcast"))
	err = errors.Join(err, e)
	m.typingExpired, e = meter.Int64Counter("relay_typing_expirations_total",
		metric.WithDescription("Typing flags cleared by expiry"))
	err = errors.Join(err, e)
	m.signals, e = meter.Int64Counter("relay_signals_total",
		metric.WithDescription("Signaling payloads handled, by kind and delivery"))
	err = errors.Join(err, e)
	m.connections, e = meter.Int64UpDownCounter("relay_connections",
		metric.WithDescription("Open websocket connections"))
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Discard returns instruments backed by a no-op meter.
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("discard"))
	return m
}

func (m *Metrics) FrameReceived(ctx context.Context, kind string) {
	m.framesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) FrameRejected(ctx context.Context, reason string) {
	m.framesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Delivered(ctx context.Context, envelope string, n int) {
	if n == 0 {
		return
	}
	m.deliveries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", envelope)))
}

func (m *Metrics) StoreCall(ctx context.Context, op string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
	m.storeCalls.Add(ctx, 1, attrs)
	m.storeDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) PresenceChanged(ctx context.Context, online bool) {
	m.presence.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", online)))
}

func (m *Metrics) TypingExpired(ctx context.Context) {
	m.typingExpired.Add(ctx, 1)
}

func (m *Metrics) Signal(ctx context.Context, kind string, delivered bool) {
	m.signals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("delivered", delivered)))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	m.connections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	m.connections.Add(ctx, -1)
}
