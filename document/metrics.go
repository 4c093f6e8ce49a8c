package document

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/alimasry/docupdater/document"

type metrics struct {
	opDuration   metric.Float64Histogram
	setDoc       metric.Int64Counter
	historyQueue metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var m metrics
	var err error
	m.opDuration, err = meter.Float64Histogram("docupdater.operation.duration",
		metric.WithDescription("Duration of document manager operations."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.setDoc, err = meter.Int64Counter("docupdater.set_doc",
		metric.WithDescription("Wholesale content replacements by outcome."))
	if err != nil {
		return nil, err
	}
	m.historyQueue, err = meter.Int64Counter("docupdater.history_queue",
		metric.WithDescription("Structural records queued for project history."))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// timer records the duration of op when the returned func is called.
func (m *metrics) timer(ctx context.Context, op string) func() {
	start := time.Now()
	return func() {
		m.opDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (m *metrics) countSetDoc(ctx context.Context, status, method string) {
	m.setDoc.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("method", method)))
}

func (m *metrics) countHistory(ctx context.Context, record string) {
	m.historyQueue.Add(ctx, 1, metric.WithAttributes(attribute.String("record", record)))
}
