package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/mxcd/go-diskcache"

// Stats is a point-in-time summary of a cache.
type Stats struct {
	Entries    int
	Size       int64
	Capacity   int64
	Hits       int64
	Misses     int64
	Writes     int64
	Evictions  int64
	HotEntries int
}

type metrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	writes    metric.Int64Counter
	evictions metric.Int64Counter
	bytes     metric.Int64UpDownCounter
	attrs     metric.MeasurementOption
}

func newMetrics(provider metric.MeterProvider, namespace string) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	m := &metrics{
		attrs: metric.WithAttributes(attribute.String("namespace", namespace)),
	}

	var err error
	if m.hits, err = meter.Int64Counter("diskcache.hits",
		metric.WithDescription("Number of reads served from the cache")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("diskcache.misses",
		metric.WithDescription("Number of reads for absent keys")); err != nil {
		return nil, err
	}
	if m.writes, err = meter.Int64Counter("diskcache.writes",
		metric.WithDescription("Number of successful writes")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("diskcache.evictions",
		metric.WithDescription("Number of entries evicted to stay within capacity")); err != nil {
		return nil, err
	}
	if m.bytes, err = meter.Int64UpDownCounter("diskcache.bytes",
		metric.WithDescription("Payload bytes currently stored"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) hit() {
	m.hits.Add(context.Background(), 1, m.attrs)
}

func (m *metrics) miss() {
	m.misses.Add(context.Background(), 1, m.attrs)
}

func (m *metrics) write() {
	m.writes.Add(context.Background(), 1, m.attrs)
}

func (m *metrics) evicted(n int) {
	if n > 0 {
		m.evictions.Add(context.Background(), int64(n), m.attrs)
	}
}

func (m *metrics) sizeChanged(delta int64) {
	if delta != 0 {
		m.bytes.Add(context.Background(), delta, m.attrs)
	}
}
