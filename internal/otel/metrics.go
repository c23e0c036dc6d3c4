package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the engine and server instruments.
type Metrics struct {
	OperationDuration  metric.Float64Histogram
	RequestDuration    metric.Float64Histogram
	Conflicts          metric.Int64Counter
	GuardRejections    metric.Int64Counter
	SideEffectFailures metric.Int64Counter
	LiveSubscribers    metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OperationDuration, err = meter.Float64Histogram("trustroom.operation.duration",
		metric.WithDescription("Engine operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("trustroom.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Conflicts, err = meter.Int64Counter("trustroom.conflicts",
		metric.WithDescription("Conditional writes lost to a concurrent change"),
	)
	if err != nil {
		return nil, err
	}

	m.GuardRejections, err = meter.Int64Counter("trustroom.guard.rejections",
		metric.WithDescription("Requests rejected by the access guard"),
	)
	if err != nil {
		return nil, err
	}

	m.SideEffectFailures, err = meter.Int64Counter("trustroom.sideeffect.failures",
		metric.WithDescription("Audit or notification side effects that failed after commit"),
	)
	if err != nil {
		return nil, err
	}

	m.LiveSubscribers, err = meter.Int64UpDownCounter("trustroom.live.subscribers",
		metric.WithDescription("Open live case feeds"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(Disabled().Meter)
	return m
}
