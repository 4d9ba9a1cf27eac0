package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"coinflow/logger"
)

// PushSink mirrors emitted metrics into a Prometheus registry and pushes it
// to a Pushgateway once the run is over. Counters accumulate and gauges keep
// the last value.
type PushSink struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	pusher   *push.Pusher
	id       MetricHandlerID
	url      string
	job      string
}

// NewPushSink registers a handler that records every emitted metric. Call
// Push to deliver them and Close to stop recording.
func NewPushSink(url, job string) *PushSink {
	registry := prometheus.NewRegistry()
	values := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coinflow_pipeline_metric",
			Help: "Metrics emitted by the coinflow pipeline, labelled by component and name",
		},
		[]string{"component", "name"},
	)
	registry.MustRegister(values)
	registry.MustRegister(collectors.NewGoCollector())

	s := &PushSink{
		registry: registry,
		values:   values,
		pusher:   push.New(url, job).Gatherer(registry),
		url:      url,
		job:      job,
	}
	s.id = RegisterMetricHandler(s.handle)
	return s
}

func (s *PushSink) handle(m Metric) {
	v, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.values.WithLabelValues(m.Component, m.Name)
	if m.Type == "counter" {
		g.Add(v)
		return
	}
	g.Set(v)
}

// Push replaces the job's metric group on the gateway.
func (s *PushSink) Push(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", s.url, err)
	}
	logger.GetLogger().WithComponent("pushgateway").WithFields(logger.Fields{
		"url": s.url,
		"job": s.job,
	}).Info("pushed metrics")
	return nil
}

// Close stops recording metrics.
func (s *PushSink) Close() {
	UnregisterMetricHandler(s.id)
}
