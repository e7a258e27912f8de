package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AgentMetrics groups the instruments recorded by the job engine.
// A nil *AgentMetrics records nothing.
type AgentMetrics struct {
	jobsStarted     metric.Int64Counter
	jobsFinished    metric.Int64Counter
	jobDuration     metric.Float64Histogram
	chunksDropped   metric.Int64Counter
	tunnelsAttached metric.Int64Counter
}

// NewAgentMetrics creates the instruments on meter. jobCounts, when non-nil,
// backs an observable gauge of registry records by status.
func NewAgentMetrics(meter metric.Meter, jobCounts func() map[string]int) (*AgentMetrics, error) {
	m := &AgentMetrics{}
	var err error

	if m.jobsStarted, err = meter.Int64Counter("robotagent_jobs_started_total",
		metric.WithDescription("Jobs accepted for execution")); err != nil {
		return nil, fmt.Errorf("failed to create jobs started counter: %w", err)
	}
	if m.jobsFinished, err = meter.Int64Counter("robotagent_jobs_finished_total",
		metric.WithDescription("Jobs that reached a terminal status")); err != nil {
		return nil, fmt.Errorf("failed to create jobs finished counter: %w", err)
	}
	if m.jobDuration, err = meter.Float64Histogram("robotagent_job_duration_seconds",
		metric.WithDescription("Wall time from job start to outcome"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}
	if m.chunksDropped, err = meter.Int64Counter("robotagent_relay_chunks_dropped_total",
		metric.WithDescription("Tunnel chunks dropped by lagging relay subscribers or missing receivers")); err != nil {
		return nil, fmt.Errorf("failed to create dropped chunks counter: %w", err)
	}
	if m.tunnelsAttached, err = meter.Int64Counter("robotagent_tunnels_attached_total",
		metric.WithDescription("Tunnel attach requests accepted")); err != nil {
		return nil, fmt.Errorf("failed to create tunnels counter: %w", err)
	}

	if jobCounts != nil {
		_, err = meter.Int64ObservableGauge("robotagent_jobs",
			metric.WithDescription("Registry records by status"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				for status, n := range jobCounts() {
					o.Observe(int64(n), metric.WithAttributes(attribute.String("status", status)))
				}
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create jobs gauge: %w", err)
		}
	}

	return m, nil
}

func (m *AgentMetrics) JobStarted(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", jobType)))
}

func (m *AgentMetrics) JobFinished(ctx context.Context, jobType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("status", status),
	)
	m.jobsFinished.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// ChunksDropped counts n chunks lost in the given direction ("inbound" or "outbound").
func (m *AgentMetrics) ChunksDropped(ctx context.Context, direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *AgentMetrics) TunnelAttached(ctx context.Context) {
	if m == nil {
		return
	}
	m.tunnelsAttached.Add(ctx, 1)
}
