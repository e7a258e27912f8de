// Package worker contains the agent's job dispatch loop and the container job executor.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"robotagent/internal/job"
	"robotagent/internal/registry"
	"robotagent/internal/transport"
	"robotagent/internal/tunnel"
	"robotagent/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrTransportClosed is returned by Run when the transport stops delivering.
var ErrTransportClosed = errors.New("transport delivery channel closed")

// AgentConfig holds configuration for the agent.
type AgentConfig struct {
	ID string
	// Concurrency caps jobs inside the executor at once. Zero means unbounded.
	Concurrency int
	// PublishTimeout bounds reporting one outcome (default: 30s).
	PublishTimeout time.Duration
}

// Executor runs one container job to its terminal outcome. Registry
// transitions it makes are bound to the given registration.
type Executor interface {
	Run(ctx context.Context, t registry.Ticket, spec job.ContainerSpec) job.Outcome
}

// Agent consumes the transport, runs each job on its own goroutine and
// reports exactly one outcome per job.
type Agent struct {
	transport transport.Transport
	registry  *registry.Registry
	tunnels   *tunnel.Service
	executor  Executor
	config    AgentConfig
	logger    *slog.Logger

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a new agent.
func New(tr transport.Transport, reg *registry.Registry, tunnels *tunnel.Service, exec Executor, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency < 0 {
		config.Concurrency = 0
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var sem chan struct{}
	if config.Concurrency > 0 {
		sem = make(chan struct{}, config.Concurrency)
	}

	return &Agent{
		transport: tr,
		registry:  reg,
		tunnels:   tunnels,
		executor:  exec,
		config:    config,
		logger:    logger,
		sem:       sem,
		done:      make(chan struct{}),
	}
}

// Run consumes envelopes until ctx is cancelled or the transport closes.
// In-flight jobs are allowed to finish before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	deliveries, err := a.transport.Subscribe(ctx)
	if err != nil {
		close(a.done)
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	a.logger.Info("agent started",
		slog.String("agent_id", a.config.ID),
		slog.Int("concurrency", a.config.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			return a.drain(ctx.Err())

		case env, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return a.drain(ctx.Err())
				}
				return a.drain(ErrTransportClosed)
			}
			a.dispatch(ctx, env)
		}
	}
}

func (a *Agent) drain(reason error) error {
	a.logger.Info("waiting for running jobs to finish", slog.Any("reason", reason))
	a.wg.Wait()
	close(a.done)
	return reason
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func (a *Agent) dispatch(ctx context.Context, env transport.Envelope) {
	switch env.Kind {
	case transport.KindJobNew:
		a.handleJobNew(ctx, env)
	case transport.KindTunnelAttach:
		a.handleTunnelAttach(ctx, env)
	case transport.KindTunnelInput:
		a.handleTunnelInput(ctx, env)
	default:
		a.logger.Warn("dropping message of unknown kind", slog.String("kind", string(env.Kind)))
		a.settle(env, false)
	}
}

func (a *Agent) handleJobNew(ctx context.Context, env transport.Envelope) {
	var req job.Request
	if err := json.Unmarshal(env.Body, &req); err != nil || req.ID == "" {
		a.logger.Warn("dropping undecodable job request", slog.Any("error", err))
		a.settle(env, false)
		return
	}
	a.settle(env, true)

	if req.Type == "" {
		req.Type = job.TypeContainerLaunch
	}
	ticket, _ := a.registry.Register(req.ID, string(req.Type))

	// Job work is detached from the dispatch context so it can drain on shutdown.
	jobCtx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(ctx), propagation.MapCarrier(env.Headers))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.process(jobCtx, ticket, req)
	}()
}

// process decodes and runs one job, then reports its outcome.
func (a *Agent) process(ctx context.Context, ticket registry.Ticket, req job.Request) {
	tracer := otel.Tracer("robotagent-agent")
	ctx, span := tracer.Start(ctx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", req.ID),
			attribute.String("job.type", string(req.Type)),
			attribute.String("agent.id", a.config.ID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	var outcome job.Outcome
	args, err := job.Decode(req)
	if err != nil {
		span.RecordError(err)
		a.logger.Error("rejecting job", slog.String("job_id", req.ID), slog.Any("error", err))
		a.registry.CompleteFor(ticket, registry.StatusError)
		outcome = job.Failed(req.ID, err)
	} else {
		release := a.acquire()
		switch v := args.(type) {
		case job.ContainerLaunch:
			outcome = a.executor.Run(ctx, ticket, v.Spec)
		default:
			err := fmt.Errorf("%w: %q", job.ErrUnsupportedType, v.JobType())
			a.registry.CompleteFor(ticket, registry.StatusError)
			outcome = job.Failed(req.ID, err)
		}
		release()
	}

	a.report(ctx, outcome)
}

// acquire takes a concurrency slot when a limit is configured.
func (a *Agent) acquire() (release func()) {
	if a.sem == nil {
		return func() {}
	}
	a.sem <- struct{}{}
	return func() { <-a.sem }
}

// report publishes the job_done message.
func (a *Agent) report(ctx context.Context, outcome job.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, a.config.PublishTimeout)
	defer cancel()

	msg := api.JobDone{JobID: outcome.JobID, Status: string(outcome.Status), Logs: outcome.Logs}
	if err := transport.PublishJSON(ctx, a.transport, transport.KindJobDone, msg); err != nil {
		a.logger.Error("failed to report job outcome",
			slog.String("job_id", outcome.JobID),
			slog.String("status", string(outcome.Status)),
			slog.Any("error", err),
		)
		return
	}
	a.logger.Info("job outcome reported",
		slog.String("job_id", outcome.JobID),
		slog.String("status", string(outcome.Status)),
	)
}

func (a *Agent) handleTunnelAttach(ctx context.Context, env transport.Envelope) {
	var msg api.TunnelAttach
	if err := json.Unmarshal(env.Body, &msg); err != nil || msg.JobID == "" {
		a.logger.Warn("dropping undecodable tunnel attach", slog.Any("error", err))
		a.settle(env, false)
		return
	}
	a.settle(env, true)

	if _, err := a.tunnels.Attach(ctx, msg.JobID, msg.ClientID); err != nil {
		a.logger.Warn("tunnel attach rejected",
			slog.String("job_id", msg.JobID),
			slog.String("client_id", msg.ClientID),
			slog.Any("error", err),
		)
	}
}

func (a *Agent) handleTunnelInput(ctx context.Context, env transport.Envelope) {
	var msg api.TunnelInput
	if err := json.Unmarshal(env.Body, &msg); err != nil || msg.JobID == "" {
		a.logger.Warn("dropping undecodable tunnel input", slog.Any("error", err))
		a.settle(env, false)
		return
	}
	a.settle(env, true)

	// Input for unknown jobs is dropped like input nobody reads.
	_ = a.tunnels.Send(ctx, msg.JobID, msg.Data)
}

// settle acks a handled envelope or nacks it without requeue.
func (a *Agent) settle(env transport.Envelope, ok bool) {
	var err error
	if ok {
		err = env.Ack()
	} else {
		err = env.Nack(false)
	}
	if err != nil {
		a.logger.Warn("failed to settle message", slog.String("kind", string(env.Kind)), slog.Any("error", err))
	}
}
