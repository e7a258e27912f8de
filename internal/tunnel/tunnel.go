// Package tunnel binds remote clients to running jobs and moves their bytes
// between the transport and the job's relay channels.
package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"robotagent/internal/observability"
	"robotagent/internal/registry"
	"robotagent/internal/relay"
	"robotagent/internal/transport"
	"robotagent/pkg/api"
)

// ErrNotAttached is returned by Watch when the job has no tunnel.
var ErrNotAttached = errors.New("no tunnel attached")

// Publisher sends outbound messages to the server.
type Publisher interface {
	Publish(ctx context.Context, kind transport.Kind, body []byte) error
}

// Service implements attach and input forwarding. Every attached tunnel gets
// a pump goroutine publishing the job's output as tunnel_output messages
// until the outbound channel is closed.
type Service struct {
	registry  *registry.Registry
	publisher Publisher
	metrics   *observability.AgentMetrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a tunnel service. A nil publisher disables output pumps.
func New(reg *registry.Registry, publisher Publisher, metrics *observability.AgentMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:  reg,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Attach (re)creates the job's outbound channel for clientID. Any previous
// tunnel is replaced and its pump exits. Attaching to a job that is not
// interactive, or already finished, succeeds but carries no traffic.
func (s *Service) Attach(ctx context.Context, jobID, clientID string) (replaced bool, err error) {
	out, replaced, err := s.registry.AttachTunnel(jobID, clientID)
	if err != nil {
		return false, err
	}
	s.metrics.TunnelAttached(ctx)
	s.logger.Info("tunnel attached",
		slog.String("job_id", jobID),
		slog.String("client_id", clientID),
		slog.Bool("replaced", replaced),
	)

	if s.publisher == nil {
		return replaced, nil
	}

	// Subscribe before returning so no output is missed between attach and pump start.
	sub := out.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		s.pump(jobID, clientID, sub)
	}()
	return replaced, nil
}

func (s *Service) pump(jobID, clientID string, sub *relay.Subscription) {
	log := s.logger.With(slog.String("job_id", jobID), slog.String("client_id", clientID))
	for {
		chunk, err := sub.Recv(s.ctx)
		if err != nil {
			var lagged *relay.LaggedError
			if errors.As(err, &lagged) {
				log.Warn("tunnel output lagged", slog.Uint64("missed", lagged.Missed))
				s.metrics.ChunksDropped(s.ctx, "outbound", int(lagged.Missed))
				continue
			}
			log.Debug("tunnel pump stopped", slog.Any("reason", err))
			return
		}

		msg := api.TunnelOutput{JobID: jobID, ClientID: clientID, Data: chunk}
		if err := transport.PublishJSON(s.ctx, s.publisher, transport.KindTunnelOutput, msg); err != nil {
			log.Warn("failed to publish tunnel output", slog.Any("error", err))
		}
	}
}

// Send broadcasts data onto the job's inbound channel. Data is dropped
// without error when nothing is receiving. An unknown job returns
// registry.ErrJobNotFound.
func (s *Service) Send(ctx context.Context, jobID string, data []byte) error {
	in, ok := s.registry.InboundSender(jobID)
	if !ok {
		return registry.ErrJobNotFound
	}
	if _, err := in.Send(data); err != nil {
		s.metrics.ChunksDropped(ctx, "inbound", 1)
		s.logger.Debug("tunnel input dropped", slog.String("job_id", jobID), slog.Any("reason", err))
	}
	return nil
}

// Watch subscribes to the job's current outbound channel. The caller must
// close the subscription.
func (s *Service) Watch(jobID string) (*relay.Subscription, error) {
	out, ok := s.registry.OutboundSender(jobID)
	if !ok {
		if _, exists := s.registry.Lookup(jobID); !exists {
			return nil, registry.ErrJobNotFound
		}
		return nil, ErrNotAttached
	}
	return out.Subscribe(), nil
}

// Wait blocks until every pump has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops all pumps and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
