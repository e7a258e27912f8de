package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"robotagent/internal/artifacts"
	"robotagent/internal/job"
	"robotagent/internal/logger"
	"robotagent/internal/observability"
	"robotagent/internal/registry"
	"robotagent/internal/relay"
	"robotagent/internal/worker/runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTerminalHeight = 35
	defaultTerminalWidth  = 100
	defaultOutputBuffer   = 4096
	removeTimeout         = 30 * time.Second
)

// ExecutorConfig holds configuration for the container job executor.
type ExecutorConfig struct {
	// DataDir is the host root for per-job result directories. Nil disables store_data.
	DataDir *artifacts.DataDir
	// ContainerDataPath is where the job directory is mounted inside the container.
	ContainerDataPath string
	TerminalHeight    uint
	TerminalWidth     uint
	// OutputBufferSize is the maximum size of one outbound tunnel chunk.
	OutputBufferSize int
}

// ContainerExecutor drives docker-container-launch jobs from image pull to removal.
type ContainerExecutor struct {
	engine   runtime.Engine
	registry *registry.Registry
	uploader artifacts.Uploader
	config   ExecutorConfig
	metrics  *observability.AgentMetrics
	logger   *slog.Logger
}

// NewContainerExecutor creates an executor. A nil uploader discards results.
func NewContainerExecutor(engine runtime.Engine, reg *registry.Registry, uploader artifacts.Uploader, config ExecutorConfig, metrics *observability.AgentMetrics, log *slog.Logger) *ContainerExecutor {
	if uploader == nil {
		uploader = artifacts.NopUploader{}
	}
	if config.ContainerDataPath == "" {
		config.ContainerDataPath = artifacts.DefaultContainerPath
	}
	if config.TerminalHeight == 0 {
		config.TerminalHeight = defaultTerminalHeight
	}
	if config.TerminalWidth == 0 {
		config.TerminalWidth = defaultTerminalWidth
	}
	if config.OutputBufferSize <= 0 {
		config.OutputBufferSize = defaultOutputBuffer
	}
	if log == nil {
		log = slog.Default()
	}

	return &ContainerExecutor{
		engine:   engine,
		registry: reg,
		uploader: uploader,
		config:   config,
		metrics:  metrics,
		logger:   log,
	}
}

// Execute runs one container job against the job's current registration,
// registering it first when the id is unknown.
func (e *ContainerExecutor) Execute(ctx context.Context, jobID string, spec job.ContainerSpec) job.Outcome {
	t, ok := e.ticketFor(jobID)
	if !ok {
		t, _ = e.registry.Register(jobID, string(job.TypeContainerLaunch))
	}
	return e.Run(ctx, t, spec)
}

func (e *ContainerExecutor) ticketFor(jobID string) (registry.Ticket, bool) {
	rec, ok := e.registry.Lookup(jobID)
	if !ok {
		return registry.Ticket{}, false
	}
	return rec.Ticket(), true
}

// Run runs one container job and returns its terminal outcome. Registry
// transitions only apply to the registration t names, so a run displaced by
// a re-registered id never settles or feeds the newer record.
func (e *ContainerExecutor) Run(ctx context.Context, t registry.Ticket, spec job.ContainerSpec) job.Outcome {
	jobID := t.JobID
	jobType := string(job.TypeContainerLaunch)
	ctx = logger.WithJobID(ctx, jobID)
	log := logger.FromContext(ctx, e.logger)

	tracer := otel.Tracer("robotagent-worker")
	ctx, span := tracer.Start(ctx, "execute_container_job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.image", spec.Image),
			attribute.Bool("job.interactive", spec.Interactive()),
			attribute.Bool("job.store_data", spec.StoreData()),
		),
	)
	defer span.End()

	started := time.Now()
	e.metrics.JobStarted(ctx, jobType)
	log.Info("container job started", "image", spec.Image, "interactive", spec.Interactive())

	logs, persisted, err := e.lifecycle(ctx, log, t, spec)

	var outcome job.Outcome
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("container job failed", "error", err)
		outcome = job.Failed(jobID, err)
		e.registry.CompleteFor(t, registry.StatusError)
	} else {
		outcome = job.Done(jobID, logs)
		e.registry.CompleteFor(t, registry.StatusDone)
		if persisted {
			e.uploadResults(ctx, log, jobID)
		}
		log.Info("container job finished", "duration", time.Since(started))
	}

	span.SetAttributes(attribute.String("job.status", string(outcome.Status)))
	e.metrics.JobFinished(ctx, jobType, string(outcome.Status), time.Since(started))
	return outcome
}

// lifecycle performs the container lifecycle. persisted reports whether the
// job's data directory was mounted and should be collected.
func (e *ContainerExecutor) lifecycle(ctx context.Context, log *slog.Logger, t registry.Ticket, spec job.ContainerSpec) (logs string, persisted bool, err error) {
	jobID := t.JobID
	if err := e.engine.Ping(ctx); err != nil {
		return "", false, fmt.Errorf("container engine unavailable: %w", err)
	}

	if err := e.engine.PullImage(ctx, spec.Image); err != nil {
		return "", false, err
	}

	binds := spec.Binds()
	if spec.StoreData() {
		if mount, ok := e.dataMount(log, jobID); ok {
			binds = append(binds, mount)
			persisted = true
		}
	}

	cfg := runtime.ContainerConfig{
		Name:        spec.ContainerName,
		Image:       spec.Image,
		Env:         spec.Env,
		Privileged:  spec.Privileged,
		NetworkMode: spec.NetworkMode,
		Binds:       binds,
		Ports:       spec.PortSpecs(),
	}
	if spec.Interactive() {
		cfg.Tty = true
		cfg.Cmd = []string{"sh"}
	}

	containerID, err := e.engine.CreateContainer(ctx, cfg)
	if err != nil {
		return "", false, err
	}
	log = log.With("container_id", containerID)

	removed := false
	defer func() {
		if removed {
			return
		}
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if rmErr := e.engine.RemoveContainer(rmCtx, containerID); rmErr != nil {
			log.Warn("failed to clean up container", "error", rmErr)
		}
	}()

	if err := e.engine.StartContainer(ctx, containerID); err != nil {
		return "", false, err
	}
	e.registry.SetStatusFor(t, registry.StatusRunning)
	log.Info("container running")

	if spec.Interactive() {
		if err := e.runInteractive(ctx, log, t, containerID, spec.Command()); err != nil {
			return "", false, err
		}
	} else {
		if logs, err = e.collectLogs(ctx, containerID); err != nil {
			return "", false, err
		}
	}

	removed = true
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	if err := e.engine.RemoveContainer(rmCtx, containerID); err != nil {
		return "", false, err
	}

	return logs, persisted, nil
}

// dataMount creates the job's host data directory and returns its bind spec.
func (e *ContainerExecutor) dataMount(log *slog.Logger, jobID string) (string, bool) {
	if e.config.DataDir == nil {
		log.Warn("store_data requested but no data root is configured")
		return "", false
	}
	hostPath, err := e.config.DataDir.Create(jobID)
	if err != nil {
		log.Warn("skipping data mount", "error", err)
		return "", false
	}
	return hostPath + ":" + strings.TrimSuffix(e.config.ContainerDataPath, "/"), true
}

// collectLogs follows the container's output until it exits.
func (e *ContainerExecutor) collectLogs(ctx context.Context, containerID string) (string, error) {
	rc, err := e.engine.Logs(ctx, containerID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var sb strings.Builder
	if _, err := io.Copy(&sb, rc); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return strings.ToValidUTF8(sb.String(), "\uFFFD"), nil
}

// runInteractive runs cmd as a tty exec and relays it through the job's
// tunnel channels until the process output ends.
func (e *ContainerExecutor) runInteractive(ctx context.Context, log *slog.Logger, t registry.Ticket, containerID string, cmd []string) error {
	sess, err := e.engine.Exec(ctx, containerID, runtime.ExecOptions{Cmd: cmd, Tty: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Resize(ctx, e.config.TerminalHeight, e.config.TerminalWidth); err != nil {
		log.Warn("failed to resize terminal", "error", err)
	}

	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	forwardDone := make(chan struct{})

	inbound, ok := e.registry.InboundSenderFor(t)
	if ok {
		sub := inbound.Subscribe()
		go func() {
			defer close(forwardDone)
			defer sub.Close()
			e.forwardInput(fwdCtx, log, sub, sess)
		}()
	} else {
		close(forwardDone)
	}

	e.relayOutput(ctx, log, t, sess)

	stopForward()
	sess.Close()
	<-forwardDone
	return nil
}

// forwardInput writes inbound tunnel chunks to the exec's stdin, in order,
// until the channel closes, ctx ends, or the write fails.
func (e *ContainerExecutor) forwardInput(ctx context.Context, log *slog.Logger, sub *relay.Subscription, w io.Writer) {
	for {
		chunk, err := sub.Recv(ctx)
		if err != nil {
			var lagged *relay.LaggedError
			if errors.As(err, &lagged) {
				log.Warn("tunnel input lagged", "missed", lagged.Missed)
				e.metrics.ChunksDropped(ctx, "inbound", int(lagged.Missed))
				continue
			}
			return
		}
		if _, err := w.Write(chunk); err != nil {
			log.Debug("stopped forwarding tunnel input", "error", err)
			return
		}
	}
}

// relayOutput reads exec output and broadcasts each chunk to the attached
// tunnel, if any. Chunks are dropped when nobody is attached.
func (e *ContainerExecutor) relayOutput(ctx context.Context, log *slog.Logger, t registry.Ticket, r io.Reader) {
	buf := make([]byte, e.config.OutputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if out, ok := e.registry.OutboundSenderFor(t); ok {
				if _, sendErr := out.Send(buf[:n]); sendErr != nil {
					e.metrics.ChunksDropped(ctx, "outbound", 1)
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("exec output stream ended", "error", err)
			}
			return
		}
	}
}

// uploadResults hands every file in the job's data directory to the uploader.
// Failures are logged and do not change the outcome.
func (e *ContainerExecutor) uploadResults(ctx context.Context, log *slog.Logger, jobID string) {
	files, err := e.config.DataDir.Files(jobID)
	if err != nil {
		log.Warn("skipping result upload", "error", err)
		return
	}

	for _, path := range files {
		key, err := e.config.DataDir.Key(path)
		if err != nil {
			log.Warn("skipping result file", "path", path, "error", err)
			continue
		}
		if err := e.uploader.Upload(ctx, artifacts.File{JobID: jobID, LocalPath: path, Key: key}); err != nil {
			log.Warn("result upload failed", "key", key, "error", err)
			continue
		}
		log.Info("result uploaded", "key", key)
	}
}
