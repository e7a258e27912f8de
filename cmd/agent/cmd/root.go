// Package cmd implements the agent daemon's command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"robotagent/internal/artifacts"
	"robotagent/internal/config"
	"robotagent/internal/controlapi"
	"robotagent/internal/controlapi/handlers"
	"robotagent/internal/logger"
	"robotagent/internal/observability"
	"robotagent/internal/registry"
	"robotagent/internal/transport"
	"robotagent/internal/tunnel"
	"robotagent/internal/worker"
	"robotagent/internal/worker/runtime"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

const serviceName = "robotagent"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "robotagent",
	Short: "Robot agent that runs server-assigned jobs as Docker containers",
	Long: `robotagent connects a robot to its fleet server.

It consumes job requests from the robot's AMQP inbox, runs each one as a
Docker container, reports exactly one outcome per job and relays interactive
sessions between the container and remotely attached tunnel clients.

Configuration is read from robotagent.yaml (or --config), a .env file and
environment variables. AMQP_URL is required.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			cmd.PrintErrf("Failed to load config: %v\n", err)
			return err
		}
		return run(cfg)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is robotagent.yaml in the current directory)")
}

func run(cfg *config.Config) error {
	log := logger.New(logger.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		AgentID:     cfg.AgentID,
		Endpoint:    cfg.OTELEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(serviceName)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	reg := registry.New(cfg.RelayCapacity, log)

	metrics, err := observability.NewAgentMetrics(otel.Meter(serviceName), func() map[string]int {
		counts := make(map[string]int)
		for status, n := range reg.Count() {
			counts[string(status)] = n
		}
		return counts
	})
	if err != nil {
		return fmt.Errorf("failed to init agent metrics: %w", err)
	}

	engine, err := runtime.NewDockerEngine()
	if err != nil {
		return fmt.Errorf("failed to create docker engine: %w", err)
	}
	defer engine.Close()

	dataDir, err := artifacts.NewDataDir(cfg.DataRoot)
	if err != nil {
		return err
	}

	uploader, err := newUploader(cfg)
	if err != nil {
		return err
	}

	tr, err := transport.DialAMQP(transport.AMQPConfig{
		URL:      cfg.AMQPURL,
		Exchange: cfg.AMQPExchange,
		AgentID:  cfg.AgentID,
		Prefetch: cfg.AMQPPrefetch,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}
	defer tr.Close()

	tunnels := tunnel.New(reg, tr, metrics, log)

	executor := worker.NewContainerExecutor(engine, reg, uploader, worker.ExecutorConfig{
		DataDir:           dataDir,
		ContainerDataPath: cfg.ContainerDataPath,
		TerminalHeight:    cfg.TerminalHeight,
		TerminalWidth:     cfg.TerminalWidth,
	}, metrics, log)

	agent := worker.New(tr, reg, tunnels, executor, worker.AgentConfig{
		ID:          cfg.AgentID,
		Concurrency: cfg.Concurrency,
	}, log)

	server := controlapi.New(fmt.Sprintf(":%d", cfg.HTTPPort), handlers.New(reg, tunnels, engine, log), controlapi.Options{
		InputRateLimit: cfg.InputRateLimit,
		InputRateBurst: cfg.InputRateBurst,
		Metrics:        metricsHandler,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("control API listening", "port", cfg.HTTPPort)
		serverErr <- server.Run(ctx)
	}()

	agentErr := make(chan error, 1)
	go func() {
		agentErr <- agent.Run(ctx)
	}()

	var runErr error
	serverDone := false
	select {
	case <-ctx.Done():
		log.Info("shutting down agent")
	case err := <-agentErr:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
		log.Error("agent stopped", "error", err)
	case err := <-serverErr:
		serverDone = true
		if err != nil {
			runErr = fmt.Errorf("control API failed: %w", err)
			log.Error("control API stopped", "error", err)
		}
	}
	stop()

	select {
	case <-agent.Done():
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("timed out waiting for running jobs", "timeout", cfg.ShutdownTimeout)
	}
	tunnels.Close()

	if !serverDone {
		if err := <-serverErr; err != nil {
			log.Warn("control API shutdown failed", "error", err)
		}
	}
	return runErr
}

func newUploader(cfg *config.Config) (artifacts.Uploader, error) {
	switch cfg.UploadBackend {
	case config.UploadHTTP:
		return artifacts.NewHTTPUploader(cfg.ServerURL, cfg.APIKey), nil
	case config.UploadMinio:
		u, err := artifacts.NewMinioUploader(artifacts.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio uploader: %w", err)
		}
		return u, nil
	default:
		return artifacts.NopUploader{}, nil
	}
}
