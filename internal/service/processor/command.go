package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	api "github.com/oshokin/alarm-processor/internal/api/http/alarm"
	"github.com/oshokin/alarm-processor/internal/config"
	"github.com/oshokin/alarm-processor/internal/logger"
	"github.com/oshokin/alarm-processor/internal/repository/journal"
	"github.com/oshokin/alarm-processor/internal/service/common"
)

// HealthService is the gRPC health service name of the processor.
const HealthService = "alarm.processor"

const (
	// journalOpenTimeout bounds the retries of one journal open.
	journalOpenTimeout = time.Minute
	// restartTimeout bounds the engine restarts after fatal errors.
	restartTimeout = 5 * time.Minute
	// shutdownTimeout bounds the graceful HTTP shutdown.
	shutdownTimeout = 10 * time.Second
	// readHeaderTimeout protects the HTTP server from slow clients.
	readHeaderTimeout = 10 * time.Second
	// journalDirName is the journal database directory inside the data dir.
	journalDirName = "journal"
)

// Options controls the alarm-processor process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// DataDir overrides the configured data directory.
	DataDir string
	// HTTPAddress overrides the configured HTTP address.
	HTTPAddress string
	// GRPCAddress overrides the configured gRPC health address.
	GRPCAddress string
	// Partitions overrides the configured number of partitions.
	Partitions int
	// LogLevel overrides the configured log level.
	LogLevel string
}

// Run starts the processor and blocks until ctx is canceled. After a fatal
// store error the engine is rebuilt from the journal with exponential
// backoff; Run gives up and returns the error once the backoff is exhausted.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-processor")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	defer func() { _ = closeLog() }()

	actor, err := common.DetectActor(cfg.AppName)
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	if cfg.GRPCAddress != "" {
		stop, err := serveHealth(ctx, cfg.GRPCAddress, healthServer)
		if err != nil {
			return err
		}

		defer stop()
	}

	restarts := backoff.NewExponentialBackOff()
	restarts.MaxElapsedTime = restartTimeout

	for {
		err = serve(ctx, cfg, actor, healthServer)
		if ctx.Err() != nil {
			logger.Info(ctx, "Alarm processor stopped")

			return nil
		}

		healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

		wait := restarts.NextBackOff()
		if wait == backoff.Stop {
			return err
		}

		logger.ErrorKV(ctx, "Engine failed, restarting", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	if opts.HTTPAddress != "" {
		cfg.HTTPAddress = opts.HTTPAddress
	}

	if opts.GRPCAddress != "" {
		cfg.GRPCAddress = opts.GRPCAddress
	}

	if opts.Partitions > 0 {
		cfg.Partitions = opts.Partitions
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if err = config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return cfg, nil
}

func setupLogging(cfg *config.Config) (func() error, error) {
	level, _ := logger.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(level)

	if cfg.LogFile == "" {
		return func() error { return nil }, nil
	}

	l, closer := logger.NewFile(nil, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})
	logger.SetLogger(l)

	return func() error {
		return multierr.Append(l.Sync(), closer.Close())
	}, nil
}

func serveHealth(ctx context.Context, address string, hs *health.Server) (func(), error) {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.ErrorKV(ctx, "GRPC health server failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "GRPC health server listening", "listen_address", address)

	return func() {
		hs.Shutdown()
		grpcServer.GracefulStop()
	}, nil
}

// serve runs one engine generation: journal, engine and HTTP server.
func serve(ctx context.Context, cfg *config.Config, actor *common.Actor, hs *health.Server) (err error) {
	path := filepath.Join(cfg.DataDir, journalDirName)

	j, err := journal.OpenRetry(ctx, path, journalOpenTimeout, journal.WithHeaders(actor.Headers()))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	defer func() { err = multierr.Append(err, j.Close()) }()

	engine, err := New(ctx, j,
		WithPartitions(cfg.Partitions),
		WithExpirationInterval(cfg.ExpirationInterval),
		WithFatalHook(func(error) {
			hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		}),
	)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	ready := func() bool {
		resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})

		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           api.NewServer(engine, engine.MetricsHandler(), ready).Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", cfg.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddress, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	logger.InfoKV(ctx, "Alarm processor serving",
		"http_address", lis.Addr().String(),
		"data_dir", cfg.DataDir,
		"partitions", cfg.Partitions)

	return g.Wait()
}
