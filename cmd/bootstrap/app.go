package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lechuhuuha/event_relay/config"
	"github.com/lechuhuuha/event_relay/internal/broker"
	httpapi "github.com/lechuhuuha/event_relay/internal/http"
	"github.com/lechuhuuha/event_relay/internal/queue"
	"github.com/lechuhuuha/event_relay/internal/rpc"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/repo"
	"github.com/lechuhuuha/event_relay/service"
)

// BuildInfo is stamped at link time and reported by /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

func (b BuildInfo) withDefaults() BuildInfo {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = "none"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

// App wires together the broker session, the gRPC and HTTP servers and the archive spool.
type App struct {
	cfg       *config.Config
	logger    loggerpkg.Logger
	buildInfo BuildInfo
	client    broker.Client
}

// NewApp returns a configured App instance.
func NewApp(cfg *config.Config, logger loggerpkg.Logger) (*App, error) {
	return NewAppWithBuildInfo(cfg, logger, BuildInfo{})
}

// NewAppWithBuildInfo returns a configured App that reports build metadata.
func NewAppWithBuildInfo(cfg *config.Config, logger loggerpkg.Logger, build BuildInfo) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	return &App{
		cfg:       cfg,
		logger:    logger,
		buildInfo: build.withDefaults(),
		client:    queue.NewKafkaClient(logger),
	}, nil
}

// WithBrokerClient replaces the Kafka client, e.g. with a fake in tests.
func (a *App) WithBrokerClient(client broker.Client) *App {
	if client != nil {
		a.client = client
	}
	return a
}

// Runtime holds everything BuildApp started. Shutdown releases it in order.
type Runtime struct {
	Session    *broker.Session
	Supervisor *service.PublishSupervisor
	GRPC       *rpc.Server
	HTTP       *http.Server

	spool           *service.ArchiveSpool
	logger          loggerpkg.Logger
	shutdownTimeout time.Duration
}

// BuildApp creates the broker session and performs its first initialization.
// Any initialization error aborts startup.
func (a *App) BuildApp(ctx context.Context) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	session, err := broker.NewSession(a.cfg.BrokerConfig(), a.client, a.logger)
	if err != nil {
		return nil, fmt.Errorf("configure broker session: %w", err)
	}

	var (
		archive repo.ArchiveRepository
		spool   *service.ArchiveSpool
		sink    service.Spool
	)
	if dl := a.cfg.DeadLetter; dl.Enabled {
		archive, err = repo.NewMinIOArchive(repo.MinIOArchiveOptions{
			Endpoint:  dl.MinIO.Endpoint,
			Bucket:    dl.MinIO.Bucket,
			AccessKey: dl.MinIO.AccessKey,
			SecretKey: dl.MinIO.SecretKey,
			UseSSL:    dl.MinIO.UseSSL,
			Prefix:    dl.MinIO.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("configure archive: %w", err)
		}
		spool = service.NewArchiveSpool(archive, a.logger, &service.ArchiveSpoolConfig{
			QueueSize:    dl.QueueSize,
			Workers:      dl.Workers,
			WriteTimeout: dl.WriteTimeout,
			MaxRetries:   dl.MaxRetries,
			RetryBackoff: dl.RetryBackoff,
		})
		sink = spool
	}

	supervisor := service.NewPublishSupervisor(session, sink, a.logger, &service.SupervisorConfig{
		InitTimeout:         a.cfg.Broker.InitTimeout,
		QueueFullRetryDelay: a.cfg.Broker.QueueFullRetryDelay,
		MaxPayloadBytes:     a.cfg.Server.MaxPayloadBytes,
	})
	if err := supervisor.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		_ = session.Close(closeCtx)
		cancel()
		return nil, fmt.Errorf("initialize broker session: %w", err)
	}
	if spool != nil {
		spool.Start()
	}

	handler := rpc.NewHandler(supervisor, a.cfg.Broker.Topic, a.logger)
	grpcServer := rpc.NewServer(handler, a.logger)

	mux := http.NewServeMux()
	var checker httpapi.Checker
	if archive != nil {
		checker = archive
	}
	httpapi.NewHandler(session, checker, httpapi.BuildInfo{
		Version:   a.buildInfo.Version,
		Commit:    a.buildInfo.Commit,
		BuildDate: a.buildInfo.BuildDate,
	}, a.logger).RegisterRoutes(mux)

	return &Runtime{
		Session:    session,
		Supervisor: supervisor,
		GRPC:       grpcServer,
		HTTP: &http.Server{
			Addr:              a.cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		spool:           spool,
		logger:          a.logger,
		shutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, nil
}

// Run starts both servers and blocks until ctx is canceled or a server fails.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := a.BuildApp(ctx)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
	if err != nil {
		rt.Shutdown(context.Background())
		return fmt.Errorf("listen grpc: %w", err)
	}

	serveErr := make(chan error, 2)
	go func() {
		if err := rt.GRPC.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.logger.Info("http server listening", loggerpkg.F("addr", rt.HTTP.Addr))
		if err := rt.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	a.logger.Info("event relay started",
		loggerpkg.F("grpc_addr", lis.Addr().String()),
		loggerpkg.F("topic", a.cfg.Broker.Topic),
		loggerpkg.F("version", a.buildInfo.Version))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		a.logger.Error("server failed", loggerpkg.F("error", runErr))
	}
	rt.Shutdown(context.Background())
	return runErr
}

// Shutdown stops the gRPC server, closes the broker session, drains the
// archive spool and stops the HTTP server, each bounded by the shutdown timeout.
func (r *Runtime) Shutdown(ctx context.Context) {
	timeout := r.shutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.GRPC.Shutdown(ctx)
	if err := r.Supervisor.Close(ctx); err != nil {
		r.logger.Warn("broker session close failed", loggerpkg.F("error", err))
	}
	if r.spool != nil {
		if err := r.spool.Close(ctx); err != nil {
			r.logger.Warn("archive spool did not drain", loggerpkg.F("error", err))
		}
	}
	if err := r.HTTP.Shutdown(ctx); err != nil {
		r.logger.Warn("http server shutdown failed", loggerpkg.F("error", err))
	}
	r.logger.Info("event relay stopped")
}
