package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/media_downloader/internal/artifact"
	"github.com/italolelis/media_downloader/internal/config"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/http/rest"
	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/notifier"
	"github.com/italolelis/media_downloader/internal/platform/redis"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/storage/sqlite"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"github.com/italolelis/media_downloader/internal/ytdlp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("media downloader starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}

	slog.Info("media downloader stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OtlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Artifact Store
	store, err := artifact.NewStore(cfg.DownloadDir, tel)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedJobRepository(database, tel)

	// =========================================================================
	// Start Download Engine
	engine := ytdlp.NewClient(ytdlp.ClientConfig{
		Path:           cfg.YtDlp.Path,
		DownloadDir:    store.Dir(),
		OutputTemplate: cfg.YtDlp.OutputTemplate,
		FFmpegLocation: cfg.YtDlp.FfmpegLocation,
		Retries:        cfg.YtDlp.Retries,
		SocketTimeout:  cfg.YtDlp.SocketTimeout,
	})

	engineVersion, err := engine.Version(ctx)
	if err != nil {
		// downloads fail per job until the binary shows up, the API still serves history and artifacts
		logger.Warn("download engine is not available", "path", cfg.YtDlp.Path, "err", err)

		engineVersion = "unknown"
	}

	if cfg.YtDlp.FfmpegLocation == "" {
		logger.Warn("YTDLP_FFMPEG_LOCATION is not set, relying on ffmpeg from PATH for merging and audio extraction")
	}

	// =========================================================================
	// Start Job Registry
	registryOpts := []job.Option{}

	if cfg.Redis.Addr != "" {
		publisher, err := redis.New(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err != nil {
			// job events are best effort, the service works without them
			logger.Error("failed to connect to redis, job events disabled", "addr", cfg.Redis.Addr, "err", err)
		} else {
			defer publisher.Close()

			registryOpts = append(registryOpts, job.WithObserver(publisher))
		}
	}

	registry := job.NewRegistry(registryOpts...)

	// =========================================================================
	// Start Runner
	runner := downloader.New(ctx, downloader.Config{MaxParallel: cfg.MaxParallel}, registry, engine, store, tel)
	instanceID := storage.GenerateInstanceID()

	consumers := setupJobConsumers(ctx, runner, repo, instanceID, cfg)

	defer func() {
		runner.Close()
		consumers.Wait()
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, registry, runner, store)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", store.Dir(),
		"engine_version", engineVersion,
		"max_parallel", cfg.MaxParallel,
		"retention", cfg.KeepDownloadedFor.String(),
		"instance_id", instanceID,
	)

	// =========================================================================
	// Start Cleanup
	go runCleanup(ctx, repo, store, cfg)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

// setupJobConsumers records finished jobs and sends notifications. The loops end
// when the runner closes its event channels.
func setupJobConsumers(
	ctx context.Context,
	runner *downloader.Runner,
	repo storage.JobWriteRepository,
	instanceID string,
	cfg *config.Config,
) *sync.WaitGroup {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	// history writes must survive shutdown so jobs failed by cancellation are recorded
	bg := context.WithoutCancel(ctx)

	handle := func(j job.Job, message string) {
		jobCtx := logctx.WithJobID(bg, j.ID)

		if err := repo.SaveJob(jobCtx, storage.RecordFromJob(j, instanceID)); err != nil {
			logger.ErrorContext(jobCtx, "failed to record job history", "err", err)
		}

		if notif == nil {
			return
		}

		notifyCtx, cancel := context.WithTimeout(jobCtx, 15*time.Second)
		defer cancel()

		if err := notif.Notify(notifyCtx, message); err != nil {
			logger.ErrorContext(jobCtx, "failed to send notification", "err", err)
		}
	}

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for j := range runner.OnJobFailed {
			logger.Info("job failed", "job_id", j.ID, "err", j.Error)

			handle(j, notifier.JobFailedMessage(j))
		}
	}()

	go func() {
		defer wg.Done()

		for j := range runner.OnJobCompleted {
			handle(j, notifier.JobCompletedMessage(j))
		}
	}()

	return &wg
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	registry *job.Registry,
	runner *downloader.Runner,
	store *artifact.Store,
) *http.Server {
	query := job.NewQueryService(registry, rest.DownloadPrefix)
	handler := rest.NewDownloadsHandler(runner, query, store, rest.StatusPrefix)

	router := rest.NewRouter(rest.RouterConfig{
		Downloads:   handler,
		Telemetry:   tel,
		CORSOrigins: cfg.CORSOrigins,
		ActiveJobs:  registry.CountActive,
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(router, "http.server"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// runCleanup periodically deletes expired artifacts of completed jobs.
func runCleanup(ctx context.Context, repo storage.JobRepository, store *artifact.Store, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			tracked, err := repo.GetUnpurgedCompleted(ctx)
			if err != nil {
				logger.Error("failed to get tracked jobs for cleanup", "err", err)

				continue
			}

			purged, err := store.DeleteExpired(ctx, tracked, cfg.KeepDownloadedFor)
			if err != nil {
				logger.Error("failed to delete expired artifacts", "err", err)
			}

			if err := repo.MarkPurged(ctx, purged, time.Now()); err != nil {
				logger.Error("failed to mark jobs purged", "err", err)
			}
		}
	}
}
