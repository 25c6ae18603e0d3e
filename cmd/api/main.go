package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/api"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/audit"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/capture"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/config"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/face"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/matcher"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/metrics"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/notify/mqtt"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/quality"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/repository"
	"github.com/saturnino-fabrica-de-software/facewatch/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg.Environment, cfg.LogFile)
	slog.SetDefault(logger)

	logger.Info("starting facewatch",
		slog.String("environment", cfg.Environment),
		slog.String("addr", cfg.Addr()),
		slog.String("detector", cfg.Detector.Provider),
		slog.String("store", cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	detector, err := face.NewDetector(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	video := capture.NewFFmpegSource(capture.FFmpegConfig{
		URL:           cfg.Camera.URL,
		Width:         cfg.Camera.Width,
		Height:        cfg.Camera.Height,
		FPS:           cfg.Camera.FPS,
		RTSPTransport: cfg.Camera.RTSPTransport,
		OpenTimeout:   cfg.Camera.OpenTimeout,
	}, logger)

	captureCfg := capture.DefaultConfig()
	captureCfg.QueueSize = cfg.Camera.QueueSize
	captureCfg.MaxReadFailures = cfg.Camera.MaxReadFailures
	captureCfg.ReconnectBackoff = cfg.Camera.ReconnectBackoff
	source := capture.NewSource(video, captureCfg, logger)

	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dispatcher.Close()) }()

	gate := quality.NewGate(quality.Config{
		BlurThreshold:     cfg.Quality.BlurThreshold,
		BlurNormalization: cfg.Quality.BlurNormalization,
		MinBrightness:     cfg.Quality.MinBrightness,
		MaxBrightness:     cfg.Quality.MaxBrightness,
		MinFaceSize:       cfg.Quality.MinFaceSize,
		SizeNormalization: cfg.Quality.SizeNormalization,
		PoseAngle:         cfg.Quality.PoseAngle,
	})

	auditLogger := audit.NewSlogLogger(logger)

	identityMatcher := matcher.New(store, matcher.Config{
		Threshold: cfg.Matching.Threshold,
		Cooldown:  cfg.Matching.Cooldown,
	}, logger, matcher.WithAudit(auditLogger))

	pipelineMetrics := metrics.NewPipeline()
	orchestrator, err := pipeline.New(pipeline.Config{
		DecimationFactor: cfg.Pipeline.DecimationFactor,
		IdleDelay:        cfg.Pipeline.IdleDelay,
		ErrorBackoff:     cfg.Pipeline.ErrorBackoff,
		MinFaceSize:      cfg.Quality.MinFaceSize,
		MinCropSize:      cfg.Quality.MinCropSize,
		AcceptScore:      cfg.Quality.AcceptScore,
	}, pipeline.Dependencies{
		Source:   source,
		Detector: detector,
		Gate:     gate,
		Matcher:  identityMatcher,
		Notifier: dispatcher,
		Metrics:  pipelineMetrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	reporter := metrics.NewReporter(pipelineMetrics, logger, cfg.Pipeline.ReportInterval, nil)

	router := api.NewRouter(logger, &api.Dependencies{
		Store:      store,
		Camera:     source,
		Pipeline:   pipelineMetrics,
		Dispatcher: dispatcher,
		Audit:      auditLogger,
	}, api.Config{
		CORSOrigins: cfg.API.CORSOrigins,
		Stream: handler.StreamConfig{
			Interval:    cfg.API.StreamInterval,
			JPEGQuality: cfg.API.JPEGQuality,
		},
	})
	router.Setup()

	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	defer func() { err = multierr.Append(err, source.Release()) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.Addr()))
		if err := router.Listen(cfg.Addr()); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		return router.Shutdown()
	})

	g.Go(func() error {
		if err := orchestrator.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		reporter.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("facewatch stopped")
	return nil
}

// newDispatcher builds the notification dispatcher and registers the
// configured push subscribers. WebSocket clients register themselves later.
func newDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	dispatcherCfg := notify.DefaultConfig()
	dispatcherCfg.Enabled = cfg.Notifications.Enabled
	dispatcherCfg.Cooldown = cfg.Notifications.Cooldown
	dispatcherCfg.EvictInterval = cfg.Notifications.EvictInterval
	dispatcher := notify.New(dispatcherCfg, logger)

	if url := cfg.Notifications.WebhookURL; url != "" {
		dispatcher.AddSubscriber(webhook.NewSubscriber(
			webhook.DefaultConfig(url, cfg.Notifications.WebhookSecret), logger))
		logger.Info("webhook subscriber registered", slog.String("url", url))
	}

	if broker := cfg.Notifications.MQTTBroker; broker != "" {
		publisher, err := mqtt.Connect(ctx, mqtt.Config{
			Broker:   broker,
			ClientID: cfg.Notifications.MQTTClientID,
			Topic:    cfg.Notifications.MQTTTopic,
		}, logger)
		if err != nil {
			_ = dispatcher.Close()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		dispatcher.AddSubscriber(publisher)
	}

	return dispatcher, nil
}
