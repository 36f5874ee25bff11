package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/skypro1111/audio-feature-streamer/internal/aggregator"
	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/capture"
	"github.com/skypro1111/audio-feature-streamer/internal/clock"
	"github.com/skypro1111/audio-feature-streamer/internal/config"
	"github.com/skypro1111/audio-feature-streamer/internal/database"
	"github.com/skypro1111/audio-feature-streamer/internal/faults"
	"github.com/skypro1111/audio-feature-streamer/internal/features"
	"github.com/skypro1111/audio-feature-streamer/internal/metrics"
	"github.com/skypro1111/audio-feature-streamer/internal/mqtt"
	"github.com/skypro1111/audio-feature-streamer/internal/server"
	"github.com/skypro1111/audio-feature-streamer/internal/storage"
	"github.com/skypro1111/audio-feature-streamer/internal/stream"
	"github.com/skypro1111/audio-feature-streamer/internal/telemetry"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-feature-streamer"
	serviceVersion    = "1.0.0"

	encodeTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file (optional)")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		return 1
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	runID := uuid.NewString()
	logger := initLogger(cfg.Logging).With(slog.String("run_id", runID))

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("audio_file_path", cfg.AudioFilePath),
		slog.Int("channels", cfg.Channels),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Float64("audio_time", cfg.AudioTime),
		slog.Float64("feature_time", cfg.FeatureTime),
		slog.String("device_id", cfg.DeviceID),
		slog.Any("features", cfg.Features),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	// Time reference is sampled once; a failed query degrades to the local clock
	timeSource := clock.New(clock.NTPQuerier{Timeout: cfg.NTP.GetTimeoutDuration()}, cfg.NTP.Server, logger)
	appMetrics.SetTimeSynced(timeSource.Synced())

	ext, _, err := cfg.AudioFormat()
	if err != nil {
		logger.Error("Audio format fallback",
			slog.String("error", err.Error()),
			slog.String("kind", faults.KindOf(err).String()),
		)
	}

	encoder, err := audio.NewEncoder(ext)
	if err != nil {
		logger.Error("Failed to create audio encoder", slog.String("error", err.Error()))
		return 1
	}

	store, err := storage.NewDir(cfg.AudioFilePath)
	if err != nil {
		logger.Error("Failed to prepare output directory", slog.String("error", err.Error()))
		return 1
	}

	persister := audio.NewPersister(store, encoder, cfg.Channels, cfg.SampleRate, encodeTimeout, logger, appMetrics)

	// Segment sinks: the JSON file is always written, ClickHouse mirrors it when enabled
	sinks := []aggregator.Sink{aggregator.NewFileSink(store)}

	var db *database.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		db, err = connectClickHouse(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse unavailable, segments are written to files only",
				slog.String("error", err.Error()),
			)
		} else {
			sinks = append(sinks, aggregator.NewClickHouseSink(db))
		}
	}

	agg := aggregator.New(logger, appMetrics, sinks...)

	// Remote endpoint is optional; without it every payload goes to the aggregator
	var transport telemetry.Transport
	var mqttClient *mqtt.Client
	topic := telemetry.DefaultTopic
	publishTimeout := telemetry.DefaultPublishTimeout

	endpoint, err := cfg.RemoteEndpoint()
	switch {
	case err != nil:
		logger.Error("Remote endpoint configuration invalid, running in fallback-only mode",
			slog.String("error", err.Error()),
		)
	case endpoint == nil:
		logger.Info("No remote endpoint configured, running in fallback-only mode")
	default:
		topic = endpoint.Topic
		publishTimeout = endpoint.GetPublishTimeoutDuration()

		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			Endpoint:       endpoint.Endpoint,
			Port:           endpoint.Port,
			ClientID:       endpoint.ClientID,
			RootCA:         endpoint.RootCA,
			Certificate:    endpoint.Certificate,
			PrivateKey:     endpoint.PrivateKey,
			ConnectTimeout: endpoint.GetConnectTimeoutDuration(),
		}, logger)
		if err != nil {
			logger.Error("Failed to create MQTT client, running in fallback-only mode",
				slog.String("error", err.Error()),
			)
		} else {
			transport = mqttClient
			logger.Info("MQTT client initialized",
				slog.String("endpoint", endpoint.Endpoint),
				slog.Int("port", endpoint.Port),
				slog.String("topic", topic),
			)
		}
	}

	publisher := telemetry.NewPublisher(telemetry.Config{
		Topic:    topic,
		Timeout:  publishTimeout,
		DeviceID: cfg.DeviceID,
		Meta:     cfg.Meta,
	}, transport, agg, logger, appMetrics)

	extractor, err := features.NewExtractor(cfg.Features...)
	if err != nil {
		logger.Error("Failed to create feature extractor", slog.String("error", err.Error()))
		return 1
	}

	streamer, err := stream.New(stream.Config{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		AudioTime:   cfg.GetAudioTimeDuration(),
		FeatureTime: cfg.GetFeatureTimeDuration(),
		QueueSize:   cfg.QueueSize,
	}, stream.Deps{
		Clock:      timeSource,
		Extractor:  extractor,
		Persister:  persister,
		Publisher:  publisher,
		Aggregator: agg,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create streamer", slog.String("error", err.Error()))
		return 1
	}

	if err := streamer.Start(ctx); err != nil {
		logger.Error("Failed to start streamer", slog.String("error", err.Error()))
		return 1
	}
	defer streamer.Close()

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Sources{
			Streamer:   streamer,
			Publisher:  publisher,
			Aggregator: agg,
			Persister:  persister,
			Clock:      timeSource,
		}, registry, appMetrics, runID)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			return 1
		}
	}

	command := cfg.Capture.Command
	if command == "" {
		command = capture.DefaultCommand
	}
	args := cfg.Capture.Args
	if len(args) == 0 && command == capture.DefaultCommand {
		args = capture.DefaultArgs(cfg.Channels, cfg.SampleRate)
	}
	source := capture.NewCommandSource(command, args, cfg.Channels, cfg.Capture.BatchFrames, logger)

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- source.Stream(ctx, func(batch capture.Batch) error {
			return streamer.HandleBatch(batch)
		})
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("capture_command", command),
		slog.Bool("time_synced", timeSource.Synced()),
		slog.Bool("remote_endpoint", transport != nil),
	)

	exitCode := 0

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-captureDone:
		captureDone = nil
		if err != nil {
			appMetrics.RecordCaptureError()
			logger.Error("Capture stopped",
				slog.String("error", err.Error()),
				slog.String("kind", faults.KindOf(err).String()),
			)
			if faults.IsFatal(err) {
				exitCode = 1
			}
		} else {
			logger.Info("Capture input ended")
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Stop producing batches before the final flush
	cancel()
	if captureDone != nil {
		// a blocked stdin read does not observe cancellation
		select {
		case <-captureDone:
		case <-time.After(5 * time.Second):
			logger.Warn("Capture did not stop in time, closing stream anyway")
		}
	}

	if err := streamer.Close(); err != nil {
		logger.Error("Error closing streamer", slog.String("error", err.Error()))
	}

	if mqttClient != nil {
		mqttClient.Close()
	}

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("Error closing ClickHouse", slog.String("error", err.Error()))
		}
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	stats := streamer.Stats()
	logger.Info("Final stream statistics",
		slog.Uint64("batches", stats.Batches),
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("feature_events", stats.FeatureEvents),
		slog.Uint64("flush_events", stats.FlushEvents),
		slog.Uint64("dropped_events", stats.DroppedEvents),
		slog.Uint64("published", stats.Published),
		slog.Uint64("fallback_stored", stats.FallbackStored),
	)

	logger.Info("Service stopped")
	return exitCode
}

func connectClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) (*database.ClickHouseDB, error) {
	db, err := database.NewClickHouseDB(ctx, database.Config{
		Addr:     cfg.Addr,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Table:    cfg.Table,
	}, logger)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination; file output is rotated
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
