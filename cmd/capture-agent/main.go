package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Justiceleeg/always-on-app/internal/audio"
	"github.com/Justiceleeg/always-on-app/internal/capture"
	"github.com/Justiceleeg/always-on-app/internal/config"
	"github.com/Justiceleeg/always-on-app/internal/delivery"
	"github.com/Justiceleeg/always-on-app/internal/location"
	"github.com/Justiceleeg/always-on-app/internal/metrics"
	"github.com/Justiceleeg/always-on-app/internal/server"
	"github.com/Justiceleeg/always-on-app/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "capture-agent"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	enroll := flag.Bool("enroll", false, "Record a voiceprint enrollment sample and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Agent starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	clientConfig := delivery.ClientConfig{
		Endpoint:       cfg.Delivery.Endpoint,
		EnrollEndpoint: cfg.Delivery.EnrollEndpoint,
		Timeout:        cfg.Delivery.GetTimeoutDuration(),
	}
	client, err := delivery.NewClient(clientConfig, delivery.StaticToken(cfg.Delivery.APIKey))
	if err != nil {
		logger.Error("Failed to create delivery client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *enroll {
		if err := runEnrollment(cfg, client, logger); err != nil {
			logger.Error("Enrollment failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("window_duration", cfg.Audio.GetWindowDuration()),
		slog.Duration("overlap_duration", cfg.Audio.GetOverlapDuration()),
		slog.Float64("energy_threshold", cfg.VAD.EnergyThreshold),
		slog.String("delivery_endpoint", cfg.Delivery.Endpoint),
		slog.Int("max_retries", cfg.Delivery.MaxRetries),
		slog.Int("max_queue_size", cfg.Delivery.MaxQueueSize),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	gate, err := vad.NewGate(cfg.VAD.EnergyThreshold)
	if err != nil {
		logger.Error("Failed to create energy gate", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queue := delivery.NewQueue(cfg.Delivery.MaxQueueSize)

	processor := delivery.NewProcessor(queue, client, appMetrics, logger, delivery.ProcessorConfig{
		MaxRetries:   cfg.Delivery.MaxRetries,
		MaxAge:       cfg.Delivery.GetMaxAgeDuration(),
		PollInterval: cfg.Delivery.GetPollIntervalDuration(),
	})

	var locations location.Provider
	if cfg.Location.Enabled {
		locations = location.Static{
			Coords: location.Coordinates{
				Latitude:  cfg.Location.Latitude,
				Longitude: cfg.Location.Longitude,
			},
		}
	}

	engineConfig := capture.EngineConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		WindowDuration:  cfg.Audio.GetWindowDuration(),
		OverlapDuration: cfg.Audio.GetOverlapDuration(),
		FrameSize:       cfg.Audio.FrameSize,
	}
	engine, err := capture.NewEngine(engineConfig, capture.Deps{
		Source:   audio.NewMalgoSource,
		Gate:     gate,
		Queue:    queue,
		Metrics:  appMetrics,
		Logger:   logger,
		Location: locations,
	})
	if err != nil {
		logger.Error("Failed to create capture engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize status HTTP server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.Status.Enabled {
		httpServer = server.NewHTTPServer(cfg.Status, logger, cfg, engine, queue, client, appMetrics)
		logger.Info("Status API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.Status.Address, cfg.Status.Port)),
		)
	}

	// Start delivery processor before capture so nothing sits in the queue
	processor.Start()

	started, err := engine.Start()
	if err != nil {
		logger.Error("Failed to start capture engine", slog.String("error", err.Error()))
		processor.Stop()
		os.Exit(1)
	}
	if !started {
		logger.Error("Capture engine already active")
		processor.Stop()
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start status server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Agent started successfully, capturing audio...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop the producers and the status server concurrently, then drain
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	g, _ := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		engine.Stop()
		return nil
	})
	if httpServer != nil {
		g.Go(func() error {
			return httpServer.Stop(shutdownCtx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Error during shutdown", slog.String("error", err.Error()))
	}

	// Processor last: the engine may enqueue a final window while stopping
	processor.Stop()

	// Get final statistics
	snapshot := appMetrics.GetSnapshot()
	gateStats := gate.GetStats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("windows_captured", snapshot.WindowsCaptured),
		slog.Uint64("windows_filtered", snapshot.WindowsFiltered),
		slog.Uint64("items_delivered", snapshot.ItemsDelivered),
		slog.Uint64("items_discarded_expired", snapshot.ItemsDiscardedExpired),
		slog.Uint64("items_discarded_exhausted", snapshot.ItemsDiscardedExhausted),
		slog.Int64("queue_size", snapshot.QueueSize),
		slog.Float64("speech_percentage", gateStats.SpeechPercentage),
	)

	logger.Info("Agent stopped")
}

// runEnrollment records a single bounded enrollment sample from the
// microphone and uploads it. The recording stops on Ctrl+C or at the
// configured maximum duration, whichever comes first.
func runEnrollment(cfg *config.Config, client *delivery.Client, logger *slog.Logger) error {
	recorderConfig := capture.RecorderConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		FrameSize:   cfg.Audio.FrameSize,
		MinDuration: cfg.Enrollment.GetMinDuration(),
		MaxDuration: cfg.Enrollment.GetMaxDuration(),
	}
	recorder, err := capture.NewRecorder(recorderConfig, audio.NewMalgoSource, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}

	if _, err := recorder.Start(); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	fmt.Printf("Recording enrollment sample (%v-%v). Speak naturally; press Ctrl+C to finish.\n",
		cfg.Enrollment.GetMinDuration(), cfg.Enrollment.GetMaxDuration())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-time.After(cfg.Enrollment.GetMaxDuration()):
	}
	signal.Stop(sigChan)

	wav, err := recorder.Stop()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Delivery.GetTimeoutDuration())
	defer cancel()

	resp, err := client.Enroll(ctx, wav)
	if err != nil {
		return fmt.Errorf("enrollment upload failed: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("enrollment rejected: %s", resp.Message)
	}

	logger.Info("Enrollment complete", slog.String("message", resp.Message))
	fmt.Println("Enrollment complete.")
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
