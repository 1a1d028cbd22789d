package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsum"
	"github.com/snarg/vidsum/internal/acquire"
	"github.com/snarg/vidsum/internal/api"
	"github.com/snarg/vidsum/internal/config"
	"github.com/snarg/vidsum/internal/ingest"
	"github.com/snarg/vidsum/internal/metrics"
	"github.com/snarg/vidsum/internal/mqttclient"
	"github.com/snarg/vidsum/internal/pipeline"
	"github.com/snarg/vidsum/internal/storage"
	"github.com/snarg/vidsum/internal/summarize"
	"github.com/snarg/vidsum/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	var (
		oneShotURL  = flag.String("url", "", "summarize this video URL and exit")
		oneShotFile = flag.String("file", "", "summarize this local media file and exit")
		sentences   = flag.Int("sentences", 0, "summary length for -url/-file (default SUMMARY_SENTENCES)")
		outDir      = flag.String("out", "", "write video_summary.txt for -url/-file into this directory instead of stdout")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.TempDir, "temp-dir", "", "scratch directory (overrides TEMP_DIR)")
	flag.StringVar(&overrides.ArtifactDir, "artifact-dir", "", "summary artifact directory (overrides ARTIFACT_DIR)")
	flag.StringVar(&overrides.STTProvider, "stt-provider", "", "transcription provider (overrides STT_PROVIDER)")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "whisper endpoint (overrides WHISPER_URL)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger. One-shot mode keeps stdout for the summary.
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	oneShot := *oneShotURL != "" || *oneShotFile != ""
	logOut := os.Stdout
	if oneShot {
		logOut = os.Stderr
	}
	log := zerolog.New(logOut).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vidsum starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.TempDir).Msg("failed to create temp dir")
		}
	}

	// Acquisition
	acquirer := acquire.New(acquire.Options{
		Fetcher:   acquire.NewYTDLPFetcher(cfg.YTDLPPath, cfg.FFmpegPath, cfg.AudioQuality, cfg.FetchTimeout),
		TempDir:   cfg.TempDir,
		YTDLPPath: cfg.YTDLPPath,
		FFmpeg:    cfg.FFmpegPath,
		Normalize: cfg.NormalizeAudio,
		Log:       log,
	})

	// Transcription
	device := transcribe.DetectDevice(cfg.WhisperDevice)
	provider, err := transcribe.New(cfg, device, log.With().Str("component", "transcribe").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up transcription")
	}

	// Summarization
	engine, err := summarize.NewEngine(summarize.Options{
		Language: cfg.SummaryLanguage,
		Order:    summarize.Order(cfg.SummaryOrder),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load summarizer")
	}

	// Artifact storage
	store, err := storage.New(cfg.S3, cfg.ArtifactDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up artifact storage")
	}

	events := pipeline.NewEventBus(256)
	orch := pipeline.New(pipeline.Options{
		Acquirer:         acquirer,
		Provider:         provider,
		Summarizer:       engine,
		Events:           events,
		Artifacts:        store,
		TranscribeOpts:   transcribe.Options(cfg),
		DefaultSentences: cfg.SummarySentences,
		Log:              log.With().Str("component", "pipeline").Logger(),
	})

	if oneShot {
		os.Exit(runOnce(ctx, orch, *oneShotURL, *oneShotFile, *sentences, *outDir, log))
	}

	prometheus.MustRegister(metrics.NewCollector(orch))

	// Drop folder
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(ingest.WatcherOptions{
			Dir:      cfg.WatchDir,
			Remove:   cfg.WatchRemove,
			Debounce: cfg.WatchDebounce,
			Runner:   orch,
			Log:      log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
		defer watcher.Stop()
	}

	// MQTT
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTRequestTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		trigger := ingest.NewMQTTTrigger(ingest.MQTTTriggerOptions{
			Runner:      orch,
			Publisher:   mqtt,
			ResultTopic: cfg.MQTTResultTopic,
			Log:         log,
		})
		mqtt.SetMessageHandler(trigger.HandleMessage)
		trigger.Start(ctx)
		defer trigger.Stop()
	}

	// HTTP Server
	health := api.HealthOptions{
		Version:      version,
		StartTime:    startTime,
		Dependencies: acquirer.DependencyError,
		Busy:         orch.Busy,
		Provider: &api.ProviderInfo{
			Provider: provider.Name(),
			Model:    provider.Model(),
			Device:   string(device),
		},
		ArtifactType: store.Type(),
		MQTT:         mqtt,
	}
	if watcher != nil {
		health.Watcher = watcher.Status
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.ServerOptions{
		Runner:  orch,
		Slot:    orch.Slot(),
		Events:  events,
		Health:  health,
		OpenAPI: vidsum.OpenAPISpec,
		ArtifactURL: func(r *http.Request) string {
			u, err := store.URL(r.Context(), pipeline.ArtifactName)
			if err != nil {
				httpLog.Warn().Err(err).Msg("failed to presign artifact url")
				return ""
			}
			return u
		},
	}, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("vidsum stopped")
}

// runOnce summarizes a single source and returns the process exit code.
func runOnce(ctx context.Context, orch *pipeline.Orchestrator, url, file string, count int, outDir string, log zerolog.Logger) int {
	var src acquire.Source
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Error().Err(err).Msg("failed to read input file")
			return 1
		}
		src = acquire.UploadFile(file, data)
	} else {
		src = acquire.RemoteURL(url)
	}

	res, err := orch.Run(ctx, src, pipeline.RunOptions{SentenceCount: count, Trigger: "cli"})
	if err != nil {
		log.Error().Err(err).Msg("summarization failed")
		return 1
	}

	if outDir == "" {
		fmt.Println(res.Summary)
		return 0
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", outDir).Msg("failed to create output dir")
		return 1
	}
	path := filepath.Join(outDir, pipeline.ArtifactName)
	if err := os.WriteFile(path, []byte(res.Summary), 0o644); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write summary")
		return 1
	}
	log.Info().Str("path", path).Dur("elapsed", res.Elapsed).Msg("summary written")
	return 0
}
