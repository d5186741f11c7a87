package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bkchaithanya285/ai-tracking/internal/config"
	"github.com/bkchaithanya285/ai-tracking/internal/database"
	"github.com/bkchaithanya285/ai-tracking/internal/handlers"
	"github.com/bkchaithanya285/ai-tracking/internal/media"
	"github.com/bkchaithanya285/ai-tracking/internal/relay"
	"github.com/bkchaithanya285/ai-tracking/internal/services"
	"github.com/bkchaithanya285/ai-tracking/internal/tracing"
	"github.com/bkchaithanya285/ai-tracking/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	httpPort := flag.String("http-port", "", "Control API port (overrides HTTP_PORT)")
	serviceURL := flag.String("service-url", "", "Processing service base URL (overrides SERVICE_URL)")
	autostart := flag.String("autostart", "", "Start a session on boot: pattern or dir")
	sourcePath := flag.String("path", "", "Frame directory for -autostart=dir")
	clientID := flag.String("client-id", "", "Client identifier (random when empty)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpPort != "" {
		cfg.HTTPPort = *httpPort
	}
	if *serviceURL != "" {
		cfg.ServiceURL = *serviceURL
	}

	newLogger := logger.New
	if cfg.IsDev() {
		newLogger = logger.NewDevelopment
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	id := *clientID
	if id == "" {
		id = uuid.NewString()
	}

	log.Info("starting relay",
		zap.String("version", version),
		zap.String("client_id", id),
		zap.String("service_url", cfg.ServiceURL),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("environment", cfg.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint, id)
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tp.Shutdown(shutdownCtx)
			}()
		}
	}

	streamURL, err := cfg.StreamURL(id)
	fatalOnErr(log, err, "build stream url")
	selectURL, err := cfg.SelectURL()
	fatalOnErr(log, err, "build select url")

	metrics := services.NewMetrics()
	selector := services.NewSelectionClient(selectURL, cfg.SelectTimeout, metrics, log.Named("selection"))

	apiOpts := handlers.Options{
		Metrics:      metrics,
		PlaybackRate: cfg.UploadPlaybackRate,
		Version:      version,
		Logger:       log,
	}

	// Проверка здоровья сервиса (опционально)
	if cfg.HealthGRPCAddr != "" {
		probe, err := services.NewHealthProbe(cfg.HealthGRPCAddr, "", log.Named("health"))
		if err != nil {
			log.Warn("health probe unavailable", zap.Error(err))
		} else {
			defer probe.Close()
			apiOpts.Health = probe
		}
	}

	relayOpts := relay.Options{
		ClientID:       id,
		StreamURL:      streamURL,
		Dial:           relay.WebSocketDialer(cfg.WriteTimeout, int64(cfg.MaxMessageSizeMB)*1024*1024),
		TickInterval:   cfg.TickInterval(),
		ReconnectDelay: cfg.ReconnectDelay,
		ErrorCooldown:  cfg.ErrorCooldown,
		WriteTimeout:   cfg.WriteTimeout,
		PongWait:       cfg.PongWait,
		JPEGQuality:    cfg.JPEGQuality,
		Selector:       selector,
		Metrics:        metrics,
		Logger:         log,
	}

	// Запись сессий в Postgres
	var recorderDone <-chan struct{}
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	if cfg.RecordingEnabled() {
		log.Info("session recording enabled", zap.String("dsn", cfg.DSNForLog()))
		db, err := database.Open(ctx, cfg.DSN())
		fatalOnErr(log, err, "connect to postgres")
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			log.Warn("migration warning", zap.Error(err))
		}

		store := database.NewStore(db)
		recorder := database.NewRecorder(store, 1024, log)
		go recorder.Run(recCtx)
		recorderDone = recorder.Done()

		relayOpts.Recorder = recorder
		apiOpts.Sessions = store
	}

	r, err := relay.New(relayOpts)
	fatalOnErr(log, err, "create relay")
	apiOpts.Relay = r

	relayDone := make(chan error, 1)
	go func() { relayDone <- r.Run(ctx) }()

	if *autostart != "" {
		src, err := media.NewSource(*autostart, *sourcePath, cfg.UploadPlaybackRate)
		fatalOnErr(log, err, "build autostart source")
		go func() {
			if _, err := r.StartSession(ctx, src); err != nil {
				log.Error("autostart failed", zap.Error(err))
			}
		}()
	}

	api := handlers.New(apiOpts)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("control api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control api error", zap.Error(err))
			cancel()
		}
	}()

	// Ждём сигнала
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Warn("control api shutdown", zap.Error(err))
	}

	cancel()
	select {
	case <-relayDone:
	case <-time.After(10 * time.Second):
		log.Warn("relay did not stop in time")
	}

	stopRecorder()
	if recorderDone != nil {
		<-recorderDone
	}

	log.Info("goodbye")
}

func fatalOnErr(log *zap.Logger, err error, msg string) {
	if err != nil {
		log.Fatal(msg, zap.Error(err))
	}
}
