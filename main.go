package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memorybox/api"
	"memorybox/config"
	"memorybox/db"
	"memorybox/mailer"
	"memorybox/reset"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// @title           MemoryBox API
// @version         1.0.0
// @description     Backend of the MemoryBox photo sharing app: accounts, photo boxes and
// @description     email based password reset. Account and box ids in paths are the
// @description     account email, percent-encoded.
// @BasePath        /

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL: Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogEnv)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is cancelled. Startup
// failures are logged as CRITICAL and returned.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	cfg.LogConfiguration(logger)
	if cfg.LogEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := utils.NewMetrics(registry)

	// --- Database ---
	verifier, err := utils.NewCredentialVerifier(cfg.PasswordScheme, cfg.BcryptCost)
	if err != nil {
		logger.Error("CRITICAL: Failed to configure credentials", zap.Error(err))
		return err
	}
	storage, err := db.NewStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: Failed to configure storage", zap.Error(err))
		return err
	}
	database, err := db.NewDatabase(ctx, db.Options{
		Storage:      storage,
		Verifier:     verifier,
		Logger:       logger.Named("db"),
		Metrics:      metrics,
		SaveInterval: cfg.SaveInterval,
	})
	if err != nil {
		logger.Error("CRITICAL: Failed to initialize database", zap.Error(err))
		return err
	}

	// --- Password Reset ---
	resets, closeResets, err := newResetRegistry(ctx, cfg, logger.Named("reset"))
	if err != nil {
		logger.Error("CRITICAL: Failed to initialize reset registry", zap.Error(err))
		return err
	}
	defer closeResets()
	mail, err := mailer.New(cfg, logger.Named("mailer"), metrics)
	if err != nil {
		logger.Error("CRITICAL: Failed to initialize mailer", zap.Error(err))
		return err
	}
	defer func() {
		if err := mail.Close(); err != nil {
			logger.Warn("failed to close mailer", zap.Error(err))
		}
	}()

	// --- Gin Router Setup ---
	router := api.NewRouter(&api.Deps{
		Config:   cfg,
		DB:       database,
		Resets:   reset.Instrument(resets, metrics, logger.Named("reset")),
		Mailer:   mail,
		Logger:   logger,
		Gatherer: registry,
	})

	// --- Start Server ---
	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		logger.Error("CRITICAL: Server failed to start", zap.Error(err))
		_ = database.Close(context.Background())
		return err
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", listener.Addr().String()))
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("CRITICAL: Server stopped unexpectedly", zap.Error(err))
			_ = database.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	if err := database.Close(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newResetRegistry builds the configured registry backend and returns a
// function releasing its resources.
func newResetRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (reset.Registry, func(), error) {
	switch cfg.ResetBackend {
	case "redis":
		client := red.NewClient(&red.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("using redis reset registry", zap.String("addr", cfg.RedisAddr))
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}
		return reset.NewRedisRegistry(client, cfg.RedisPrefix, cfg.ResetTTL), closer, nil
	default:
		mem := reset.NewMemoryRegistry(cfg.ResetTTL, reset.WithLogger(logger))
		sweepCtx, cancel := context.WithCancel(ctx)
		go mem.Run(sweepCtx, sweepInterval)
		return mem, cancel, nil
	}
}
