package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/canvas-calculator/internal/application"
	"github.com/eugenenazirov/canvas-calculator/internal/config"
	"github.com/eugenenazirov/canvas-calculator/internal/logging"
)

var signalNotify = signal.Notify

type stopper interface {
	Shutdown(ctx context.Context) error
	Close() error
}

func main() {
	kingpinApp := kingpin.New("canvas-calculator", "Canvas Calculator - reads handwritten maths from a canvas drawing and returns the answers")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	host := kingpinApp.Flag("host", "Interface the HTTP server binds to").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	envName := kingpinApp.Flag("env", "Runtime environment (dev enables development logging)").String()
	origins := kingpinApp.Flag("allowed-origin", "Origin allowed to call the API (repeatable)").Strings()
	analyzerURL := kingpinApp.Flag("analyzer-url", "URL of the drawing analyzer service").String()
	redisAddr := kingpinApp.Flag("redis-addr", "Redis address for the shared result cache").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	dotEnvPath, dotEnvErr := config.LoadDotEnv()

	overrides := &config.CLIOverrides{
		ConfigFile:     *configFile,
		Host:           host,
		Port:           port,
		Env:            envName,
		AllowedOrigins: *origins,
		AnalyzerURL:    analyzerURL,
		RedisAddr:      redisAddr,
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch {
	case dotEnvErr == nil:
		logger.Info("loaded environment file", zap.String("path", dotEnvPath))
	case !errors.Is(dotEnvErr, config.ErrDotEnvNotFound):
		logger.Warn("failed to load environment file", zap.Error(dotEnvErr))
	}

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(target stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := target.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := target.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
