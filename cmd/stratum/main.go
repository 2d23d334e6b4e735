// Package main is the entry point for the solo Stratum mining pool.
// It wires configuration, logging, the node RPC client, the Template
// Manager, the Statistics Store, the Share Validator, and the TCP server,
// then runs until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wernerpool/stratum/internal/config"
	"github.com/wernerpool/stratum/internal/nodeclient"
	"github.com/wernerpool/stratum/internal/server"
	"github.com/wernerpool/stratum/internal/share"
	"github.com/wernerpool/stratum/internal/stats"
	"github.com/wernerpool/stratum/internal/template"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting solo Stratum pool",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("pool_name", cfg.Mining.PoolName),
		zap.String("network", cfg.Mining.Network),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := nodeclient.New(cfg.Node.RPCURL, cfg.Node.RPCUser, cfg.Node.RPCPassword, cfg.Node.Timeout)

	templates := template.NewManager(node, cfg.Mining.TemplateRefresh, logger)
	go templates.Run(ctx)

	store := stats.New(ctx, cfg.Redis, cfg.Postgres, logger)
	defer store.Close()

	validator := share.NewValidator(templates, node, store, logger)

	srv := server.New(cfg.Server, cfg.Mining, templates, validator, store, logger)

	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	if cfg.Server.Metrics.Enabled {
		go func() {
			if err := srv.StartMetricsServer(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// initLogger builds the process's base zap.Logger per the configured
// level/format/output, matching the teacher's encoder setup.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	} else {
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
