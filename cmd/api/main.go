// Package main is the entrypoint for the FairDeal API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fairdeal/api"
	"fairdeal/auth"
	"fairdeal/config"
	"fairdeal/db"
	"fairdeal/escrow"
	"fairdeal/fraud"
	"fairdeal/ledger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := run(log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(log *logrus.Logger) error {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.Server.LogLevel).Warn("unknown log level, keeping info")
	}
	log.WithFields(logrus.Fields{
		"env":            cfg.Server.Env,
		"fund_on_create": cfg.Escrow.FundOnCreate,
		"grace_period":   cfg.Escrow.GracePeriod.String(),
	}).Info("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("database connected")

	if err := db.RunMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	var cache *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		cache = redis.NewClient(opts)
		defer cache.Close()
		if err := cache.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_URL empty, fraud count cache disabled")
	}

	ledgerRepo := ledger.NewRepository(pool)
	fraudRepo := fraud.NewRepository(pool)
	fraudSvc := fraud.NewService(fraudRepo, cache, log)

	escrowSvc := escrow.NewService(pool, escrow.NewRepository(pool), ledgerRepo, fraudRepo, cfg.Policy()).
		WithFraudCountCache(fraudSvc)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)

	server := api.NewServer(authSvc, escrowSvc, fraudSvc, ledgerRepo, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
