package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/authn"
	"qazna.org/access/internal/backend"
	"qazna.org/access/internal/config"
	"qazna.org/access/internal/httpapi"
	"qazna.org/access/internal/obs"
	"qazna.org/access/internal/sweep"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a TOML config file (default $ACCESS_CONFIG)")
	pflag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		obs.Logger().Error("load config", "error", err)
		os.Exit(1)
	}

	logger := obs.NewJSONLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel))
	obs.SetLogger(logger)
	obs.Init()
	obs.SetBuildInfo(version, commit)

	if err := run(cfg); err != nil {
		logger.Error("accessd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := obs.Logger()

	verifier, err := authn.NewVerifier(cfg.Auth.Secret, authn.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	svc, err := access.NewService(store, backend.ServiceOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	var sweeper *sweep.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = sweep.New(svc, cfg.Sweep.Interval, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	api, err := httpapi.New(svc, verifier,
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger),
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithTrustedProxyHeaders(cfg.HTTP.TrustProxyHeaders),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting accessd", "version", version, "addr", srv.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
