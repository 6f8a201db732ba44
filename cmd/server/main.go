// Command server issues signed session tokens in exchange for a
// username and password, and publishes the key they verify against.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/avaropoint/authcore/internal/config"
	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/store"
	"github.com/avaropoint/authcore/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		dataDir     string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config (default: $"+config.EnvVar+")")
	flagSet.StringVar(&listen, "listen", "", "override the configured listen address")
	flagSet.StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println("server", version.Info())
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("starting server", "version", version.Info(), "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	identity, created, err := security.LoadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return err
	}
	if created {
		logger.Info("generated signing key", "fingerprint", identity.Fingerprint())
	} else {
		logger.Info("loaded signing key", "fingerprint", identity.Fingerprint())
	}

	params, err := cfg.Password.Params()
	if err != nil {
		return err
	}
	hasher, err := security.NewPasswordHasher(params)
	if err != nil {
		return err
	}

	mode, err := security.ParseTLSMode(cfg.TLS.Mode)
	if err != nil {
		return err
	}
	tlsResult, err := security.SetupTLS(security.TLSOptions{
		Mode:     mode,
		DataDir:  cfg.DataDir,
		Domains:  cfg.TLS.Domains,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
	})
	if err != nil {
		return err
	}
	if mode == security.TLSModeOff {
		logger.Warn("TLS disabled: bearer tokens travel in cleartext")
	}

	srv, err := NewServer(Options{
		Store:             db,
		Identity:          identity,
		Hasher:            hasher,
		Issuer:            cfg.Token.Issuer,
		TokenLifetime:     cfg.Token.Lifetime,
		Leeway:            cfg.Token.Leeway,
		MinPasswordLength: cfg.Password.MinLength,
		MaxConcurrent:     cfg.Password.MaxConcurrent,
		Logger:            logger,
		TLSPaths:          tlsResult.Paths,
	})
	if err != nil {
		return err
	}
	if err := srv.PublishIdentity(ctx); err != nil {
		return fmt.Errorf("publishing verifying key: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		TLSConfig:         tlsResult.Config,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if tlsResult.ACMEManager != nil {
		challenge := &http.Server{
			Addr:              ":80",
			Handler:           tlsResult.ACMEManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ACME challenge listener failed", "error", err)
			}
		}()
		defer challenge.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "tls", mode.String())
		if tlsResult.Config != nil {
			errCh <- httpServer.ListenAndServeTLS("", "")
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
