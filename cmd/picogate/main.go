// Command picogate runs the API gateway: purchase verification, session
// tokens, usage limiting, and streaming proxying to inference and search
// providers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/admin"
	"github.com/picolabs/picogate/internal/appstore"
	"github.com/picolabs/picogate/internal/auth"
	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/gateway"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/ratelimit"
	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/search"
	"github.com/picolabs/picogate/internal/store"
	"github.com/picolabs/picogate/internal/tracing"
	"github.com/picolabs/picogate/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		initConfig  = flag.Bool("init", false, "write a starter config file and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "picogate: resolving home directory: %v\n", err)
				os.Exit(1)
			}
			path = filepath.Join(home, ".picogate", config.DefaultConfigFilename)
		}
		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "picogate: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "picogate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	logger.Info().Str("version", version.Version).Msg("starting")

	if cfg.Auth.JWTKey == "" {
		return errors.New("auth.jwt_key is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.ServiceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("tracing shutdown")
			}
		}()
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	db, err := store.Open(filepath.Join(cfg.Server.DataDir, "picogate.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if configPath != "" {
		watcher, err := config.Watch(configPath)
		if err != nil {
			logger.Warn().Err(err).Msg("config hot reload unavailable")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(_, _ *config.Config) {
				logger.Info().Msg("configuration reloaded")
			})
		}
	}

	tokens := auth.NewTokens([]byte(cfg.Auth.JWTKey), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	registry := routing.NewRegistry(cfg)

	authStage, err := auth.NewInterceptor(tokens, db, logger)
	if err != nil {
		return fmt.Errorf("building auth interceptor: %w", err)
	}
	chain := pipeline.NewChain(logger,
		gateway.NewAccessLog(),
		authStage,
		ratelimit.NewInterceptor(db, logger),
		search.NewHandler(search.NewClient(logger), logger),
		gateway.NewRoute(registry),
		gateway.NewForward(gateway.NewUpstreamClient()),
	)

	var verification *appstore.Service
	if cfg.AppStore.Configured() {
		verification, err = appstore.NewService(cfg.AppStore, db, logger)
		if err != nil {
			return fmt.Errorf("building App Store verifier: %w", err)
		}
	} else {
		logger.Warn().Msg("App Store credentials not configured, verification disabled")
	}
	appstoreHandler := appstore.NewHandler(verification, tokens, db, logger)
	adminHandler := admin.NewHandler(db, logger)

	srv := gateway.NewServer(cfg, chain, appstoreHandler, adminHandler, registry, db, logger)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			errCh <- srv.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			return
		}
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}
