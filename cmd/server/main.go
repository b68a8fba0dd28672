package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/compose"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/provider"
	"github.com/jrsteele09/go-oauth-engine/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)
	displayAppname(cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	go sweepExpired(ctx, store, time.Minute)

	signer, err := loadSigner(cfg.SigningKeyPath)
	if err != nil {
		return err
	}
	owners, err := bootstrap(ctx, cfg, store)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{Enabled: cfg.Telemetry})
	if err != nil {
		return fmt.Errorf("instrumentation.New: %w", err)
	}
	p, err := compose.Compose(cfg, store, signer, owners,
		compose.WithProviderOptions(provider.WithLogger(log.Logger), provider.WithInstrumentation(inst)),
	)
	if err != nil {
		return err
	}
	handler, err := server.New(cfg, p, signer, owners)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- listenAndServe(srv) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return shutdown(srv)
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
