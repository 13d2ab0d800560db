package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/giftflow/go-autogift-backend/internal/config"
	httpapi "github.com/giftflow/go-autogift-backend/internal/http"
	"github.com/giftflow/go-autogift-backend/internal/notify"
	"github.com/giftflow/go-autogift-backend/internal/observability"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/sysutil"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the auto-gift HTTP API with the full middleware stack (tracing,
metrics, idempotency, rate limiting) and shut down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg)
			gin.SetMode(cfg.GinMode)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownOTel(context.Background()) }()

			db, err := repo.OpenSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}

			emitter := buildEmitter(cfg)
			defer func() { _ = emitter.Close() }()

			r := gin.New()
			httpapi.RegisterRoutes(r, db, emitter, cfg)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().
					Str("addr", srv.Addr).
					Str("base_path", cfg.APIBasePath).
					Str("version", Version).
					Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		})
	}
}

// buildEmitter picks the notification sink: Kafka when brokers are configured,
// otherwise the log-only fallback so local runs still show the event stream.
func buildEmitter(cfg config.Config) notify.Emitter {
	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka notification emitter enabled")
		return notify.NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Logger)
	}
	return notify.LogEmitter{Log: log.Logger}
}
