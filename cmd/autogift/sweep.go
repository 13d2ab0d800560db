package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/giftflow/go-autogift-backend/internal/config"
	"github.com/giftflow/go-autogift-backend/internal/fulfillment"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/selection"
	"github.com/giftflow/go-autogift-backend/internal/services"
	"github.com/giftflow/go-autogift-backend/internal/sysutil"
)

func sweepCmd() *cobra.Command {
	var asOfFlag string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler tick",
		Long: `Run a single pass of the background scheduler:

1. Evaluate active rules and create executions for occasions inside the
   trigger window.
2. Advance freshly created executions through selection and approval.
3. Reconcile retryable failures and expired placement leases.

Triggering is idempotent per (rule, occasion), so sweep is safe to run from
cron at any frequency and concurrently with a running serve process.

Examples:
  autogift sweep
  autogift sweep --as-of 2026-06-12T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			// Cron deployments can pin the clock via SWEEP_AS_OF instead of
			// templating the flag.
			asOf := time.Now().UTC()
			if raw := sysutil.FirstNonEmpty(asOfFlag, os.Getenv("SWEEP_AS_OF")); raw != "" {
				t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
				if err != nil {
					return fmt.Errorf("invalid as-of value %q: %w", raw, err)
				}
				asOf = t.UTC()
			}

			db, err := repo.OpenSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}

			emitter := buildEmitter(cfg)
			defer func() { _ = emitter.Close() }()

			healthSvc := &services.PaymentHealthService{
				DB:             db,
				ExpiringWindow: cfg.Gifting.ExpiringSoonWindow,
			}
			trigger := &services.TriggerService{
				DB:         db,
				Emitter:    emitter,
				Log:        log.Logger,
				WindowDays: cfg.Gifting.TriggerWindowDays,
			}
			orch := &services.Orchestrator{
				DB:               db,
				Selector:         selection.NewHTTPSelector(cfg.Selector.BaseURL, cfg.Selector.Timeout),
				Placer:           fulfillment.NewHTTPPlacer(cfg.Fulfillment.BaseURL, cfg.Fulfillment.Timeout),
				Health:           healthSvc,
				Emitter:          emitter,
				Log:              log.Logger,
				MaxOrderAttempts: cfg.Gifting.MaxOrderAttempts,
				PlacementTimeout: cfg.Fulfillment.Timeout,
			}

			ctx := cmd.Context()

			created, err := trigger.EvaluateAll(ctx, asOf)
			if err != nil {
				return fmt.Errorf("trigger evaluation: %w", err)
			}
			advanced, err := orch.AdvancePending(ctx)
			if err != nil {
				return fmt.Errorf("advance pending: %w", err)
			}
			reconciled, err := orch.SweepRetries(ctx)
			if err != nil {
				return fmt.Errorf("retry sweep: %w", err)
			}

			log.Info().
				Time("as_of", asOf).
				Int("executions_created", created).
				Int("executions_advanced", advanced).
				Int("executions_reconciled", reconciled).
				Msg("sweep complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Evaluate triggers as of this RFC3339 time (default: now)")
	return cmd
}
