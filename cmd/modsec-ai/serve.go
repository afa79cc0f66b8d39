package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/config"
	"github.com/onyagamarcel2/modsec-ai/internal/dashboard"
	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/health"
	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
	"github.com/onyagamarcel2/modsec-ai/internal/modelstore"
	"github.com/onyagamarcel2/modsec-ai/internal/preprocess"
	"github.com/onyagamarcel2/modsec-ai/internal/store"
	"github.com/onyagamarcel2/modsec-ai/internal/updater"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
	"github.com/onyagamarcel2/modsec-ai/internal/vectorize"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API over previously trained models",
	Long: `Serve the dashboard without tailing a log: load the persisted
model bank and expose analysis, alert history and the validation
workflow over HTTP. Useful for reviewing findings after the fact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		artifacts, err := modelstore.New(cfg.ModelDir)
		if err != nil {
			return err
		}

		detCfg := detector.DefaultConfig()
		detCfg.Contamination = cfg.Contamination

		u, err := updater.New(updater.Options{
			MaxSamples:           cfg.MaxSamples,
			MinSamples:           cfg.MinSamples,
			UpdateInterval:       cfg.UpdateInterval,
			PerformanceThreshold: cfg.PerformanceThreshold,
		})
		if err != nil {
			return err
		}
		if err := u.RegisterDefaultBank(detCfg); err != nil {
			return err
		}
		if err := updater.LoadBank(u, artifacts.LoadAll); err != nil {
			log.Printf("Warning: could not restore model artifacts: %v", err)
		}

		vec := vectorize.New(cfg.VectorDim)
		if blob, err := artifacts.Load("vectorizer"); err == nil {
			if err := vec.Load(blob); err != nil {
				log.Printf("Warning: could not restore vectorizer: %v", err)
			}
		}

		var vmgr *validation.Manager
		db, err := store.New(ctx, cfg.StoreBackend, cfg.StoreDSN)
		if err != nil {
			log.Printf("Warning: failed to open store: %v", err)
		} else {
			defer db.Close()
			vmgr = validation.NewManager(db, cfg.ModSecRuleDir)
		}

		combiner, err := detector.NewScoreCombiner(cfg.ScoreOperation, nil)
		if err != nil {
			return err
		}

		alerts := alerting.NewManager(cfg.MinSeverity, 1000,
			alerting.NotifiersFromConfig(cfg)...)

		srv := dashboard.NewServer(cfg.DashboardPort, u, alerts, vmgr,
			logparse.NewParser(), preprocess.New(), vec, combiner)

		health.StartHealthCheckServer(cfg.HealthPort, u.ModelNames)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received")
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			return err
		}
	},
}
