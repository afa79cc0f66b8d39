package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onyagamarcel2/modsec-ai/internal/config"
	"github.com/onyagamarcel2/modsec-ai/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full detection pipeline",
	Long: `Run the full pipeline: tail the configured audit log, score
transactions, keep the model bank current, and serve the dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log.Printf("modsec-ai pipeline starting...")
		log.Printf("  Audit log: %s", cfg.AuditLogPath)
		log.Printf("  Model dir: %s", cfg.ModelDir)
		log.Printf("  Buffer: %d..%d samples, interval %s",
			cfg.MinSamples, cfg.MaxSamples, cfg.UpdateInterval)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch := pipeline.NewOrchestrator(cfg)
		if err := orch.Start(ctx); err != nil {
			return err
		}

		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Pipeline error: %v", err)
		}

		return orch.Stop()
	},
}
