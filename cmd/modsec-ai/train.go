package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/onyagamarcel2/modsec-ai/internal/config"
	"github.com/onyagamarcel2/modsec-ai/internal/detector"
	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
	"github.com/onyagamarcel2/modsec-ai/internal/modelstore"
	"github.com/onyagamarcel2/modsec-ai/internal/preprocess"
	"github.com/onyagamarcel2/modsec-ai/internal/updater"
	"github.com/onyagamarcel2/modsec-ai/internal/vectorize"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the model bank from an audit log file",
	Long: `Parse a complete audit log, fit the vectorizer and every model
in the bank on it, and persist the artifacts for later runs.

Example:
  modsec-ai train --log /var/log/modsec_audit.log`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")
		if logPath == "" {
			return fmt.Errorf("--log is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		parser := logparse.NewParser()
		entries, err := parser.ParseFile(logPath)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", logPath, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("no transactions found in %s", logPath)
		}
		log.Printf("Parsed %d transactions from %s", len(entries), logPath)

		pre := preprocess.New()
		corpus := make([][]string, len(entries))
		for i, e := range entries {
			corpus[i] = pre.Tokens(e)
		}

		vec := vectorize.New(cfg.VectorDim)
		vec.Fit(corpus)
		vectors := vec.TransformAll(corpus)

		detCfg := detector.DefaultConfig()
		detCfg.Contamination = cfg.Contamination

		u, err := updater.New(updater.Options{
			MaxSamples: len(vectors) + 1,
			MinSamples: 1,
		})
		if err != nil {
			return err
		}
		if err := u.RegisterDefaultBank(detCfg); err != nil {
			return err
		}

		artifacts, err := modelstore.New(cfg.ModelDir)
		if err != nil {
			return err
		}
		u.WithArtifactStore(artifacts)

		if err := u.AddSamples(vectors, nil); err != nil {
			return err
		}
		if err := u.UpdateModels(); err != nil {
			return err
		}

		if blob, err := vec.Save(); err == nil {
			if err := artifacts.Save("vectorizer", blob); err != nil {
				return fmt.Errorf("failed to persist vectorizer: %w", err)
			}
		}

		for model, records := range u.PerformanceHistory() {
			latest := records[len(records)-1]
			if latest.Err != "" {
				log.Printf("  %s: FAILED (%s)", model, latest.Err)
				continue
			}
			log.Printf("  %s: f1=%.3f auc=%.3f", model,
				latest.Performance.F1, latest.Performance.AUC)
		}

		log.Printf("Model bank trained on %d samples, artifacts in %s",
			len(vectors), cfg.ModelDir)
		return nil
	},
}

func init() {
	trainCmd.Flags().String("log", "", "audit log file to train from")
}
