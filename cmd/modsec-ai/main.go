package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "modsec-ai",
	Short: "Anomaly detection pipeline for ModSecurity audit logs",
	Long: `modsec-ai tails a ModSecurity serial audit log, scores every
transaction with a bank of unsupervised detectors, keeps the bank
current with an online-learning loop, and routes anomalies to alerting
and a validation workflow.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modsec-ai %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, trainCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
