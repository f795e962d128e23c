package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "turnhub",
	Short: "turnhub - multi-channel conversational assistant gateway",
	Long:  `turnhub classifies inbound turns, routes them across the direct-automation, approval-gated, and conversational lanes, and bridges the web and WhatsApp channels onto one session store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to ./config.yaml if present)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
