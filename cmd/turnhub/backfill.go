package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipeed/turnhub/pkg/config"
	"github.com/sipeed/turnhub/pkg/logger"
)

var backfillSessionID string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "replay a session's turn history through the semantic memory extractor",
	Long:  `Reprocesses every stored turn for one session through the memory processor, so facts the extractor would now catch (new categories, a freshly enabled embedding model) get upserted without replaying the turn through the classifier or any adapter.`,
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSessionID, "session", "", "session id to replay (required)")
	_ = backfillCmd.MarkFlagRequired("session")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel)

	pipeline, closer, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer closer()

	ctx := cmd.Context()
	turns, err := pipeline.ContextStore.ReadTurns(ctx, backfillSessionID)
	if err != nil {
		return fmt.Errorf("backfill: reading turns: %w", err)
	}

	stored := 0
	for _, turn := range turns {
		decision := pipeline.MemoryProc.Process(ctx, turn.UserText, backfillSessionID)
		if decision.Action == "store" {
			stored += len(decision.Facts)
		}
	}

	logger.InfoCF("backfill", "replay complete", map[string]interface{}{
		"session_id": backfillSessionID, "turns": len(turns), "facts_stored": stored,
	})
	fmt.Printf("replayed %d turns for session %s, stored %d facts\n", len(turns), backfillSessionID, stored)
	return nil
}
