package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ry-ht/cortex/internal/types"
)

var (
	forgetThreshold float64
	batchSize       int
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run memory consolidation (dream pass)",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if batchSize > 0 {
			rep, err := engine.ConsolidateIncremental(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d episodes, extracted %d patterns (%dms)\n",
				rep.EpisodesProcessed, rep.PatternsExtracted, rep.DurationMs)
			return nil
		}

		rep, err := engine.Consolidate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("processed %d episodes, extracted %d patterns, merged %d, decayed %d (%dms)\n",
			rep.EpisodesProcessed, rep.PatternsExtracted, rep.DuplicatesMerged,
			rep.MemoriesDecayed, rep.DurationMs)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete low-importance stale episodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if forgetThreshold < 0 || forgetThreshold > 1 {
			return types.InvalidInput("threshold must be in [0,1]")
		}

		deleted, err := engine.Forget(cmd.Context(), forgetThreshold)
		if err != nil {
			return err
		}
		fmt.Printf("forgot %d episodes below importance %.2f\n", deleted, forgetThreshold)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().IntVar(&batchSize, "batch", 0, "incremental batch size (0 = full dream)")
	forgetCmd.Flags().Float64Var(&forgetThreshold, "threshold", 0.2, "importance threshold")
}
