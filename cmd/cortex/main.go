// Package main implements the cortex CLI, a thin front over the engine
// library: workspace management, ingestion and queries.
//
// Command implementations are split across cmd_*.go files:
//   - cmd_ingest.go - ingestCmd, watchCmd
//   - cmd_query.go  - unitsCmd, searchCmd, graphCmd, statsCmd
//   - cmd_memory.go - consolidateCmd, forgetCmd
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cortex "github.com/ry-ht/cortex"
	"github.com/ry-ht/cortex/internal/embedding"
)

var (
	logger    *zap.Logger
	debugMode bool
	workDir   string
	provider  string
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "cortex - cognitive code-knowledge engine",
	Long: `cortex ingests source repositories into a queryable knowledge graph:
parsed code units, typed dependencies, embeddings and layered agent memory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if debugMode {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "workspace directory (holds .cortex)")
	rootCmd.PersistentFlags().StringVar(&provider, "embedder", "", "embedding provider override (ollama, genai, mock)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(workspacesCmd)
	rootCmd.AddCommand(unitsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(forgetCmd)
}

// openEngine builds the engine from the workspace config plus CLI overrides.
func openEngine() (*cortex.Engine, error) {
	cfg, err := cortex.LoadConfig(workDir)
	if err != nil {
		return nil, err
	}
	if provider != "" {
		cfg.Embedding.Provider = provider
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		MockDimensions: 8,
	})
	if err != nil {
		logger.Warn("embedding engine unavailable, continuing without embeddings", zap.Error(err))
		engine = nil
	}

	return cortex.New(cortex.Options{
		Config:       cfg,
		Embedder:     engine,
		WorkspaceDir: workDir,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
