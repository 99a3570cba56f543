package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cortex "github.com/ry-ht/cortex"
	"github.com/ry-ht/cortex/internal/types"
)

var (
	ingestWorkspace string
	ingestInclude   []string
	ingestExclude   []string
	ingestWorkers   int
	ingestStrict    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [root]",
	Short: "Ingest a source tree into a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workDir
		if len(args) > 0 {
			root = args[0]
		}

		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx := cmd.Context()
		wsID, err := ensureWorkspace(ctx, engine, ingestWorkspace, root)
		if err != nil {
			return err
		}

		report, err := engine.Ingest(ctx, root, wsID, cortex.IngestOptions{
			Include:      ingestInclude,
			Exclude:      ingestExclude,
			Workers:      ingestWorkers,
			StrictErrors: ingestStrict,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Ingested %s: %d succeeded, %d failed, %d skipped (%v)\n",
			root, report.Succeeded, report.Failed, report.Skipped, report.Duration)
		for _, f := range report.Failures {
			fmt.Printf("  failed: %s (%s)\n", f.Path, f.Reason)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Watch a source tree, re-ingesting files on change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := workDir
		if len(args) > 0 {
			root = args[0]
		}

		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		wsID, err := ensureWorkspace(ctx, engine, ingestWorkspace, root)
		if err != nil {
			return err
		}

		logger.Info("watching for changes", zap.String("root", root))
		return engine.Watch(ctx, root, wsID)
	},
}

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		workspaces, err := engine.ListWorkspaces(cmd.Context())
		if err != nil {
			return err
		}
		for _, ws := range workspaces {
			fmt.Printf("%s  %s/%s (%s)\n", ws.ID, ws.Namespace, ws.Name, ws.Type)
		}
		return nil
	},
}

// ensureWorkspace resolves a workspace by name, creating it when absent.
func ensureWorkspace(ctx context.Context, engine *cortex.Engine, name, sourcePath string) (cortex.WorkspaceID, error) {
	if name == "" {
		name = "default"
	}
	ws := &cortex.Workspace{
		Name:       name,
		Type:       types.WorkspaceCode,
		SourceType: types.SourceLocal,
		Namespace:  types.EncodeNamespace(sourcePath),
		SourcePath: sourcePath,
	}
	if err := engine.CreateWorkspace(ctx, ws); err != nil {
		return "", err
	}
	return ws.ID, nil
}

func init() {
	for _, cmd := range []*cobra.Command{ingestCmd, watchCmd} {
		cmd.Flags().StringVarP(&ingestWorkspace, "workspace", "w", "default", "workspace name")
		cmd.Flags().StringSliceVar(&ingestInclude, "include", nil, "include glob patterns")
		cmd.Flags().StringSliceVar(&ingestExclude, "exclude", nil, "exclude glob patterns (win over includes)")
	}
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "parallel workers (0 = auto)")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "abort on first file failure")
}
