package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cortex "github.com/ry-ht/cortex"
	"github.com/ry-ht/cortex/internal/search"
	"github.com/ry-ht/cortex/internal/types"
)

var (
	queryWorkspace string
	queryLimit     int
	queryLanguage  string
	queryDepth     int
)

// resolveWorkspace finds a workspace id by name.
func resolveWorkspace(cmd *cobra.Command, engine *cortex.Engine, name string) (cortex.WorkspaceID, error) {
	workspaces, err := engine.ListWorkspaces(cmd.Context())
	if err != nil {
		return "", err
	}
	for _, ws := range workspaces {
		if ws.Name == name {
			return ws.ID, nil
		}
	}
	return "", fmt.Errorf("workspace %q not found", name)
}

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List code units in a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		wsID, err := resolveWorkspace(cmd, engine, queryWorkspace)
		if err != nil {
			return err
		}

		units, _, err := engine.ListCodeUnits(cmd.Context(), wsID,
			cortex.UnitFilter{Language: queryLanguage}, queryLimit, "")
		if err != nil {
			return err
		}
		total, err := engine.CountUnits(cmd.Context(), wsID)
		if err != nil {
			return err
		}

		for _, u := range units {
			fmt.Printf("%-12s %-40s %s:%d\n", u.UnitType, u.QualifiedName, u.FilePath, u.Span.StartLine)
		}
		fmt.Printf("(%d of %d units)\n", len(units), total)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over ingested code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		wsID, err := resolveWorkspace(cmd, engine, queryWorkspace)
		if err != nil {
			return err
		}

		results, err := engine.SemanticSearch(cmd.Context(), wsID, args[0], search.SemanticOptions{
			Limit:    queryLimit,
			Language: queryLanguage,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.3f  %-40s %s:%d\n", r.Similarity, r.Unit.QualifiedName, r.Unit.FilePath, r.Unit.Span.StartLine)
		}
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [unit-id]",
	Short: "Show the dependency neighborhood of a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		id := types.CodeUnitID(args[0])

		deps, err := engine.Dependencies(cmd.Context(), id, queryDepth)
		if err != nil {
			return err
		}
		fmt.Println("dependencies:")
		for _, d := range deps {
			fmt.Printf("  [%d] %s (%s)\n", d.Depth, d.QualifiedName, d.UnitType)
		}

		dependents, err := engine.Dependents(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Println("dependents:")
		for _, d := range dependents {
			fmt.Printf("  [%d] %s (%s)\n", d.Depth, d.QualifiedName, d.UnitType)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workspace graph and memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		wsID, err := resolveWorkspace(cmd, engine, queryWorkspace)
		if err != nil {
			return err
		}

		totals, err := engine.GraphStats(cmd.Context(), wsID)
		if err != nil {
			return err
		}
		fmt.Printf("units: %d  dependencies: %d  calls: %d  avg degree: %.2f\n",
			totals.TotalUnits, totals.TotalDependencies, totals.TotalCalls, totals.AvgOutDegree)

		stats, err := engine.MemoryStats(cmd.Context(), wsID)
		if err != nil {
			return err
		}
		fmt.Printf("episodes: %d  patterns: %d  working items: %d (hit rate %.2f)\n",
			stats.Episodic.TotalEpisodes, stats.Procedural.TotalPatterns,
			stats.Working.CurrentItems, stats.Working.CacheHitRate)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{unitsCmd, searchCmd, statsCmd} {
		cmd.Flags().StringVarP(&queryWorkspace, "workspace", "w", "default", "workspace name")
	}
	unitsCmd.Flags().IntVar(&queryLimit, "limit", 50, "max results")
	unitsCmd.Flags().StringVar(&queryLanguage, "language", "", "filter by language")
	searchCmd.Flags().IntVar(&queryLimit, "limit", 10, "max results")
	searchCmd.Flags().StringVar(&queryLanguage, "language", "", "filter by language")
	graphCmd.Flags().IntVar(&queryDepth, "depth", 3, "traversal depth (1-10)")
}
