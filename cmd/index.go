package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the in-memory face index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the face index from the store",
	Long: `Rebuild the HNSW face index from every stored embedding and save it to
HNSW_INDEX_PATH when configured.`,
	RunE: runIndexRebuild,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and index counters",
	RunE:  runIndexStats,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatsCmd)

	indexStatsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	if err := a.store.RebuildHNSW(ctx); err != nil {
		return fmt.Errorf("rebuilding face index: %w", err)
	}
	fmt.Printf("Face index rebuilt with %d faces in %s\n", a.store.HNSWCount(), time.Since(start).Round(time.Millisecond))
	return nil
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}
	fmt.Printf("Backend:      %s\n", stats.Backend)
	fmt.Printf("Subjects:     %d\n", stats.Subjects)
	fmt.Printf("Faces:        %d\n", stats.Faces)
	fmt.Printf("HNSW enabled: %t\n", stats.HNSWEnabled)
	fmt.Printf("HNSW faces:   %d\n", stats.HNSWCount)
	return nil
}
