package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cmsrag/config"
	"cmsrag/internal/adapter/store"
	"cmsrag/internal/domain"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	dbPath := config.IndexDBPath(GetDataDir())
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'cmsrag ingest' first")
	}

	st, err := store.NewBoltStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer st.Close()

	manifest, found, err := st.GetManifest()
	if err != nil {
		return fmt.Errorf("failed to read index manifest: %w", err)
	}
	if !found {
		return fmt.Errorf("index has no manifest. Run 'cmsrag ingest' first")
	}

	count, err := store.NewChunkStore(st).Count()
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}

	stats := domain.IndexStats{
		ChunkCount: count,
		Dimension:  manifest.Dimension,
		Model:      manifest.Model,
		Pages:      manifest.Pages,
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Index: %s\n", dbPath)
	fmt.Printf("  Pages:     %d\n", stats.Pages)
	fmt.Printf("  Chunks:    %d\n", stats.ChunkCount)
	fmt.Printf("  Model:     %s\n", stats.Model)
	fmt.Printf("  Dimension: %d\n", stats.Dimension)
	if manifest.IngestedAt > 0 {
		fmt.Printf("  Ingested:  %s\n", time.Unix(manifest.IngestedAt, 0).Format(time.RFC3339))
	}
	return nil
}
