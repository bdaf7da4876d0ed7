package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/services"
)

var (
	reindexBatch int
	reindexAll   bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Index chunks left pending by a failed vector write",
	Long: `Embeds and writes to the vector index the chunks that are stored in the
database but missing from the index, for example after the vector store
was unreachable during an ingest.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().IntVar(&reindexBatch, "batch", services.DefaultReindexBatch, "chunks per pass")
	reindexCmd.Flags().BoolVar(&reindexAll, "all", false, "repeat passes until nothing is pending")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, _ []string) error {
	if reindexService == nil {
		return errNotConfigured("reindex")
	}

	total := 0
	for {
		n, err := reindexService.ReindexPending(cmd.Context(), reindexBatch)
		total += n
		if err != nil {
			return fmt.Errorf("reindex failed after %d chunks: %w", total, err)
		}
		if !reindexAll || n == 0 {
			break
		}
	}

	cmd.Println(okStyle.Render(fmt.Sprintf("Re-indexed %d chunks.", total)))
	return nil
}
