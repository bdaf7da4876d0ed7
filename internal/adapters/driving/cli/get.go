package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	getScope string
	getJSON  bool
)

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one stored chunk",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringVar(&getScope, "scope", string(domain.ScopePublic), "caller scope: public, limited or internal")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output the chunk as JSON")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errNotConfigured("retrieval")
	}

	item, err := retrievalService.Get(cmd.Context(), args[0], domain.ParseScope(getScope))
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("chunk %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}

	if getJSON {
		return printJSON(cmd, item)
	}

	title := item.Title
	if title == "" {
		title = "(untitled)"
	}
	cmd.Println(headingStyle.Render(title))
	cmd.Printf("  ID:         %s\n", item.ID)
	cmd.Printf("  Source:     %s\n", item.Source)
	cmd.Printf("  Visibility: %s\n", renderVisibility(item.Visibility))
	if item.DocumentID != 0 {
		cmd.Printf("  Document:   %d (chunk %d)\n", item.DocumentID, item.ChunkIndex)
	}
	cmd.Printf("  Created:    %s\n", item.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	cmd.Println()
	cmd.Println(item.Text)
	return nil
}
