package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var listFlags pageFlags

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored knowledge",
	Long: `Pages through stored chunks that the given scope may read, newest first.
When the vector index is unreachable or empty the listing is served from
the database instead.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listFlags.register(listCmd, domain.OrderByCreatedAt)
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	if retrievalService == nil {
		return errNotConfigured("retrieval")
	}

	page, err := retrievalService.List(cmd.Context(), domain.ListRequest{
		Limit:     listFlags.limit,
		Offset:    listFlags.offset,
		OrderBy:   domain.ParseOrderBy(listFlags.orderBy, domain.OrderByCreatedAt),
		Ascending: !listFlags.descending,
		Source:    listFlags.source,
		Scope:     domain.ParseScope(listFlags.scope),
	})
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	if listFlags.json {
		return printJSON(cmd, page)
	}
	printPage(cmd, page, false)
	return nil
}
