package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// pageFlags are the paging and filter flags shared by search and list.
type pageFlags struct {
	limit      int
	offset     int
	orderBy    string
	descending bool
	source     string
	scope      string
	json       bool
}

func (f *pageFlags) register(cmd *cobra.Command, defaultOrder domain.OrderBy) {
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "number of results to skip")
	cmd.Flags().StringVar(&f.orderBy, "order-by", string(defaultOrder), "sort key: score or created_at")
	cmd.Flags().BoolVar(&f.descending, "desc", true, "sort descending (use --desc=false for ascending)")
	cmd.Flags().StringVar(&f.source, "source", "", "only results from this source")
	cmd.Flags().StringVar(&f.scope, "scope", string(domain.ScopePublic), "caller scope: public, limited or internal")
	cmd.Flags().BoolVar(&f.json, "json", false, "output results as JSON")
}

var searchFlags pageFlags

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored knowledge",
	Long: `Embeds the query and returns the most similar stored chunks that the
given scope may read. Results are ordered by similarity score unless
--order-by created_at is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchFlags.register(searchCmd, domain.OrderByScore)
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errNotConfigured("retrieval")
	}

	page, err := retrievalService.Search(cmd.Context(), domain.SearchRequest{
		Query:     args[0],
		Limit:     searchFlags.limit,
		Offset:    searchFlags.offset,
		OrderBy:   domain.ParseOrderBy(searchFlags.orderBy, domain.OrderByScore),
		Ascending: !searchFlags.descending,
		Source:    searchFlags.source,
		Scope:     domain.ParseScope(searchFlags.scope),
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchFlags.json {
		return printJSON(cmd, page)
	}
	printPage(cmd, page, true)
	return nil
}
