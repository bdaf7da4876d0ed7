package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	visibilityStyles = map[domain.Visibility]lipgloss.Style{
		domain.VisibilityPublic:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		domain.VisibilityLimited:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.VisibilityInternal: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
)

// snippetWidth bounds the text shown per item in tables.
const snippetWidth = 120

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printPage(cmd *cobra.Command, page *domain.Page, showScore bool) {
	if len(page.Items) == 0 {
		cmd.Println("No results found.")
		if page.FilteredOut > 0 {
			cmd.Println(dimStyle.Render(fmt.Sprintf("%d items hidden by scope.", page.FilteredOut)))
		}
		return
	}

	header := fmt.Sprintf("Results %d-%d of %d", page.Offset+1, page.Offset+len(page.Items), page.Total)
	cmd.Println(headingStyle.Render(header))
	if page.Fallback {
		cmd.Println(warnStyle.Render("Vector index unavailable or empty, listing from the database."))
	}
	cmd.Println()

	for i := range page.Items {
		printItem(cmd, page.Offset+i+1, &page.Items[i], showScore)
	}

	cmd.Println(dimStyle.Render("Sources: " + formatCounts(page.SourceCounts)))
	if showScore && page.ScoreSummary.Max != nil {
		s := page.ScoreSummary
		cmd.Println(dimStyle.Render(fmt.Sprintf("Scores: min %.3f  max %.3f  avg %.3f  p95 %.3f",
			*s.Min, *s.Max, *s.Avg, *s.P95)))
	}
	if page.FilteredOut > 0 {
		cmd.Println(dimStyle.Render(fmt.Sprintf("%d items hidden by scope.", page.FilteredOut)))
	}
}

func printItem(cmd *cobra.Command, n int, item *domain.Item, showScore bool) {
	title := item.Title
	if title == "" {
		title = item.Source
	}

	line := fmt.Sprintf("  [%d] %s %s", n, headingStyle.Render(title), dimStyle.Render("#"+item.ID))
	if showScore {
		line += " " + scoreStyle.Render(fmt.Sprintf("(%.3f)", item.Score))
	}
	cmd.Println(line)
	cmd.Printf("      %s  %s  %s\n",
		item.Source,
		renderVisibility(item.Visibility),
		dimStyle.Render(item.CreatedAt.Format("2006-01-02 15:04")))
	if snippet := truncate(item.Text, snippetWidth); snippet != "" {
		cmd.Printf("      %s\n", snippet)
	}
	cmd.Println()
}

func renderVisibility(v domain.Visibility) string {
	style, ok := visibilityStyles[v]
	if !ok {
		return string(v)
	}
	return style.Render(string(v))
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

// truncate flattens text to one line of at most n runes.
func truncate(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-3]) + "..."
}
