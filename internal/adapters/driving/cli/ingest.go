package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	ingestSource     string
	ingestTitle      string
	ingestVisibility string
	ingestMode       string
	ingestMeta       []string
	ingestJSON       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Store text in the knowledge base",
	Long: `Cleans, chunks and embeds text, then stores the chunks in the database
and the vector index. Reads the file argument, or stdin when no file is given.

Every ingest needs an access label:
  public    - readable by every scope
  limited   - readable by limited and internal scopes
  internal  - readable by the internal scope only

Examples:
  sercha-kb ingest notes.md --visibility internal --mode topic
  cat faq.html | sercha-kb ingest --visibility public --source faq --meta lang=en`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name (default: file name, or manual)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestVisibility, "visibility", "", "access label: public, limited or internal")
	ingestCmd.Flags().StringVar(&ingestMode, "mode", string(domain.ChunkModeParagraph), "chunk mode: plain, paragraph, topic or chat")
	ingestCmd.Flags().StringArrayVar(&ingestMeta, "meta", nil, "metadata as key=value (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errNotConfigured("ingest")
	}

	metadata, err := parseMeta(ingestMeta)
	if err != nil {
		return err
	}

	var text, source string
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		text = string(data)
		source = filepath.Base(args[0])
		metadata["path"] = args[0]
	} else {
		text, err = readStdin(cmd)
		if err != nil {
			return err
		}
	}
	if ingestSource != "" {
		source = ingestSource
	}

	res, err := ingestService.Ingest(cmd.Context(), domain.IngestRequest{
		Text:       text,
		Title:      ingestTitle,
		Source:     source,
		Metadata:   metadata,
		Visibility: ingestVisibility,
		Mode:       domain.ChunkMode(ingestMode),
	})
	if err != nil {
		return describeIngestError(err)
	}

	if ingestJSON {
		return printJSON(cmd, res)
	}
	printIngestResult(cmd, res)
	return nil
}

// readStdin reads piped input, refusing an interactive terminal.
func readStdin(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no input: pass a file or pipe text on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

// parseMeta turns key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	metadata := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}

func describeIngestError(err error) error {
	switch {
	case errors.Is(err, domain.ErrMissingVisibility), errors.Is(err, domain.ErrInvalidVisibility):
		return fmt.Errorf("%w (use --visibility public, limited or internal)", err)
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrEmptyAfterChunking):
		return fmt.Errorf("nothing to ingest: %w", err)
	case errors.Is(err, domain.ErrDimensionMismatch):
		return fmt.Errorf("%w (the embedding model does not match the vector collection; nothing was written)", err)
	default:
		return fmt.Errorf("ingest failed: %w", err)
	}
}

func printIngestResult(cmd *cobra.Command, res *domain.IngestResult) {
	cmd.Println(okStyle.Render(fmt.Sprintf("Ingested document %d from %s (%d chunks)",
		res.DocumentID, res.Source, res.ChunkCount)))
	if res.Language != "" {
		cmd.Printf("  Language: %s\n", res.Language)
	}
	cmd.Printf("  Ingest ID: %s\n", res.IngestID)
	if res.AuditPath != "" {
		cmd.Printf("  Audit: %s\n", res.AuditPath)
	}
	if res.VectorState == domain.VectorStatePartial {
		cmd.Println(warnStyle.Render(fmt.Sprintf(
			"  %d chunks are stored but not yet searchable. Run 'sercha-kb reindex' to index them.",
			len(res.PendingChunkIDs))))
	}
}
