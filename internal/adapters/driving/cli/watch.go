package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/connectors/filesystem"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

var (
	watchVisibility string
	watchSource     string
	watchScan       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest text files as they appear in a directory",
	Long: `Watches a directory tree and ingests every .txt, .md, .markdown, .html
and .htm file that is created or changed. Hidden files and directories are
ignored. Markdown is chunked by topic, everything else by paragraph.

Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchVisibility, "visibility", "", "access label for ingested files")
	watchCmd.Flags().StringVar(&watchSource, "source", "", "source name (default: the file name)")
	watchCmd.Flags().BoolVar(&watchScan, "scan", false, "ingest files already present before watching")
	_ = watchCmd.MarkFlagRequired("visibility")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errNotConfigured("ingest")
	}
	if _, err := domain.ParseVisibility(watchVisibility); err != nil {
		return describeIngestError(err)
	}

	ctx := cmd.Context()
	watcher := filesystem.NewWatcher(args[0])
	defer watcher.Close()

	stop := startScheduler(ctx)
	defer stop()

	fi := newFileIngester(watchVisibility, watchSource)

	if watchScan {
		files, err := watcher.Scan(ctx)
		if err != nil {
			return err
		}
		for _, path := range files {
			fi.ingest(cmd, path)
		}
	}

	events, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Watching %s (Ctrl+C to stop)\n", watcher.Root())

	for event := range events {
		logger.Debug("watch: %s %s", event.Type, event.Path)
		fi.ingest(cmd, event.Path)
	}
	return nil
}

// fileIngester ingests files, skipping ones unchanged since their last ingest.
type fileIngester struct {
	visibility string
	source     string
	seen       map[string]time.Time
}

func newFileIngester(visibility, source string) *fileIngester {
	return &fileIngester{
		visibility: visibility,
		source:     source,
		seen:       make(map[string]time.Time),
	}
}

func (f *fileIngester) ingest(cmd *cobra.Command, path string) {
	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("watch: %v", err)
		return
	}
	if last, ok := f.seen[path]; ok && !info.ModTime().After(last) {
		return
	}

	res, err := f.ingestFile(cmd.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyInput) || errors.Is(err, domain.ErrEmptyAfterChunking) {
			logger.Debug("watch: %s has no text", path)
		} else {
			cmd.PrintErrln(warnStyle.Render(fmt.Sprintf("%s: %v", path, err)))
		}
		return
	}
	f.seen[path] = info.ModTime()

	line := fmt.Sprintf("%s: document %d, %d chunks", path, res.DocumentID, res.ChunkCount)
	if res.VectorState == domain.VectorStatePartial {
		cmd.Println(warnStyle.Render(line + fmt.Sprintf(" (%d pending)", len(res.PendingChunkIDs))))
		return
	}
	cmd.Println(okStyle.Render(line))
}

func (f *fileIngester) ingestFile(ctx context.Context, path string) (*domain.IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	source := f.source
	if source == "" {
		source = name
	}

	return ingestService.Ingest(ctx, domain.IngestRequest{
		Text:       string(data),
		Title:      name,
		Source:     source,
		Metadata:   map[string]any{"path": path},
		Visibility: f.visibility,
		Mode:       filesystem.ModeFor(path),
	})
}
