// Package cli provides the sercha-kb command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Annotation keys that control service setup for a command.
const (
	annotationSkipSetup    = "sercha-kb/skip-setup"
	annotationSettingsOnly = "sercha-kb/settings-only"
)

var (
	version = "dev"

	verbose   bool
	configDir string

	ingestService    driving.IngestService
	retrievalService driving.RetrievalService
	reindexService   driving.ReindexService
	settingsService  driving.SettingsService
	schedulerService driving.Scheduler

	setupFunc SetupFunc
	closeFunc func() error
)

// Services are the driving ports the commands call.
type Services struct {
	Ingest    driving.IngestService
	Retrieval driving.RetrievalService
	Reindex   driving.ReindexService
	Settings  driving.SettingsService

	// Scheduler is nil when background re-indexing is disabled.
	Scheduler driving.Scheduler

	// Close releases the resources behind the services.
	Close func() error
}

// SetupOptions are passed to the SetupFunc.
type SetupOptions struct {
	ConfigDir string

	// SettingsOnly asks for the settings service alone, without opening
	// any backend.
	SettingsOnly bool
}

// SetupFunc builds the services for a command invocation.
type SetupFunc func(ctx context.Context, opts SetupOptions) (*Services, error)

var rootCmd = &cobra.Command{
	Use:   "sercha-kb",
	Short: "Knowledge ingestion and retrieval",
	Long: `sercha-kb cleans, chunks and embeds text, stores it in a relational
database and a vector index, and serves paginated, scope-filtered listing
and similarity search over it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupServices,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.sercha-kb)")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetServices installs the services used by the commands.
func SetServices(s *Services) {
	if s == nil {
		s = &Services{}
	}
	ingestService = s.Ingest
	retrievalService = s.Retrieval
	reindexService = s.Reindex
	settingsService = s.Settings
	schedulerService = s.Scheduler
	closeFunc = s.Close
}

// Execute runs the root command. setup is called once before the first
// command that needs services.
func Execute(ctx context.Context, setup SetupFunc) error {
	setupFunc = setup
	defer func() {
		setupFunc = nil
		if closeFunc != nil {
			if err := closeFunc(); err != nil {
				logger.Warn("closing resources: %v", err)
			}
			closeFunc = nil
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func setupServices(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)

	if setupFunc == nil || hasAnnotation(cmd, annotationSkipSetup) {
		return nil
	}

	services, err := setupFunc(cmd.Context(), SetupOptions{
		ConfigDir:    configDir,
		SettingsOnly: hasAnnotation(cmd, annotationSettingsOnly),
	})
	if err != nil {
		return fmt.Errorf("starting sercha-kb: %w", err)
	}
	SetServices(services)
	setupFunc = nil
	return nil
}

// hasAnnotation reports whether cmd or one of its parents carries key.
func hasAnnotation(cmd *cobra.Command, key string) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[key] == "true" {
			return true
		}
	}
	return false
}

// errNotConfigured is returned when a command runs without its service.
func errNotConfigured(name string) error {
	return errors.New(name + " service not configured")
}

// startScheduler runs the scheduler in the background when one is
// configured. The returned func stops it.
func startScheduler(ctx context.Context) func() {
	if schedulerService == nil {
		return func() {}
	}
	go func() {
		if err := schedulerService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("scheduler: %v", err)
		}
	}()
	return func() {
		if err := schedulerService.Stop(); err != nil {
			logger.Warn("stopping scheduler: %v", err)
		}
	}
}
