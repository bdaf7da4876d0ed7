package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// secretKeys are prompted for without echo when no value is given.
var secretKeys = map[string]bool{
	"embedding.api_key":   true,
	"relational.password": true,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and change sercha-kb settings. Values are stored in config.toml in
the configuration directory. Environment variables and a .env file in the
working directory override stored values.`,
	Annotations: map[string]string{annotationSettingsOnly: "true"},
	Args:        cobra.NoArgs,
	RunE:        runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Change one setting",
	Long: `Validates and stores one setting. Secrets such as embedding.api_key are
read from the terminal without echo when the value is omitted.

Examples:
  sercha-kb settings set chunking.max_tokens 256
  sercha-kb settings set vector.provider pgvector
  sercha-kb settings set embedding.api_key`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSettingsSet,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	Args:  cobra.NoArgs,
	RunE:  runSettingsKeys,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errNotConfigured("settings")
	}

	settings, err := settingsService.Get()
	if err != nil {
		cmd.Println(warnStyle.Render(fmt.Sprintf("Warning: %v", err)))
		cmd.Println("Showing defaults. Fix the value with 'sercha-kb settings set <key> <value>'.")
		cmd.Println()
		defaults := settingsService.GetDefaults()
		settings = &defaults
	}

	cmd.Println(headingStyle.Render("Current Settings"))
	cmd.Println()

	section(cmd, "Chunking")
	field(cmd, "Max tokens", settings.Chunking.MaxTokens)
	field(cmd, "Overlap tokens", settings.Chunking.OverlapTokens)
	field(cmd, "Tokenizer", settings.Chunking.Tokenizer)

	section(cmd, "Preprocess")
	p := settings.Preprocess
	field(cmd, "Strip HTML", yesNo(p.StripHTML))
	field(cmd, "Normalise unicode", yesNo(p.NormalizeUnicode))
	field(cmd, "Collapse whitespace", yesNo(p.CollapseWhitespace))
	field(cmd, "Preserve line breaks", yesNo(p.PreserveLineBreaks))
	field(cmd, "Lowercase", yesNo(p.Lowercase))
	field(cmd, "Detect language", yesNo(p.DetectLanguage))

	section(cmd, "Embedding")
	e := settings.Embedding
	field(cmd, "Provider", e.Provider.Description())
	field(cmd, "Model", e.Model)
	if e.BaseURL != "" {
		field(cmd, "Base URL", e.BaseURL)
	}
	if e.Provider.RequiresAPIKey() {
		field(cmd, "API key", maskSecret(e.APIKey))
	}
	if e.Dimensions > 0 {
		field(cmd, "Dimensions", e.Dimensions)
	}
	field(cmd, "Batch size", e.BatchSize)
	field(cmd, "Requests/second", formatRate(e.RequestsPerSecond))
	field(cmd, "Max retries", e.MaxRetries)
	if e.IsConfigured() {
		field(cmd, "Status", okStyle.Render("configured"))
	} else {
		field(cmd, "Status", warnStyle.Render("not configured"))
	}

	section(cmd, "Vector Store")
	v := settings.Vector
	field(cmd, "Provider", string(v.Provider))
	switch v.Provider {
	case domain.VectorProviderQdrant:
		field(cmd, "Address", fmt.Sprintf("%s:%d", v.Host, v.Port))
	case domain.VectorProviderPgvector:
		if v.DSN != "" {
			field(cmd, "DSN", maskDSN(v.DSN))
		} else {
			field(cmd, "DSN", "(relational postgres settings)")
		}
	}
	field(cmd, "Collection", v.Collection)
	field(cmd, "Distance", string(v.Distance))

	section(cmd, "Relational Store")
	r := settings.Relational
	field(cmd, "Driver", string(r.Driver))
	if r.Driver == domain.RelationalPostgres {
		field(cmd, "Address", fmt.Sprintf("%s:%d", r.Host, r.Port))
		field(cmd, "User", r.User)
		field(cmd, "Password", maskSecret(r.Password))
	}
	field(cmd, "Database", orDefault(r.Database))

	section(cmd, "Audit")
	field(cmd, "Enabled", yesNo(settings.Audit.Enabled))
	field(cmd, "Output dir", orDefault(settings.Audit.OutputDir))

	section(cmd, "Retrieval")
	field(cmd, "Default limit", settings.Retrieval.DefaultLimit)
	field(cmd, "Max limit", settings.Retrieval.MaxLimit)
	field(cmd, "List scan limit", settings.Retrieval.ListScanLimit)

	section(cmd, "Timeouts")
	field(cmd, "Embedding", settings.Timeouts.Embedding)
	field(cmd, "Vector", settings.Timeouts.Vector)
	field(cmd, "Relational", settings.Timeouts.Relational)

	section(cmd, "Scheduler")
	field(cmd, "Enabled", yesNo(settings.Scheduler.Enabled))
	reindex := settings.Scheduler.Task(domain.TaskIDReindexPending)
	field(cmd, "Re-index interval", reindex.Interval)

	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errNotConfigured("settings")
	}

	key := strings.TrimSpace(args[0])
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		if !secretKeys[key] {
			return fmt.Errorf("missing value for %s", key)
		}
		cmd.Printf("Enter %s: ", key)
		value = readSecret(cmd.InOrStdin())
		cmd.Println()
	}

	if err := settingsService.Set(key, value); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return fmt.Errorf("%w (see 'sercha-kb settings keys')", err)
		}
		return fmt.Errorf("failed to save setting: %w", err)
	}

	shown := value
	if secretKeys[key] {
		shown = maskSecret(value)
	}
	cmd.Println(okStyle.Render(fmt.Sprintf("Set %s = %s", key, shown)))
	return nil
}

func runSettingsKeys(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errNotConfigured("settings")
	}
	for _, key := range settingsService.Keys() {
		cmd.Println(key)
	}
	return nil
}

func section(cmd *cobra.Command, name string) {
	cmd.Println()
	cmd.Println(headingStyle.Render("[" + name + "]"))
}

func field(cmd *cobra.Command, name string, value any) {
	cmd.Printf("  %-21s %v\n", name+":", value)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDefault(s string) string {
	if s == "" {
		return dimStyle.Render("(default)")
	}
	return s
}

func formatRate(rps float64) string {
	if rps <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%g", rps)
}

// readSecret reads a line without echo from a terminal, or a plain line
// from any other reader.
//
//nolint:errcheck // CLI helper, error ignored for UX
func readSecret(in io.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(secret))
		}
	}
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// maskDSN hides the password part of a connection URL.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(creds, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":****@" + host
}
