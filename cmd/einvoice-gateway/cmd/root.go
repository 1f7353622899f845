package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-gateway/internal/config"
	"github.com/rezonia/einvoice-gateway/pkg/clearance"
)

var (
	version = "1.0.0"

	// Global flags
	configFile   string
	authorityURL string
	authToken    string
	contextID    string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "einvoice-gateway",
	Short: "Exchange e-invoices with the national clearance authority",
	Long: `einvoice-gateway submits invoice payloads to the national e-invoice
clearance authority, tracks their asynchronous validation status, and
queries or downloads previously cleared invoices.

The gateway authenticates with a long-lived authorization token, opens a
single stateful processing session, and manages its lifecycle (expiry,
reopen, teardown) transparently.

Examples:
  # Submit an invoice and wait for the clearance verdict
  einvoice-gateway submit invoice.xml --token <auth-token>

  # Check a submission later
  einvoice-gateway status inv-1

  # List invoices cleared since a date
  einvoice-gateway list --since 2026-01-01T00:00:00Z

  # Download a cleared invoice by its reference number
  einvoice-gateway download REF-42 -o invoice.xml

  # Run the HTTP API
  einvoice-gateway serve --address :8080`,
	Version: version,
	// Runtime failures are reported once, by main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&authorityURL, "authority-url", "", "Authority base endpoint (env: EINVOICE_GATEWAY_AUTHORITY_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Long-lived authorization token (env: EINVOICE_GATEWAY_AUTH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&contextID, "context", "", "Taxpayer context identifier (env: EINVOICE_GATEWAY_CONTEXT_IDENTIFIER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
}

// loadConfig merges the config file, environment and flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	if authorityURL != "" {
		cfg.AuthorityBaseURL = authorityURL
	}
	if authToken != "" {
		cfg.AuthToken = authToken
	}
	if contextID != "" {
		cfg.ContextIdentifier = contextID
	}
	if verbose {
		cfg.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newClient() (*clearance.Client, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	client, err := clearance.New(cfg, clearance.WithLogger(newLogger(cfg)))
	if err != nil {
		return nil, config.Config{}, err
	}
	return client, cfg, nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
