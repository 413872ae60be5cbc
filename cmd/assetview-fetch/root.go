package main

import (
	"fmt"

	"github.com/Sternrassler/qualys-assetview/pkg/config"
	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okLabel    = color.New(color.FgGreen)
	errorLabel = color.New(color.FgRed)
	warnLabel  = color.New(color.FgYellow)
	queryLabel = color.New(color.FgCyan, color.Bold)
)

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
	queries    []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "assetview-fetch",
		Short: "Download Qualys AssetView query results",
		Long: `Runs the configured Qualys AssetView queries page by page and writes the
flattened, deduplicated assets to CSV or SQLite.

Credentials are read from QUALYS_USERNAME and QUALYS_PASSWORD, optionally
loaded from a .env file.

Quick Start:
  assetview-fetch count --config assetview.toml
  assetview-fetch fetch --config assetview.toml --query eol-os`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "assetview.toml", "Path to the TOML configuration")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional .env file with credentials")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringSliceVarP(&opts.queries, "query", "q", nil, "Query names to run (default: all configured)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newFetchCmd(opts),
		newCountCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and configures logging from it.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}

	logging.Setup(logging.Options{
		Level:   cfg.Logging.Level,
		Verbose: o.verbose,
		Pretty:  cfg.Logging.Pretty,
		Output:  cmd.ErrOrStderr(),
	})
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "assetview-fetch %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
