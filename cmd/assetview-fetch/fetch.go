package main

import (
	"fmt"
	"sort"

	"github.com/Sternrassler/qualys-assetview/pkg/logging"
	"github.com/Sternrassler/qualys-assetview/pkg/metrics"
	"github.com/Sternrassler/qualys-assetview/pkg/sink"
	"github.com/spf13/cobra"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run the queries and write the asset report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Output.Path = output
			}
			if format != "" {
				cfg.Output.Format = format
			}

			selected, err := cfg.SelectQueries(opts.queries...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := sink.Open(sink.Config{
				Format: sink.Format(cfg.Output.Format),
				Path:   cfg.Output.Path,
				Table:  cfg.Output.Table,
			})
			if err != nil {
				return err
			}
			defer out.Close()

			result, runErr := a.runner.Run(ctx, out, namedQueries(selected)...)

			if cfg.Metrics.PushgatewayURL != "" {
				if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, nil); err != nil {
					logger := logging.NewLogger("cli")
					logger.Warn().Err(err).Msg("Metrics push failed")
				}
			}

			if runErr != nil {
				return runErr
			}

			w := cmd.OutOrStdout()
			names := make([]string, 0, len(result.PerQuery))
			for name := range result.PerQuery {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "%s %d rows\n", queryLabel.Sprint(name), result.PerQuery[name])
			}
			if result.Duplicates > 0 {
				fmt.Fprintf(w, "%s %d duplicate rows dropped\n", warnLabel.Sprint("dedup"), result.Duplicates)
			}
			fmt.Fprintf(w, "%s wrote %d rows to %s (run %s)\n",
				okLabel.Sprint("done"), len(result.Rows), cfg.Output.Path, result.RunID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Override the output path")
	cmd.Flags().StringVar(&format, "format", "", "Override the output format (csv, sqlite)")
	return cmd
}
