package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the total record count of each query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
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

			queries := namedQueries(selected)
			totals, err := a.runner.Count(ctx, queries...)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, q := range queries {
				fmt.Fprintf(w, "%s %d\n", queryLabel.Sprint(q.Name), totals[q.Name])
			}
			return nil
		},
	}
}
