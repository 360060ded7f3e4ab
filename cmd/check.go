package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify database connectivity and list tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
					err = cerr
				}
			}()

			tables, err := app.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("database check failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database reachable; %d table(s) in current schema\n", len(tables))
			for _, t := range tables {
				fmt.Fprintf(out, "  %s\n", t)
			}
			return nil
		},
	}
}
