// Package cmd defines and implements the CLI commands for the contactd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/config"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/server"
)

// App is the part of the assembled service the commands drive. It lets tests inject a
// fake in place of *server.App.
type App interface {
	Run(ctx context.Context) error
	Check(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type configKeyType struct{}

// newRootCmd creates the root command. Configuration is loaded once before any
// subcommand runs and handed down through the command context.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "contactd",
		Short: "Contact form backend for the Dharani Dairy website.",
		Long: `contactd serves the marketing site's contact form endpoint. It validates and
sanitizes submissions, stores them in Postgres through a managed connection pool, and
optionally notifies the site owner through Pub/Sub, Kafka, or email.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or JSON); environment variables override it")
	cmd.AddCommand(newServeCmd(), newCheckCmd())
	return cmd
}

// loadDotEnv exports variables from path without overriding the real environment. A
// missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
