package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/flicky/marketplace-api/internal/config"
)

var Version = "dev"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// Prices and totals go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	serve := &serveOptions{}
	rootCmd := &cobra.Command{
		Use:           "marketplace-api",
		Short:         "REST API for users, products and orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), log, serve)
		},
	}
	serve.bind(rootCmd)

	rootCmd.AddCommand(serveCmd(log))
	rootCmd.AddCommand(migrateCmd(log))
	rootCmd.AddCommand(cleanupCmd(log))
	rootCmd.AddCommand(seedCmd(log))
	rootCmd.AddCommand(auditCmd(log))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, opens the backends and closes them when fn returns.
func withApp(ctx context.Context, log *slog.Logger, withBroker bool, fn func(*app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, log, withBroker)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
