package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/service"
)

var errDriftFound = errors.New("drift found")

func migrateCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations or create the Mongo indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), log, false, func(a *app) error {
				if err := a.migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				log.Info("migrations applied", "driver", a.cfg.Store.Driver)
				return nil
			})
		},
	}
}

func cleanupCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every product and order and empty every user's orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), log, false, func(a *app) error {
				return service.NewCleanupService(a.store, a.productCache, log).Cleanup(cmd.Context())
			})
		},
	}
}

func seedCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create products from a YAML catalogue",
		Long: `Create products from a YAML list. Every entry is validated like a
POST /products body before any is written.

Example file:
  - name: Desk lamp
    description: Adjustable LED lamp
    price: 24.99
    stock: 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open catalogue: %w", err)
			}
			defer f.Close()

			inputs, err := readCatalogue(f)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), log, false, func(a *app) error {
				created, err := service.NewProductService(a.store, a.productCache, nil, log).Create(cmd.Context(), inputs)
				if err != nil {
					return err
				}
				for _, p := range created {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", p.ID, p.Name)
				}
				log.Info("seeded products", "count", len(created))
				return nil
			})
		},
	}
}

// readCatalogue decodes a YAML product list and runs it through the same
// checks as a batch POST /products.
func readCatalogue(r io.Reader) ([]dto.ProductInput, error) {
	var entries []map[string]any
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode catalogue: %w", err)
	}
	inputs, err := dto.DecodeProducts(body)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	return inputs, nil
}

func auditCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report drift between orders, user mirrors and product back-references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), log, false, func(a *app) error {
				return runAudit(cmd.Context(), service.NewAuditService(a.store), cmd.OutOrStdout())
			})
		},
	}
}

type allAuditor interface {
	AuditAll(ctx context.Context) ([]service.Drift, error)
}

func runAudit(ctx context.Context, auditor allAuditor, out io.Writer) error {
	drift, err := auditor.AuditAll(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	for _, d := range drift {
		fmt.Fprintln(out, d.String())
	}
	if len(drift) > 0 {
		return fmt.Errorf("%w: %d problem(s)", errDriftFound, len(drift))
	}
	fmt.Fprintln(out, "no drift")
	return nil
}
