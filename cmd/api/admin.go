package main

import (
	"fmt"
	"sort"
	"strings"

	"beatstore/internal/model"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := openDB(cfg); err != nil {
				return err
			}
			log.Info("database migrated", "driver", cfg.Database.Driver)
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog and the SAVE10 discount code",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.catalogRepo.Seed(ctx); err != nil {
				return err
			}
			err = a.discountRepo.Upsert(ctx, &model.DiscountCode{
				Code:     "SAVE10",
				Type:     model.DiscountPercentage,
				Value:    decimal.NewFromInt(10),
				IsActive: true,
			})
			if err != nil {
				return fmt.Errorf("seed discount code: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seeded catalog and SAVE10")
			return nil
		},
	}
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage gateway settings stored in the database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print stored settings; secrets are masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			settings, err := a.settingsRepo.All(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v := settings[k]
				if strings.Contains(k, "SECRET") {
					v = "********"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Override a PAYPAL_* setting (without the prefix); applies on next start",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			key := strings.ToUpper(strings.TrimPrefix(args[0], "PAYPAL_"))
			if err := a.settingsRepo.Set(ctx, key, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return nil
		},
	})

	return cmd
}

func newReprocessWebhooksCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reprocess-webhooks",
		Short: "Apply webhook events that were stored but not processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.webhooks.ReprocessPending(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reprocessed %d events\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events to process")
	return cmd
}

func newRegenerateLicensesCommand() *cobra.Command {
	var orderIDs []string

	cmd := &cobra.Command{
		Use:   "regenerate-licenses",
		Short: "Rewrite the license documents of completed orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			failed := 0
			for _, id := range orderIDs {
				report, err := a.entitlements.Regenerate(ctx, id)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d generated, %d failed\n", id, len(report.Generated), len(report.Failed))
				for itemID, err := range report.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", itemID, err)
				}
				failed += len(report.Failed)
			}
			if failed > 0 {
				return fmt.Errorf("%d license documents could not be regenerated", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&orderIDs, "order", nil, "order id to regenerate (repeatable)")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}
