package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"serotonyl.ru/stars-bot/internal/config"
	"serotonyl.ru/stars-bot/internal/db/postgres"
	"serotonyl.ru/stars-bot/internal/features/admin"
	"serotonyl.ru/stars-bot/internal/features/economy"
	"serotonyl.ru/stars-bot/internal/features/pricing"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(cfg); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func quoteCmd() *cobra.Command {
	var (
		file      string
		dumpTable bool
	)
	cmd := &cobra.Command{
		Use:   "quote [credits]",
		Short: "Show how many stars a top-up costs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("PRICING_FILE")
			}
			p, err := pricing.LoadFile(file)
			if err != nil {
				return err
			}

			if dumpTable || len(args) == 0 {
				out, err := yaml.Marshal(pricing.File{
					Anchors: p.Converter().Anchors(),
					Presets: p.Presets(),
				})
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				if len(args) == 0 {
					return nil
				}
			}

			credits, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || credits <= 0 {
				return fmt.Errorf("credits must be a positive integer, got %q", args[0])
			}
			fmt.Printf("%d credits = %d stars\n", credits, p.Quote(credits))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "pricing-file", "", "YAML with anchors and presets (default PRICING_FILE or built-in)")
	cmd.Flags().BoolVar(&dumpTable, "table", false, "print the effective pricing table as YAML")
	return cmd
}

func balanceCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "balance <user_id>",
		Short: "Show a user's balance and recent credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad user_id %q", args[0])
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := economy.NewService(economy.NewRepository(e.pool)).Statement(ctx, userID, limit)
			if err != nil {
				return err
			}
			fmt.Print(st)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "recent transactions to show")
	return cmd
}

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <admin_token>",
		Short: "Print the Argon2id hash for ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := admin.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(h)
			return nil
		},
	}
}
