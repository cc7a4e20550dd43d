package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/tokens"
)

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage bot tokens in stars_bot_tokens",
	}
	cmd.AddCommand(tokensListCmd(), tokensAddCmd(), tokensSetActiveCmd("enable", true), tokensSetActiveCmd("disable", false))
	return cmd
}

func tokensListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bot tokens (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			repo := tokens.NewRepository(e.pool)
			var list []*tokens.Token
			if all {
				list, err = repo.ListAll(ctx)
			} else {
				list, err = repo.ListActive(ctx)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTOKEN\tUSERNAME\tACTIVE\tBOT_REF")
			for _, t := range list {
				fmt.Fprintf(w, "%d\t%s\t@%s\t%v\t%s\n", t.ID, t.Preview(), t.BotUsername, t.IsActive, tokens.BotRef(t.ID))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive tokens")
	return cmd
}

func tokensAddCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "add <bot_token>",
		Short: "Register a bot token (active)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			repo := tokens.NewRepository(e.pool)
			// активный токен не трогаем, выключенный Add включит обратно
			if id, err := repo.GetIDByToken(ctx, args[0]); err == nil {
				return fmt.Errorf("token already active as id %d", id)
			} else if !errors.Is(err, common.ErrTokenNotFound) {
				return err
			}

			id, err := repo.Add(ctx, args[0], username)
			if err != nil {
				return err
			}
			fmt.Printf("token added: id=%d ref=%s\n", id, tokens.BotRef(id))
			fmt.Println("run POST /setup-webhooks or wait for the registry refresh to pick it up")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "bot username (refreshed from getMe on start)")
	return cmd
}

func tokensSetActiveCmd(name string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: name + " a bot token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("bad id %q", args[0])
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := tokens.NewRepository(e.pool).SetActive(ctx, id, active); err != nil {
				return err
			}
			fmt.Printf("token %d active=%v\n", id, active)
			return nil
		},
	}
}
