package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"serotonyl.ru/stars-bot/internal/common"
	"serotonyl.ru/stars-bot/internal/features/payments"
)

func completeCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "complete <external_payment_id>",
		Short: "Credit a payment manually (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			stack, err := e.payments()
			if err != nil {
				return err
			}
			defer stack.Close()

			c, err := stack.service.CompleteManually(ctx, args[0], provider)
			if err != nil {
				return err
			}
			switch {
			case c.AlreadyCompleted:
				fmt.Printf("payment %d already completed, nothing credited\n", c.Payment.ID)
			case c.Credited:
				fmt.Printf("payment %d completed: +%d credits to user %d\n", c.Payment.ID, c.Payment.Amount, c.Payment.UserID)
			}
			if !c.Report.OK() {
				fmt.Printf("some optional steps failed: %s\n", c.Report)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "payment provider (default from PAYMENT_PROVIDER)")
	return cmd
}

func pendingCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			stack, err := e.payments()
			if err != nil {
				return err
			}
			defer stack.Close()

			list, err := stack.service.ListPending(ctx, olderThan, limit)
			if err != nil {
				return err
			}
			printPayments(list, e.cfg.AppTimezone)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep over stuck payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			stack, err := e.payments()
			if err != nil {
				return err
			}
			defer stack.Close()

			sum, err := stack.service.ReconcileStuck(ctx)
			if err != nil {
				return err
			}
			fmt.Println(sum.String())
			if len(sum.Exhausted) > 0 {
				fmt.Printf("need manual action: %v\n", sum.Exhausted)
			}
			return nil
		},
	}
}

func printPayments(list []*payments.Payment, tz string) {
	loc := common.LoadLocation(tz)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXTERNAL\tUSER\tCREDITS\tSTARS\tATTEMPTS\tCREATED\tRECEIVED")
	for _, p := range list {
		stars := "-"
		if p.ExternalAmount != nil {
			stars = fmt.Sprint(*p.ExternalAmount)
		}
		received := "-"
		if p.ReceivedAt != nil {
			received = common.FormatDateTime(*p.ReceivedAt, loc)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
			p.ID, p.ExternalPaymentID, p.UserID, p.Amount, stars,
			p.CompletionAttempts, common.FormatDateTime(p.CreatedAt, loc), received)
	}
	_ = w.Flush()
	fmt.Printf("%d pending\n", len(list))
}
