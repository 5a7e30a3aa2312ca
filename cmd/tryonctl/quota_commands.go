package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vtryon/backend/internal/ledger"
)

func newQuotaCommand(ctx *commandContext) *cobra.Command {
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and repair user quota",
	}

	quotaCmd.AddCommand(newQuotaShowCommand(ctx))
	quotaCmd.AddCommand(newQuotaRepairCommand(ctx))

	return quotaCmd
}

func newQuotaShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's remaining quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			l, err := ctx.ledger(cmd.Context())
			if err != nil {
				return err
			}
			b, err := l.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			printBalance(cmd.OutOrStdout(), userID, b)
			return nil
		},
	}
}

func printBalance(out io.Writer, userID uuid.UUID, b ledger.Balance) {
	fmt.Fprintf(out, "User:          %s\n", userID)
	fmt.Fprintf(out, "Plan:          %s\n", yesNo(b.Active))
	fmt.Fprintf(out, "Free trials:   %d\n", b.Free)
	fmt.Fprintf(out, "Subscription:  %d\n", b.Subscription)
	fmt.Fprintf(out, "Credits:       %d\n", b.Credits)
	fmt.Fprintf(out, "Total:         %d\n", b.Total)
}

func yesNo(v bool) string {
	if v {
		return "active"
	}
	return "none"
}

func newQuotaRepairCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reset negative quota counters to zero",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ctx.ledger(cmd.Context())
			if err != nil {
				return err
			}
			n, err := l.RepairNegativeCounters(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d user(s)\n", n)
			return nil
		},
	}
}
