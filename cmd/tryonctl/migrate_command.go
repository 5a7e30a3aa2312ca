package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vtryon/backend/internal/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the application schema and River migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.db(cmd.Context())
			if err != nil {
				return err
			}
			if err := database.Migrate(cmd.Context(), pool, ctx.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}
