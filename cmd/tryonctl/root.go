package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var databaseFlag string

	ctx := newCommandContext(&databaseFlag)

	rootCmd := &cobra.Command{
		Use:           "tryonctl",
		Short:         "Operator tools for the try-on backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseFlag, "database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newQuotaCommand(ctx))
	rootCmd.AddCommand(newAPIKeyCommand(ctx))

	return rootCmd
}
