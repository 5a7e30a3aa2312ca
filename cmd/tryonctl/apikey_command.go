package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vtryon/backend/internal/auth"
	"github.com/vtryon/backend/internal/repository"
)

func newAPIKeyCommand(ctx *commandContext) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage external API keys",
	}

	keyCmd.AddCommand(&cobra.Command{
		Use:   "create <user-id>",
		Short: "Mint an external API key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			pool, err := ctx.db(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := repository.NewUserRepo(pool).GetByID(cmd.Context(), userID); err != nil {
				return fmt.Errorf("lookup user: %w", err)
			}
			raw, key, err := auth.GenerateAPIKey(userID)
			if err != nil {
				return err
			}
			if err := repository.NewAPIKeyRepo(pool).Create(cmd.Context(), key); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key ID: %s\n", key.ID)
			fmt.Fprintf(out, "API key (shown once): %s\n", raw)
			return nil
		},
	})

	return keyCmd
}
