package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/transcribe/backend/internal/infrastructure/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		accountID string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer access token for an active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(accountID)
			if err != nil {
				return fmt.Errorf("invalid account id %q", accountID)
			}
			accounts, err := a.accounts()
			if err != nil {
				return err
			}
			if _, err := accounts.RequireActive(cmd.Context(), id); err != nil {
				return err
			}

			jwtCfg := a.cfg.JWT
			if ttl > 0 {
				jwtCfg.AccessTokenExpiration = ttl
			}
			token, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token.Token)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to jwt.access_token_expiration)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
