package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	"github.com/transcribe/backend/internal/domain/identity"
)

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountsCreateCmd(a),
		newAccountsShowCmd(a),
		newAccountsSetActiveCmd(a, "enable", true),
		newAccountsSetActiveCmd(a, "disable", false),
	)
	return cmd
}

func newAccountsCreateCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account on the free plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := a.accounts()
			if err != nil {
				return err
			}
			account, err := accounts.Create(cmd.Context(), email)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.ID, account.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountsSetActiveCmd(a *app, use string, active bool) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Mark an account as %sd", use),
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
			account, err := accounts.SetActive(cmd.Context(), id, active)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\tactive=%t\n", account.ID, account.Active)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAccountsShowCmd(a *app) *cobra.Command {
	var accountID, email string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print an account with its subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (accountID == "") == (email == "") {
				return errors.New("exactly one of --account or --email is required")
			}
			accounts, err := a.accounts()
			if err != nil {
				return err
			}

			var account *identity.Account
			if email != "" {
				account, err = accounts.GetByEmail(cmd.Context(), email)
			} else {
				id, parseErr := uuid.Parse(accountID)
				if parseErr != nil {
					return fmt.Errorf("invalid account id %q", accountID)
				}
				account, err = accounts.Get(cmd.Context(), id)
			}
			if err != nil {
				return err
			}

			ledger, _, err := a.ledger()
			if err != nil {
				return err
			}
			sub, err := ledger.Current(cmd.Context(), account.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				appidentity.AccountResponse
				Plan              string `json:"plan"`
				Status            string `json:"status"`
				QuotaLimitMinutes int64  `json:"quota_limit_minutes"`
				QuotaUsedMinutes  int64  `json:"quota_used_minutes"`
			}{
				AccountResponse:   appidentity.ToAccountResponse(account),
				Plan:              sub.PlanName.String(),
				Status:            sub.Status.String(),
				QuotaLimitMinutes: sub.QuotaLimitMinutes,
				QuotaUsedMinutes:  sub.QuotaUsedMinutes,
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}
