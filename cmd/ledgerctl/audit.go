package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/infrastructure/logger"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check ledger consistency",
	}
	cmd.AddCommand(newAuditUsageCmd(a))
	return cmd
}

func newAuditUsageCmd(a *app) *cobra.Command {
	var (
		accountID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Compare quota counters with recorded usage and pending reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.ledger()
			if err != nil {
				return err
			}
			auditor := appbilling.NewUsageAuditor(store, logger.Named(a.logger(), "audit"))

			var reports []*appbilling.AuditReport
			if accountID != "" {
				id, err := uuid.Parse(accountID)
				if err != nil {
					return fmt.Errorf("invalid account id %q", accountID)
				}
				report, err := auditor.AuditAccount(cmd.Context(), id)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				reports, err = auditor.AuditAll(cmd.Context())
				if err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				writeAuditTable(cmd, reports)
			}

			drifted := 0
			for _, r := range reports {
				if !r.Consistent() {
					drifted++
				}
			}
			if drifted > 0 {
				return fmt.Errorf("%w: %d of %d accounts", errDriftDetected, drifted, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "audit a single account")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

func writeAuditTable(cmd *cobra.Command, reports []*appbilling.AuditReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACCOUNT\tPERIOD START\tUSED\tEVENTS\tPENDING\tDRIFT")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.AccountID, r.UsagePeriodStart.Format(time.RFC3339),
			r.QuotaUsedMinutes, r.EventMinutes, r.PendingMinutes, r.Drift)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d accounts audited\n", len(reports))
}
