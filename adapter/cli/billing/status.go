package billing

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/spf13/cobra"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show the monthly price matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service(cmd)
		if svc == nil {
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUBSCRIBER\tPLAN\tMONTHLY")
		for _, e := range svc.Prices().Entries() {
			fmt.Fprintf(w, "%s\t%s\t%s %s\n", e.SubscriberType, e.Plan, e.Price.Amount.String(), e.Price.Currency)
		}
		return w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a subscriber's subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service(cmd)
		if svc == nil {
			return nil
		}
		owner, err := parseOwner()
		if err != nil {
			return err
		}

		operator := application.AuthenticatedSubscriber{
			UserID:       "cli",
			Type:         owner.Type,
			SubscriberID: owner.ID,
			Roles:        []string{application.RoleSuperadmin},
		}
		overview, err := svc.GetOverview(cmd.Context(), operator)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		s := overview.Subscription
		fmt.Fprintf(out, "Subscription: %s (%s)\n", s.Plan, overview.DisplayStatus)
		if s.StartDate != nil {
			fmt.Fprintf(out, "Started: %s\n", s.StartDate.Format(time.DateOnly))
		}
		if s.EndDate != nil {
			fmt.Fprintf(out, "Ends: %s\n", s.EndDate.Format(time.DateOnly))
		}
		if overview.UnitPrice != nil {
			fmt.Fprintf(out, "Monthly price: %s %s\n", overview.UnitPrice.Amount.String(), overview.UnitPrice.Currency)
		}
		if p := overview.PendingPayment; p != nil {
			fmt.Fprintf(out, "Pending payment: %s (%s %s)\n", p.TransactionID, p.Amount.String(), p.Currency)
		}
		if len(overview.RecentPayments) > 0 {
			fmt.Fprintln(out, "Recent payments:")
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, p := range overview.RecentPayments {
				fmt.Fprintf(w, "  %s\t%s\t%s %s\t%s\n",
					p.TransactionID, p.Status, p.Amount.String(), p.Currency, p.CreatedAt.Format(time.DateTime))
			}
			return w.Flush()
		}
		return nil
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create a FREE subscription for a subscriber without one",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service(cmd)
		if svc == nil {
			return nil
		}
		owner, err := parseOwner()
		if err != nil {
			return err
		}

		s, created, err := svc.EnsureSubscription(cmd.Context(), owner)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s subscription %s for %s\n", s.Plan, s.ID, owner)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already has subscription %s (%s)\n", owner, s.ID, s.Plan)
		}
		return nil
	},
}
