package billing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/medplan/medplan/adapter/cli"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/spf13/cobra"
)

// Cmd is the billing command group.
var Cmd = &cobra.Command{
	Use:   "billing",
	Short: "Inspect and maintain subscriptions",
	Long:  `Inspect subscriptions, provision free plans and settle pending payments.`,
}

var (
	subscriberType string
	subscriberID   string
)

func init() {
	Cmd.AddCommand(pricingCmd)
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(provisionCmd)
	Cmd.AddCommand(sweepCmd)
	Cmd.AddCommand(finalizeCmd)

	for _, c := range []*cobra.Command{statusCmd, provisionCmd} {
		c.Flags().StringVar(&subscriberType, "type", "", "subscriber type (DOCTOR or HOSPITAL)")
		c.Flags().StringVar(&subscriberID, "id", "", "subscriber id")
	}
}

// service returns the billing service or nil when the CLI runs without a
// database.
func service(cmd *cobra.Command) cli.BillingService {
	app := cli.GetApp()
	if app == nil || app.BillingService == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Billing commands require a database connection.")
		return nil
	}
	return app.BillingService
}

func parseOwner() (domain.Owner, error) {
	st, err := domain.ParseSubscriberType(subscriberType)
	if err != nil {
		return domain.Owner{}, err
	}
	id, err := uuid.Parse(subscriberID)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("invalid subscriber id %q: %w", subscriberID, err)
	}
	return domain.Owner{Type: st, ID: id}, nil
}
