package billing

import (
	"fmt"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/spf13/cobra"
)

var (
	sweepOlderThan time.Duration
	finalizeAmount string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail abandoned pending payments",
	Long: `Marks PENDING payments older than --older-than as FAILED so a new
checkout can start. Subscriptions are never modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service(cmd)
		if svc == nil {
			return nil
		}

		n, err := svc.SweepAbandoned(cmd.Context(), sweepOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Swept %d abandoned payment(s).\n", n)
		return nil
	},
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize <order-id>",
	Short: "Reconcile a pending payment with the provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service(cmd)
		if svc == nil {
			return nil
		}

		out, err := svc.FinalizeByOrder(cmd.Context(), args[0], finalizeAmount)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Outcome: %s\n", out.Status)
		if out.PaymentStatus != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Payment: %s\n", out.PaymentStatus)
		}
		if out.Status == application.FinalizeCompleted && out.Subscription != nil && out.Subscription.EndDate != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s active until %s\n",
				out.Subscription.Plan, out.Subscription.EndDate.Format(time.DateOnly))
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 30*time.Minute, "age after which a pending payment is abandoned")
	finalizeCmd.Flags().StringVar(&finalizeAmount, "amount", "", "amount of the payment as stored")
	_ = finalizeCmd.MarkFlagRequired("amount")
}
