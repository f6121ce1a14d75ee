package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/bootstrap"
	notifyapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/application"
	notifypg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/notification/infrastructure/postgres"
	payoutapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/application"
	payoutpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payout/infrastructure/postgres"
)

func (e *env) payouts() *payoutapp.Service {
	notifier := notifyapp.NewService(e.log, notifypg.NewStore(e.log, e.pool), bootstrap.NewMailer(e.log, e.cfg.Mail), e.cfg.Mail.SellerEmail)
	return payoutapp.NewService(e.log, bootstrap.PayoutConfig(e.cfg), payoutpg.NewRepository(e.log, e.pool), e.gw, notifier)
}

func payoutCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Seller payouts",
	}
	cmd.AddCommand(payoutTriggerCmd(e))
	cmd.AddCommand(payoutRefreshCmd(e))
	cmd.AddCommand(payoutShowCmd(e))
	return cmd
}

func payoutTriggerCmd(e *env) *cobra.Command {
	var pixKey string
	cmd := &cobra.Command{
		Use:   "trigger [order-ref]",
		Short: "Send the seller payout for a paid order",
		Long: `Send the seller payout for a paid order.

The reference may be a bare order id or PAYOUT<id> / REPASSE<id>.
A payout already SENT or CONFIRMED is reported, never resent.

Examples:
  checkoutctl payout trigger 42
  checkoutctl payout trigger PAYOUT42 --pix-key seller@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.payouts().TryTrigger(cmd.Context(), payoutapp.Request{
				OrderRef:       args[0],
				Source:         "checkoutctl",
				OverridePixKey: pixKey,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&pixKey, "pix-key", "", "send to this pix key instead of the configured one")
	return cmd
}

func payoutRefreshCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [order-id]",
		Short: "Ask the provider for the settlement of a SENT payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			outcome, err := e.payouts().Refresh(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("order %d: %s\n", id, outcome)
			return nil
		},
	}
}

func payoutShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show [order-id]",
		Short: "Print the stored payout for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := e.payouts().Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
