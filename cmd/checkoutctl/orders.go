package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/db"
	orderapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/application"
	orderpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/order/infrastructure/postgres"
	paymentapp "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/application"
	paymentpg "github.com/lmgaspa/ecommerce-ag-books-sub000/internal/payment/infrastructure/postgres"
)

func (e *env) orders() *orderapp.Service {
	return orderapp.NewService(e.log, orderpg.NewRepository(e.log, e.pool))
}

func confirmCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm [order-id]",
		Short: "Query the gateway and apply the payment status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec := paymentapp.NewReconciler(e.log, e.orders(), e.gw, paymentpg.NewAuditLog(e.log, e.pool))
			outcome, status, err := rec.ConfirmManually(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("order %d: provider status %q, %s\n", id, status, outcome)
			return nil
		},
	}
}

func sweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire unpaid orders whose reservation has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv := paymentapp.NewInvalidator(e.log, e.orders(), e.gw, e.cfg.Checkout.SweepInterval)
			n, err := inv.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("expired %d orders\n", n)
			return nil
		},
	}
}

func schemaCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create missing tables, views and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Apply(cmd.Context(), e.log, e.pool)
		},
	})
	return cmd
}
