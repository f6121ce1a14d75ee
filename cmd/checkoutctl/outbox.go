package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/outbox"
)

func outboxCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Transactional outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "retry [event-id]",
		Short: "Put a failed outbox event back in the relay queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			ok, err := outbox.NewPgStore(e.log, e.pool, 0).Retry(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("event %d is not in failed state", id)
			}
			fmt.Printf("event %d queued\n", id)
			return nil
		},
	})
	return cmd
}
