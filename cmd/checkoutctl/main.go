// Command checkoutctl runs operator tasks against the checkout database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/bootstrap"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/config"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/db"
	"github.com/lmgaspa/ecommerce-ag-books-sub000/pkg/logging"
)

var Version = "dev"

// env is opened once per invocation by the root command.
type env struct {
	cfg  config.Config
	log  *slog.Logger
	pool *pgxpool.Pool
	gw   bootstrap.Gateway
}

func main() {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator tools for the book checkout backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}

	rootCmd.AddCommand(payoutCmd(e))
	rootCmd.AddCommand(confirmCmd(e))
	rootCmd.AddCommand(sweepCmd(e))
	rootCmd.AddCommand(schemaCmd(e))
	rootCmd.AddCommand(outboxCmd(e))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg
	e.log = logging.New(cfg.LogLevel)

	pool, err := db.Connect(ctx, cfg.PGURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	e.pool = pool

	gw, err := bootstrap.NewGateway(e.log, cfg.Gateway)
	if err != nil {
		return err
	}
	e.gw = gw
	return nil
}

func (e *env) close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
