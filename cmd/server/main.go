package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/httpapi"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:           "finledger",
	Short:         "Personal finance ledger with recurring transactions and budget alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the job scheduler and the recurring work-item dispatcher",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find due recurring transactions once and queue them for processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.scanOnce(cmd.Context())
	},
}

var checkBudgetsCmd = &cobra.Command{
	Use:   "check-budgets",
	Short: "Evaluate every budget once and send the alerts that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.budgets.Run(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d budgets: %d alerted, %d skipped, %d failed\n",
			sum.Checked, sum.Alerted, sum.Skipped, sum.Failed)
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the ledger tables in Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if a.pg == nil {
			return errors.New("migrate needs DATABASE_URL")
		}
		if err := a.pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		a.logger.Info("schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(checkBudgetsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := scheduler.New(a.logger.Named("scheduler"), a.cfg.Schedule.JobTimeout)
	err = jobs.Register(a.cfg.Schedule.RecurringScan, "recurring-scan", func(ctx context.Context) error {
		_, err := a.scanner.Scan(ctx)
		return err
	})
	if err != nil {
		return err
	}
	err = jobs.Register(a.cfg.Schedule.BudgetAlerts, "budget-alerts", func(ctx context.Context) error {
		_, err := a.budgets.Run(ctx)
		return err
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Ledger:     a.ledger,
			Budgets:    a.budgets,
			Limiter:    a.limiter,
			Classifier: a.classifier,
			Logger:     a.logger.Named("http"),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.dispatcher.Run(ctx)
	})

	jobs.Start()
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), jobs.Stop(shutdownCtx))
	})

	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
