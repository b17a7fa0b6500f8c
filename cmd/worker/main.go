package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nero/internal/bootstrap"
	"nero/internal/database"
	"nero/internal/infra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Background jobs for generation tasks",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newOnceCmd(), newMigrateCmd(), newCreditCmd())
	return root
}

// withStack loads configuration, builds the service stack and runs fn with a
// context cancelled on SIGINT/SIGTERM.
func withStack(fn func(ctx context.Context, cfg *infra.Config, logger infra.Logger, stack *bootstrap.Stack) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != infra.StoreDriverPostgres {
		return fmt.Errorf("worker requires STORE_DRIVER=%s", infra.StoreDriverPostgres)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(ctx, cfg, logger, stack)
}

func newRunCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep unresolved tasks until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, cfg *infra.Config, logger infra.Logger, stack *bootstrap.Stack) error {
				if interval <= 0 {
					interval = cfg.SweepInterval
				}
				logger.Info().Dur("interval", interval).Msg("worker: started")
				err := stack.Sweeper.Run(ctx, interval)
				if errors.Is(err, context.Canceled) {
					logger.Info().Msg("worker: stopped")
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between sweeps (default SWEEP_INTERVAL_SECONDS)")
	return cmd
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sweep and print its stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, _ *infra.Config, _ infra.Logger, stack *bootstrap.Stack) error {
				stats, err := stack.Sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked=%d settled=%d expired=%d failures=%d\n",
					stats.Checked, stats.Settled, stats.Expired, stats.Failures)
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)
			m, err := database.NewMigrator(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Run(cmd.Context())
		},
	}
}

func newCreditCmd() *cobra.Command {
	var (
		userID string
		amount int64
	)
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Top up a user's star balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(func(ctx context.Context, _ *infra.Config, _ infra.Logger, stack *bootstrap.Stack) error {
				balance, err := stack.Ledger.Credit(ctx, userID, amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user=%s stars=%d\n", userID, balance)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to credit")
	cmd.Flags().Int64Var(&amount, "amount", 0, "stars to add")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
