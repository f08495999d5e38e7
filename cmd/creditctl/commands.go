package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"credits/internal/app"
	"credits/internal/credit/models"
	"credits/internal/credit/store"
	"credits/internal/platform/config"
	"credits/internal/platform/logger"
	"credits/internal/platform/postgres"
	id "credits/pkg/domain"
	"credits/pkg/requestcontext"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(balanceCmd)

	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "Abort the command after this long")
	notifyCmd.Flags().Int("days", 0, "Warning window in days (defaults to CREDITS_EXPIRING_SOON_DAYS)")
}

var rootCmd = &cobra.Command{
	Use:          "creditctl",
	Short:        "Operate the credit ledger",
	Long:         `Operate the credit ledger. Configuration is read the same way as the server: CREDITS_CONFIG_FILE, then environment variables.`,
	SilenceUsage: true,
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("DATABASE_URL is required for migrate")
	}
	defer db.Close()

	if err := postgres.Migrate(db, store.Migrations, store.MigrationsDir); err != nil {
		return err
	}
	version, dirty, ok, err := postgres.Version(db, store.Migrations, store.MigrationsDir)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
	return nil
}

// ─── expire ─────────────────────────────────────────────────────────────────

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire every allocation past its expiry date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ctx context.Context, ledger *app.App, _ config.Config) error {
			report, err := ledger.Service.ProcessExpirations(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d skipped=%d failed=%d expired=%d\n",
				report.Processed, report.Skipped, report.Failed, report.TotalExpired)
			return nil
		})
	},
}

// ─── notify-expiring ────────────────────────────────────────────────────────

var notifyCmd = &cobra.Command{
	Use:   "notify-expiring",
	Short: "Publish warnings for credits expiring soon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withLedger(cmd, func(ctx context.Context, ledger *app.App, cfg config.Config) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = cfg.Credits.ExpiringSoonDays
			}
			report, err := ledger.Service.NotifyExpiringSoon(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "window=%dd users=%d allocations=%d amount=%d\n",
				days, report.Users, report.Allocations, report.Amount)
			return nil
		})
	},
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Show a user's balance by credit type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := id.ParseUserID(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		return withLedger(cmd, func(ctx context.Context, ledger *app.App, _ config.Config) error {
			summary, err := ledger.Service.GetBalanceSummary(ctx, userID)
			if err != nil {
				return err
			}
			printBalance(cmd, summary)
			return nil
		})
	},
}

func printBalance(cmd *cobra.Command, summary *models.BalanceSummary) {
	types := make([]string, 0, len(summary.ByType))
	for t := range summary.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREDIT TYPE\tBALANCE")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%d\n", t, summary.ByType[models.CreditType(t)])
	}
	fmt.Fprintf(tw, "total\t%d\n", summary.Total)
	_ = tw.Flush()
	if summary.NextExpiry != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "next expiry: %d on %s\n", summary.NextExpiring, summary.NextExpiry.Format(time.RFC3339))
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Server.LogLevel)
	return cfg, log, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func withLedger(cmd *cobra.Command, fn func(ctx context.Context, ledger *app.App, cfg config.Config) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn("closing backends", "error", err)
		}
	}()
	return fn(requestcontext.WithTime(ctx, time.Now().UTC()), ledger, cfg)
}
