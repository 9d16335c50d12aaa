package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"postpurchase-api/internal/analytics"
	"postpurchase-api/internal/config"
	"postpurchase-api/internal/database"
	"postpurchase-api/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configFile string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "postpurchase-api",
		Short:         "Post-purchase upsell API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML config file (environment only when empty)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newRepairCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	opts := []logger.Option{
		logger.WithLevel(logger.ParseLevel(cfg.Log.Level)),
		logger.WithEnvironment(cfg.Environment, cfg.Tracing.ServiceName),
		logger.WithAttr(slog.String("version", version)),
		logger.WithContextExtractors(logger.RequestID),
	}
	// An explicit format overrides the environment default.
	if cfg.Log.Format != "" {
		format, err := logger.ParseFormat(cfg.Log.Format)
		if err != nil {
			return err
		}
		opts = append(opts, logger.WithFormat(format))
	}

	a.cfg = cfg
	a.log = logger.New(opts...)
	slog.SetDefault(a.log)
	return nil
}

func (a *app) openDB(ctx context.Context, skipMigrations bool) (*database.DB, error) {
	db, err := database.NewDB(ctx, a.cfg.Database.Path, database.Options{
		BusyTimeout:    a.cfg.Database.BusyTimeout,
		SkipMigrations: skipMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx, true)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			v, err := db.MigrationVersion(ctx)
			if err != nil {
				return err
			}
			a.log.Info("database migrated",
				slog.String("path", a.cfg.Database.Path),
				slog.Int64("version", v))
			return nil
		},
	}
}

func newRepairCmd(a *app) *cobra.Command {
	var shop string
	cmd := &cobra.Command{
		Use:   "repair-rates",
		Short: "Recompute stored conversion rates from their counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx, false)
			if err != nil {
				return err
			}
			defer db.Close()

			recorder := analytics.NewRecorder(db, analytics.WithLogger(a.log))
			n, err := recorder.RepairConversionRates(ctx, shop)
			if err != nil {
				return err
			}
			a.log.Info("conversion rate repair finished",
				slog.String("shop", shop),
				slog.Int("updated", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&shop, "shop", "", "Only repair this shop (all shops when empty)")
	return cmd
}
