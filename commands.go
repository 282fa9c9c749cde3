package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wablast/blast-core/app/services"
	"github.com/wablast/blast-core/config"
	"github.com/wablast/blast-core/migrations"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "blast-core",
		Short:        "Wallet, campaign and dispatch core for WhatsApp blasts",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(),
		newReconcileCommand(),
		newStaleCampaignsCommand(),
		newTokenCommand(),
	)
	return root
}

// withApplication loads config, builds the logger and the application, and releases
// everything once fn returns.
func withApplication(fn func(ctx context.Context, app *Application) error) error {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	app, err := initializeApplication(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, app)
}

func newServeCommand() *cobra.Command {
	var withDispatcher bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *Application) error {
				cfg := app.config
				r := app.newRouter()

				if withDispatcher && cfg.Dispatcher.Enabled {
					stopDispatcher := app.dispatcher.Start(ctx)
					defer stopDispatcher()
				}

				errCh := make(chan error, 1)
				go func() {
					errCh <- r.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
				}()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				app.logger.Info("Shutting down gracefully")
				timeout := cfg.Server.ShutdownTimeout
				if timeout <= 0 {
					timeout = 30 * time.Second
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := r.Shutdown(shutdownCtx); err != nil {
					app.logger.Error("Server shutdown failed", zap.Error(err))
					return err
				}
				app.logger.Info("Server stopped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withDispatcher, "with-dispatcher", true, "also run the campaign dispatcher in this process")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the campaign dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *Application) error {
				stop := app.dispatcher.Start(ctx)
				<-ctx.Done()
				stop()
				return nil
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProductionConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := newLogger(cfg.Logging)
			defer func() { _ = logger.Sync() }()

			db, err := migrations.Open(cfg.Database.DSN())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrations.Apply(context.Background(), db, logger)
			if err != nil {
				return err
			}
			logger.Info("Migrations complete", zap.Int("applied", applied))
			return nil
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile KLIEN_ID",
		Short: "Replay a wallet's ledger and compare it with the stored balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			klienID, err := parseKlienID(args[0])
			if err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *Application) error {
				report, err := app.ledger.Reconcile(ctx, klienID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				if !report.Consistent {
					return fmt.Errorf("wallet of klien %d is inconsistent: %v", klienID, report.Mismatches)
				}
				return nil
			})
		},
	}
}

func newStaleCampaignsCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "stale-campaigns",
		Short: "List running campaigns without recent dispatch activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *Application) error {
				stale, err := app.campaigns.StaleRunning(ctx, olderThan)
				if err != nil {
					return err
				}
				return printJSON(cmd, stale)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "minimum time since the last dispatch")
	return cmd
}

// newTokenCommand mints actor tokens for operators; it needs only the JWT settings
func newTokenCommand() *cobra.Command {
	var (
		klienID uint
		admin   bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an actor token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadProductionConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			tokens, err := services.NewTokenService(cfg.JWT)
			if err != nil {
				return err
			}
			role := services.RoleTenant
			if admin {
				role = services.RoleAdmin
			}
			token, err := tokens.GenerateToken(klienID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().UintVar(&klienID, "klien", 0, "klien the token acts for")
	cmd.Flags().BoolVar(&admin, "admin", false, "issue an admin token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func parseKlienID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid klien id %q", raw)
	}
	return uint(id), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
