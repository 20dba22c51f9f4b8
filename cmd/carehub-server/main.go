package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carehub/carehub/internal/config"
	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/domain/inventory"
	"github.com/carehub/carehub/internal/platform/alerts"
	"github.com/carehub/carehub/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "carehub-server",
		Short:        "CareHub household health API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(superadminCmd())
	rootCmd.AddCommand(inventoryCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openPool loads config and connects; callers close the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.NewMigrator(pool, dir, cfg.DBSchema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			statuses, err := db.NewMigrator(pool, dir, cfg.DBSchema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func parseActorArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid actor id %q", s)
	}
	return id, nil
}

func superadminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "superadmin",
		Short: "Grant or revoke the platform superadmin role",
	}

	set := func(granted bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			actorID, err := parseActorArg(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := access.NewEngine(access.NewStore(pool), newLogger(cfg))
			if err := engine.SetSuperadmin(ctx, actorID, granted); err != nil {
				return err
			}
			verb := "revoked from"
			if granted {
				verb = "granted to"
			}
			fmt.Printf("Superadmin %s %s\n", verb, actorID)
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant <actor-id>",
		Short: "Make an actor a superadmin",
		Args:  cobra.ExactArgs(1),
		RunE:  set(true),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <actor-id>",
		Short: "Remove an actor's superadmin role",
		Args:  cobra.ExactArgs(1),
		RunE:  set(false),
	})
	return cmd
}

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inventory maintenance jobs",
	}

	notifyCmd := &cobra.Command{
		Use:   "notify-expiring",
		Short: "Publish alerts for in-stock items about to expire",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			logger := newLogger(cfg)

			publisher, err := alerts.NewSNSPublisher(ctx, cfg.AWSRegion, cfg.ExpiryAlertTopic, logger)
			if err != nil {
				return err
			}
			svc := inventory.NewService(inventory.NewRepo(pool), logger)
			svc.SetAlertPublisher(publisher)

			sent, err := svc.NotifyExpiring(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("Published %d expiry alert(s).\n", sent)
			return nil
		},
	}
	cmd.AddCommand(notifyCmd)
	return cmd
}
