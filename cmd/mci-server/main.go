package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mci/mci/internal/config"
	"github.com/mci/mci/internal/domain/feed"
	"github.com/mci/mci/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mci-server",
		Short:        "Patient registry with duplicate detection",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(markerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the duplicate-detection feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to schema %s.\n", count, cfg.DBSchema)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func feedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Drive the duplicate-detection feed by hand",
	}

	tick := &cobra.Command{
		Use:   "tick",
		Short: "Process pending update-log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				a, err := newApp(cfg, pgStores(pool), newLogger(cfg))
				if err != nil {
					return err
				}
				defer a.Close()

				n := 0
				for limit <= 0 || n < limit {
					processed, err := a.feed.ProcessNextFeedEntry(ctx)
					if err != nil {
						return fmt.Errorf("after %d entries: %w", n, err)
					}
					if !processed {
						break
					}
					n++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d entr(ies).\n", n)
				return nil
			})
		},
	}
	tick.Flags().Int("limit", 1, "Maximum entries to process; 0 drains the log")
	cmd.AddCommand(tick)

	return cmd
}

func markerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Inspect or move a feed consumer's marker",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				marker, ok, err := feed.NewMarkerRepo(pool).Read(ctx, cfg.FeedConsumer)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no marker, the feed starts at the beginning of the log\n", cfg.FeedConsumer)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.FeedConsumer, marker)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <event-id>",
		Short: "Move the marker, e.g. past a malformed entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			marker, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id: %w", err)
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				if err := feed.NewMarkerRepo(pool).Write(ctx, cfg.FeedConsumer, marker); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: marker set to %s\n", cfg.FeedConsumer, marker)
				return nil
			})
		},
	})

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}
