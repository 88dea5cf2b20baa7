package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/medbank/internal/config"
	"github.com/conorfennell/medbank/internal/logging"
	"github.com/conorfennell/medbank/internal/storage"
	"github.com/conorfennell/medbank/internal/sync"
	"github.com/conorfennell/medbank/internal/web"
)

const defaultConfigFile = "medbank.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "medbank",
		Short:        "Practice-session assembly and spaced-repetition service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (default "+defaultConfigFile+" when present)")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded into the environment")
	config.Flags(root.PersistentFlags())

	source := &cobra.Command{Use: "source", Short: "Manage question-bank sources"}
	source.AddCommand(newSourceAddCmd(), newSourceListCmd())

	root.AddCommand(newServeCmd(), newMigrateCmd(), newSyncCmd(), source)
	return root
}

// setup loads the configuration, installs the logger and opens the database.
func setup(cmd *cobra.Command) (*config.Config, *storage.DB, error) {
	file, _ := cmd.Flags().GetString("config")
	if file == "" && config.Exists(defaultConfigFile) {
		file = defaultConfigFile
	}
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.Options{File: file, EnvFile: envFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Database opened successfully", "driver", cfg.DB.Driver)
	return cfg, db, nil
}

func newSyncer(cfg *config.Config, db *storage.DB) *sync.Syncer {
	return sync.New(db, sync.Options{
		ReposDir:    cfg.Sync.ReposDir,
		Parallelism: cfg.Sync.Parallelism,
		Progress:    os.Stderr,
	})
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			pending, err := db.PendingMigrations(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return fmt.Errorf("database has %d pending migrations (%s); run: medbank migrate", len(pending), strings.Join(pending, ", "))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			syncer := newSyncer(cfg, db)
			if cfg.Sync.Interval > 0 {
				runner, err := sync.NewRunner(syncer, cfg.Sync.Interval)
				if err != nil {
					return err
				}
				runner.Start()
				defer runner.Stop()
				slog.Info("Scheduled source sync", "interval", cfg.Sync.Interval)
			}

			srv := &http.Server{
				Addr: cfg.HTTP.Addr,
				Handler: web.NewServer(db, syncer, web.Options{
					ExcerptRadius: cfg.Search.ExcerptRadius,
					MaxResults:    cfg.Search.MaxResults,
					AdminUsers:    cfg.HTTP.AdminIDs(),
				}),
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Starting server", "addr", cfg.HTTP.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			return nil
		},
	}
	config.ServeFlags(cmd.Flags())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Migrate(cmd.Context())
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Import questions from every registered source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			reports, err := newSyncer(cfg, db).RunSync(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range reports {
				fmt.Fprintf(out, "%s: %d files, %d questions, %d stale, %d errors\n", r.Path, r.Files, r.Questions, r.Stale, len(r.Errors))
				for _, e := range r.Errors {
					fmt.Fprintf(out, "- %s\n", e)
				}
				failed += len(r.Errors)
			}
			if failed > 0 {
				return fmt.Errorf("sync finished with %d errors", failed)
			}
			return nil
		},
	}
}

func newSourceAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path/or/url.git>",
		Short: "Register a local directory or git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := newSyncer(cfg, db).AddSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source %d: %s\n", id, args[0])
			return nil
		},
	}
}

func newSourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sources, err := db.GetAllSources(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sources {
				scanned := "never"
				if s.LastScanned.Valid {
					scanned = s.LastScanned.Time.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", s.ID, s.Type, s.Path, scanned)
			}
			return nil
		},
	}
}
