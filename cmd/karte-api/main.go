package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ptalab/karte-api/internal/config"
	"github.com/ptalab/karte-api/internal/karte"
	"github.com/ptalab/karte-api/internal/logging"
	"github.com/ptalab/karte-api/internal/migration"
	"github.com/ptalab/karte-api/internal/server"
	"github.com/ptalab/karte-api/internal/tabular"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile       string
	migrateSource string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "karte-api",
		Short: "Student karte backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Decompose the legacy blob sheet into the normalized collections",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context())
		},
	}
	migrateCmd.Flags().StringVar(&migrateSource, "source", "",
		"Backup tab to re-run the migration from (skips the rename step)")
	rootCmd.AddCommand(migrateCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite document path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := tabular.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repository, err := karte.NewRepository(karte.RepositoryConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Repository: repository,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runMigration(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := tabular.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tool, err := migration.NewTool(migration.Config{
		Store:       store,
		IDProvider:  karte.NewUUIDProvider(),
		Logger:      logger,
		SourceTitle: migrateSource,
	})
	if err != nil {
		return err
	}

	report, err := tool.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("migration report",
		zap.Int("students", report.Students),
		zap.Int("lesson_records", report.LessonRecords),
		zap.Int("memo_entries", report.MemoEntries),
		zap.Int("skipped_rows", report.SkippedRows),
		zap.String("backup", report.BackupTitle))
	return nil
}
