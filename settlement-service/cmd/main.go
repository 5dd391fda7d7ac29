package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/studenthub/pkg/logger"
	"github.com/fjod/studenthub/settlement-service/internal/config"
	"github.com/fjod/studenthub/settlement-service/internal/repository"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health server and background workers",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
	}
	root := &cobra.Command{
		Use:           "settlement",
		Short:         "Marketplace payment settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(
		serve,
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate() },
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Run one receipt confirmation pass and one product reconciliation pass, then exit",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runReconcile(cmd.Context()) },
		},
	)
	return root
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.ServiceName, cfg.LogLevel)

	creds := credentials(cfg)
	repo, err := repository.NewPostgresRepository(creds)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return nil
}

func runReconcile(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(orBackground(ctx), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.scheduler.Tick(ctx)
	if err != nil {
		return err
	}
	resolved, err := a.ledger.ReconcileProducts(ctx)
	if err != nil {
		return err
	}
	log.Info("reconcile pass finished",
		"receipts_confirmed", res.Confirmed,
		"reconciliations_resolved", resolved)
	return nil
}

func credentials(cfg *config.Config) *repository.Credentials {
	return &repository.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
