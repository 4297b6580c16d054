package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"whatsapp-relay/internal/httpserver"
	"whatsapp-relay/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay WhatsApp conversations to a generative model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment, if present")

	root.AddCommand(
		newServeCmd(&envFile),
		newLambdaCmd(&envFile),
		newMigrateCmd(&envFile),
	)
	return root
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := httpserver.New(httpserver.Config{
				Addr:            a.cfg.Addr(),
				AllowedOrigin:   a.cfg.AllowedOrigin,
				ShutdownTimeout: a.cfg.ShutdownTimeout,
				Release:         true,
			}, a.handler, a.store, a.log)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func newLambdaCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve the webhook as an API Gateway Lambda function",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			lambda.Start(a.handler.Handle)
			return nil
		},
	}
}

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := loadConfig(ctx, *envFile)
			if err != nil {
				return err
			}
			cfg, log := b.cfg, b.log
			if cfg.DatabaseURL == "" {
				return errors.New("migrate: DATABASE_URL is required")
			}

			db, err := openPostgres(cfg, log)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repository.AutoMigrate(ctx, db); err != nil {
				return err
			}
			log.Info().Msg("schema up to date")
			return nil
		},
	}
}
