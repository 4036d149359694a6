package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/logger"
	"github.com/xaenox/midas/internal/server"
	"github.com/xaenox/midas/pkg/config"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envOnly    bool
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			envErr := godotenv.Load(envFile)

			cfg, err := config.Load(configPath, envOnly)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			if envErr != nil {
				log.Debug("no env file loaded", zap.String("path", envFile), zap.Error(envErr))
			}

			srv, err := server.New(cfg, log)
			if err != nil {
				log.Error("server init failed", zap.Error(err))
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil {
				log.Error("server stopped", zap.Error(err))
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	cmd.Flags().BoolVar(&envOnly, "env-only", false, "read configuration from the environment only")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}
