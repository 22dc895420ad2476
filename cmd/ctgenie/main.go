package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctgenie-cds-server/internal/app"
	"github.com/ctgenie-cds-server/internal/config"
	"github.com/ctgenie-cds-server/internal/logging"
)

var configFile string

func main() {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "ctgenie",
		Short:        "CTG decision support: prediction, similar cases and explanations",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default searches ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(similarCmd())
	rootCmd.AddCommand(explainCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// buildApp loads configuration and wires the application. When quietStdout is
// set, logs go to stderr so stdout carries only command output.
func buildApp(quietStdout bool) (*app.App, error) {
	cm, err := config.NewManagerWithFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := cm.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logCfg := cm.GetConfig().Logging
	if quietStdout {
		logCfg = logging.ForStdio(logCfg)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return app.Build(cm, logger, app.Options{})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, gracefully shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
