package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/threatmaps/refresher/pkg/app"
	"github.com/threatmaps/refresher/pkg/config"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the refresher service",
	Long:  `Starts the HTTP API, the metrics server, and the background refresh scheduler.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return err
	}

	if level, err := logrus.ParseLevel(cfg.Logging); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Configuration loaded")

	application := app.NewApplication(cfg, logger)
	if err := application.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return application.Stop()
}
