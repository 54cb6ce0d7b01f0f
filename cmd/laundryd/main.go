package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"laundry-branch-backend/config"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "laundryd ", log.LstdFlags)

	if err := rootCmd(logger).Execute(); err != nil {
		logger.Fatalf("command failed: %v", err)
	}
}

func rootCmd(logger *log.Logger) *cobra.Command {
	var configPath string

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Printf("configuration loaded successfully from %s", configPath)
		return cfg, nil
	}

	serveCommand := serveCmd(logger, loadConfig)
	cmd := &cobra.Command{
		Use:           "laundryd",
		Short:         "Laundry branch machine scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCommand.RunE,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the YAML or TOML config file")
	cmd.AddCommand(serveCommand, migrateCmd(logger, loadConfig), sweepCmd(logger, loadConfig))
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yaml" // Default path for local development
}
