// SmartPlant - plant-care digital twin backend
//
// This is the main entry point for the SmartPlant backend. It ingests
// soil humidity and light readings from plant controllers over MQTT,
// decides when to water or alert the owner, and serves the garden REST
// and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Built per call so tests get fresh flags.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "smartplant",
		Short:         "SmartPlant plant-care backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $SMARTPLANT_CONFIG or "+defaultConfigPath+")")

	load := func() (*config.Config, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newSchemaCmd(load),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the config path from the flag, then
// SMARTPLANT_CONFIG, then the default. A missing default file falls back
// to built-in defaults; a missing explicit file is an error.
func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	if path != "" {
		return config.Load(path)
	}

	cfg, err := config.Load(defaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	return cfg, err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smartplant %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
