package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixelpress/pixelpress/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the pixelpress API server.

The server loads configuration from the config file when present,
otherwise from PIXELPRESS_* environment variables. When a config file
is used, plan and sandbox changes are hot-reloaded on file writes or
SIGHUP; the listen address, database and gate capacity need a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	return app.Run()
}
