package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pixelpress",
	Short: "Multi-tenant image optimization API with quota enforcement",
	Long: `Pixelpress is a self-hosted image optimization API.

It compresses, resizes and converts images behind a multi-tenant
admission layer: API keys, plan quotas with purchased credits, a
bounded processing gate and an isolated sandbox mode.

Quick start:
  pixelpress serve                 # Start the API server
  pixelpress keys create --tenant=acme --plan=pro

Management:
  pixelpress keys      # Manage API keys
  pixelpress plans     # Inspect the plan catalog
  pixelpress validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pixelpress.yaml", "config file path")
}
