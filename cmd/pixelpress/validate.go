package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pixelpress/pixelpress/adapters/sqlite"
	"github.com/pixelpress/pixelpress/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the pixelpress configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present and within bounds
  - Plan tiers are unique
  - Database is writable (optional)

Examples:
  pixelpress validate
  pixelpress validate --config /etc/pixelpress/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)
	fmt.Printf("  %s Plans: %d tiers\n", checkMark, len(cfg.Plans))
	fmt.Printf("  %s Gate capacity: %d\n", checkMark, cfg.Gate.Capacity)
	fmt.Printf("  %s Quota enforcement: %s\n", checkMark, cfg.Quota.Enforce)

	if validateCheckDatabase {
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Printf("  %s Database writable\n", checkMark)
	}

	fmt.Println()
	fmt.Println("Configuration valid.")
	return nil
}
