package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pixelpress/pixelpress/config"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect the plan catalog",
	Long: `Inspect the configured plan catalog.

Plans define file size and pixel limits, allowed formats, the per-request
operation budget and the monthly quota. They are configured in the config
file and hot-reloaded while the server runs.

Examples:
  pixelpress plans list`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plan tiers",
	RunE:  runPlansList,
}

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansListCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tMAX SIZE\tMAX PIXELS\tOPS\tMONTHLY\tRATE\tFORMATS")
	fmt.Fprintln(w, "----\t--------\t----------\t---\t-------\t----\t-------")
	for _, p := range cfg.Plans {
		monthly := fmt.Sprintf("%d", p.MonthlyLimit)
		if p.MonthlyLimit < 0 {
			monthly = "unlimited"
		}
		fmt.Fprintf(w, "%s\t%dMB\t%dMP\t%d\t%s\t%d/%s\t%v\n",
			p.Tier, p.MaxFileSize>>20, p.MaxPixels/1_000_000,
			p.MaxOperations, monthly, p.RateLimit, p.RateWindow,
			p.AllowedFormats)
	}
	return w.Flush()
}
