package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelpress/pixelpress/adapters/sqlite"
	"github.com/pixelpress/pixelpress/config"
	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/quota"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage pixelpress API keys.

Each tenant can have multiple API keys. A key carries its plan tier,
monthly quota counters and purchased credit balance.

Examples:
  pixelpress keys list
  pixelpress keys create --tenant=acme --plan=pro
  pixelpress keys create --tenant=acme --plan=free --sandbox
  pixelpress keys revoke key_abc123
  pixelpress keys topup key_abc123 --credits=1000`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysTopupCmd = &cobra.Command{
	Use:   "topup <key-id>",
	Short: "Add purchased credits to a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysTopup,
}

var (
	keyTenantID string
	keyPlan     string
	keyName     string
	keySandbox  bool
	keyCredits  int64
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysTopupCmd)

	keysCreateCmd.Flags().StringVar(&keyTenantID, "tenant", "", "tenant ID (required)")
	keysCreateCmd.Flags().StringVar(&keyPlan, "plan", "free", "plan tier")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.Flags().BoolVar(&keySandbox, "sandbox", false, "create a sandbox (sk_test_) key")
	keysCreateCmd.MarkFlagRequired("tenant")

	keysTopupCmd.Flags().Int64Var(&keyCredits, "credits", 0, "credits to add (required)")
	keysTopupCmd.MarkFlagRequired("credits")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)
	creds, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(creds) == 0 {
		fmt.Println("No API keys found.")
		fmt.Println()
		fmt.Println("Create a key with: pixelpress keys create --tenant=<tenant-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tTENANT\tPLAN\tUSED/LIMIT\tCREDITS\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t------\t----\t----------\t-------\t------\t-------")
	for _, c := range creds {
		status := "active"
		if !c.Active {
			status = "revoked"
		}
		if c.Sandbox {
			status += " (sandbox)"
		}
		limit := fmt.Sprintf("%d", c.MonthlyLimit)
		if c.MonthlyLimit < 0 {
			limit = "unlimited"
		}
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%d/%s\t%d\t%s\t%s\n",
			c.ID, c.Prefix, c.TenantID, c.PlanTier,
			c.MonthlyUsed, limit, c.PurchasedCredits,
			status, c.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	db, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	catalog := cfg.Catalog()
	limits, err := catalog.LimitsFor(keyPlan)
	if err != nil {
		return fmt.Errorf("unknown plan %q, known tiers: %v", keyPlan, catalog.Tiers())
	}

	rawKey, cred := credential.Generate(keyTenantID, keyPlan, keySandbox)
	cred.Name = keyName
	cred.MonthlyLimit = limits.MonthlyLimit
	cred.ResetAt = quota.NextReset(time.Now().UTC())

	store := sqlite.NewCredentialStore(db)
	if err := store.Create(context.Background(), cred); err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Println("API key created.")
	fmt.Println()
	fmt.Printf("  ID:     %s\n", cred.ID)
	fmt.Printf("  Tenant: %s\n", cred.TenantID)
	fmt.Printf("  Plan:   %s\n", cred.PlanTier)
	fmt.Printf("  Key:    %s\n", rawKey)
	fmt.Println()
	fmt.Println("Store this key securely. It cannot be shown again.")
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)
	if err := store.SetActive(context.Background(), args[0], false); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("Key %s revoked.\n", args[0])
	return nil
}

func runKeysTopup(cmd *cobra.Command, args []string) error {
	if keyCredits <= 0 {
		return fmt.Errorf("--credits must be positive")
	}

	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)
	if err := store.AddPurchasedCredits(context.Background(), args[0], keyCredits); err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}

	c, err := store.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to reload key: %w", err)
	}

	fmt.Printf("Added %d credits to %s. Balance: %d\n", keyCredits, args[0], c.PurchasedCredits)
	return nil
}

// openDatabase loads the config and opens the configured database.
func openDatabase() (*sqlite.DB, *config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, cfg, nil
}
