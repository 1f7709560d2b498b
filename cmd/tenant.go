package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opsdesk/pkg/config"
	"opsdesk/pkg/secrets"
	"opsdesk/pkg/tenant"
	tenantsqlite "opsdesk/pkg/tenant/sqlite"
)

var tenantSeedFile string

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant configuration records",
}

// seedRecord is one entry of the seed file: a configuration plus an
// optional plaintext secret that gets sealed before storage.
type seedRecord struct {
	tenant.Configuration
	PlaintextSecret string `json:"plaintext_secret,omitempty"`
}

var tenantSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load tenant records from a JSON file into the tenant store",
	Long:  "Reads a JSON array of tenant configurations and upserts them. Plaintext ERP secrets are sealed with the master key before storage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		content, err := os.ReadFile(tenantSeedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}

		var records []seedRecord
		if err := json.Unmarshal(content, &records); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("seed file contains no tenant records")
		}

		var keyring *secrets.Keyring
		for _, record := range records {
			if strings.TrimSpace(record.PlaintextSecret) != "" {
				if keyring, err = secrets.LoadKeyring(); err != nil {
					return fmt.Errorf("seed file carries plaintext secrets: %w", err)
				}
				break
			}
		}

		store, err := tenantsqlite.Open(cfg.Storage.TenantDB)
		if err != nil {
			return fmt.Errorf("open tenant store: %w", err)
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		for _, record := range records {
			tenantCfg := record.Configuration
			if strings.TrimSpace(record.PlaintextSecret) != "" {
				sealed, err := keyring.Seal(record.PlaintextSecret)
				if err != nil {
					return fmt.Errorf("seal credentials for %s: %w", tenantCfg.ID, err)
				}
				tenantCfg.ERP.Credentials = sealed
			}
			if tenantCfg.UpdatedAt.IsZero() {
				tenantCfg.UpdatedAt = time.Now().UTC()
			}

			if err := store.Put(ctx, tenantCfg); err != nil {
				return fmt.Errorf("store tenant %s: %w", tenantCfg.ID, err)
			}
			fmt.Printf("seeded tenant %s (%s)\n", tenantCfg.ID, tenantCfg.Name)
		}

		return nil
	},
}

func init() {
	tenantSeedCmd.Flags().StringVar(&tenantSeedFile, "file", "tenants.json", "path to the tenant seed JSON file")
	tenantCmd.AddCommand(tenantSeedCmd)
	rootCmd.AddCommand(tenantCmd)
}
