package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/gapura/internal/config"
	"github.com/harun/gapura/pkg/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config, policy, and database",
	Long: `Create the data directory, write a starter config and policy document,
initialize the database schema, and seed the owner profile.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// examplePolicy is the starter policy document. It is deliberately
// restrictive: empty allowlists deny everything until the owner fills
// them in.
const examplePolicy = `timezone: America/Chicago

execution:
  default_mode: read_only
  approvals_required_for:
    - execute_gated

github:
  allowed_repos: []
  draft_only: true
  allow_merge: false
  allow_push_to_main: false

sonos:
  allowed_rooms: []
  max_volume: 60
  quiet_hours:
    enabled: true
    start: "22:00"
    end: "07:00"
`

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := loader.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("Config: %s\n", loader.GetConfigPath())

	if _, err := os.Stat(cfg.PolicyPath); os.IsNotExist(err) {
		if err := os.WriteFile(cfg.PolicyPath, []byte(examplePolicy), 0600); err != nil {
			return fmt.Errorf("failed to write policy file: %w", err)
		}
		fmt.Printf("Policy: %s (created)\n", cfg.PolicyPath)
	} else {
		fmt.Printf("Policy: %s (kept)\n", cfg.PolicyPath)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		return store.EnsureProfile(ctx, tx, cfg.Profile.ID, cfg.Profile.DisplayName, cfg.Profile.Timezone)
	})
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n", cfg.Database)
	fmt.Printf("Profile: %s\n", cfg.Profile.ID)
	return nil
}
