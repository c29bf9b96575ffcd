/**
 * `docprocd migrate`: applies the embedded SQL schema to the configured
 * state database. store.Open runs the schema unconditionally and
 * idempotently (CREATE TABLE IF NOT EXISTS), so this subcommand exists for
 * operators who want to provision the database file ahead of `serve`
 * without starting the full process.
 */

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docprocd/docprocd/internal/config"
	"github.com/docprocd/docprocd/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema to the state database",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	s, err := store.Open(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("applying schema to %s: %w", cfg.StateDBPath, err)
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "schema applied to %s\n", cfg.StateDBPath)
	return nil
}
