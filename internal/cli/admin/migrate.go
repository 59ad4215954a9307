package admin

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seerstack/logseer/internal/config"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending database migrations and report the schema version",
		RunE:  runMigrate,
	}

	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("migrate requires LOGSEER_DATABASE_URL to be set")
	}

	return runMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
}
