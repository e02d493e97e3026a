package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/application"
	"github.com/JonMunkholm/crmport/internal/config"
	"github.com/JonMunkholm/crmport/internal/logging"
)

// globalFlags override the matching environment variables.
type globalFlags struct {
	driver   string
	dsn      string
	entities string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "crmport",
		Short: "Import and export CRM deals, contacts, leads and meetings",
		Long: `crmport moves CRM records between CSV/XLSX files and the store.

Connection settings come from the environment (DB_DRIVER, DATABASE_URL, ...)
or a .env file in the working directory. Flags take precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return flags.apply()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.driver, "driver", "", "store driver: memory, postgres, sqlite or mysql")
	cmd.PersistentFlags().StringVar(&flags.dsn, "dsn", "", "store connection string")
	cmd.PersistentFlags().StringVar(&flags.entities, "entities", "", "entity config YAML replacing the built-in table")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newImportCmd(),
		newExportCmd(),
		newEntitiesCmd(),
		newWorkerCmd(),
		newResetCmd(),
	)
	return cmd
}

func (f globalFlags) apply() error {
	for env, v := range map[string]string{
		"DB_DRIVER":          f.driver,
		"DATABASE_URL":       f.dsn,
		"ENTITY_CONFIG_FILE": f.entities,
		"LOG_LEVEL":          f.logLevel,
	} {
		if v == "" {
			continue
		}
		if err := os.Setenv(env, v); err != nil {
			return fmt.Errorf("set %s: %w", env, err)
		}
	}
	return nil
}

// loadApp reads configuration and opens the store.
func loadApp(ctx context.Context) (*application.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return application.New(ctx, cfg)
}
