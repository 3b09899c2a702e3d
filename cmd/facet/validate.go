package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/artpar/facet/adapters/sqlite"
	"github.com/artpar/facet/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the facet configuration file.

Checks:
  - YAML syntax is valid
  - Resources, composites and policies are consistent
  - Database is reachable and migrated (optional)

Examples:
  facet validate
  facet validate --check-database --config /etc/facet/facet.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "open and migrate the sqlite database")
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	summarize(out, cfg)

	if validateCheckDatabase && cfg.Database.Driver == config.DriverSQLite {
		if err := checkDatabase(cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database ready\n", crossMark)
			return fmt.Errorf("database check: %w", err)
		}
		fmt.Fprintf(out, "  %s Database ready\n", checkMark)
	}

	fmt.Fprintln(out, "\nConfiguration is valid.")
	return nil
}

func summarize(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "  %s Router: %s on %s\n", checkMark, cfg.Server.Router, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Database: %s %s\n", checkMark, cfg.Database.Driver, cfg.Database.DSN)
	fmt.Fprintf(out, "  %s Resources: %d\n", checkMark, len(cfg.Resources))
	fmt.Fprintf(out, "  %s Composites: %d\n", checkMark, len(cfg.Composites))
	if cfg.Access.Enabled {
		fmt.Fprintf(out, "  %s Access policies: %d\n", checkMark, len(cfg.Access.Policies))
	}
}

func checkDatabase(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return db.HealthCheck(ctx)
}
