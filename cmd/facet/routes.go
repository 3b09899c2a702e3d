package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/artpar/facet/bootstrap"
	"github.com/artpar/facet/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Long: `Bind every configured resource and composite without listening and
print the resulting route table.

Examples:
  facet routes
  facet routes --json`,
	RunE: runRoutes,
}

var routesJSON bool

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "output as JSON")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	// Binding must not touch a real database file.
	cfg.Database.Driver = config.DriverMemory

	logger := zerolog.Nop()
	app, err := bootstrap.New(bootstrap.Options{Config: cfg, Logger: &logger})
	if err != nil {
		return err
	}
	defer app.Shutdown()

	entries := app.Routes()
	out := cmd.OutOrStdout()

	if routesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERB\tPATH\tRESOURCE\tEVENT")
	fmt.Fprintln(w, "----\t----\t--------\t-----")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Verb, e.Path, e.Owner, e.Route.Event)
	}
	return w.Flush()
}
