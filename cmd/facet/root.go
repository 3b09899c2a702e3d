package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "Config-driven REST resources over a document store",
	Long: `facet serves CRUD routes for the resources declared in its YAML
configuration, backed by an in-memory or SQLite document store.

Quick start:
  facet validate    # Check the configuration
  facet routes      # Print the route table
  facet serve       # Start the server`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "facet.yaml", "config file path")
}
