package main

import (
	"fmt"

	"github.com/artpar/facet/bootstrap"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the facet HTTP server.

The server will:
  - Load configuration from facet.yaml (or --config)
  - Open the configured document store
  - Bind every resource and composite route
  - Reload access policies when the file changes or on SIGHUP

Environment variables override the file:
  FACET_SERVER_HOST, FACET_SERVER_PORT, FACET_SERVER_ROUTER
  FACET_DATABASE_DRIVER, FACET_DATABASE_DSN
  FACET_ACCESS_ENABLED, FACET_LOG_LEVEL, FACET_LOG_FORMAT

Examples:
  facet serve
  facet serve --config /etc/facet/facet.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{ConfigPath: cfgFile, Version: version})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	return app.Run()
}
