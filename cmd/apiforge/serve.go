package main

import (
	"fmt"
	"os"

	"github.com/artpar/apiforge/bootstrap"
	"github.com/artpar/apiforge/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the apiforge server.

The server will:
  - Load configuration from apiforge.yaml (or --config)
  - Or load configuration from APIFORGE_* environment variables
  - Connect to the database and migrate it to the schema
  - Serve the synthesized API, its OpenAPI document and Swagger UI
  - Reload the schema on change when schema.watch is set

Environment variables (for container deployments):
  APIFORGE_SCHEMA_PATH      - Schema document (required)
  APIFORGE_DATABASE_DRIVER  - sqlite or postgres (default: sqlite)
  APIFORGE_DATABASE_DSN     - Database DSN (default: apiforge.db)
  APIFORGE_SERVER_PORT      - Server port (default: 1111)
  APIFORGE_AUTH_MODE        - jwt, header or none (default: none)
  APIFORGE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  apiforge serve
  apiforge serve --config /etc/apiforge/config.yaml

  # Container (env vars only):
  APIFORGE_SCHEMA_PATH=/schema.yaml apiforge serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	// No configuration at all
	if !hasConfigFile && !config.HasEnvConfig() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "No configuration found.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Option 1: Create %s with at least schema.path\n", cfgFile)
		fmt.Fprintln(out, "Option 2: Set APIFORGE_SCHEMA_PATH environment variable")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Example (env vars):")
		fmt.Fprintln(out, "  APIFORGE_SCHEMA_PATH=schema.yaml apiforge serve")
		return nil
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Version: version})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(cmd.Context())
}
