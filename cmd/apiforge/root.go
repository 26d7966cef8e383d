package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiforge",
	Short: "Serve a REST API synthesized from a schema document",
	Long: `apiforge compiles a declarative schema of entities, relationships and
access policies into a live REST API with an OpenAPI description.

Quick start:
  apiforge validate schema.yaml   # Check a schema document
  apiforge routes schema.yaml     # List the synthesized endpoints
  apiforge serve                  # Start the server

Tooling:
  apiforge docs schema.yaml       # Print the OpenAPI document
  apiforge migrate                # Apply the schema to the database
  apiforge token --subject alice  # Issue a development JWT`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "apiforge.yaml", "config file path")
}
