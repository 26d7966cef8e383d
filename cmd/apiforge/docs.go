package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs [schema]",
	Short: "Print the OpenAPI document of a schema",
	Long: `Generate the OpenAPI 3 document the server would publish for a schema.

Examples:
  apiforge docs schema.yaml
  apiforge docs schema.yaml --output openapi.json --title "Shop API"
  apiforge docs --server https://shop.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDocs,
}

var (
	docsOutput  string
	docsPrefix  string
	docsTitle   string
	docsVersion string
	docsServer  string
)

func init() {
	rootCmd.AddCommand(docsCmd)

	docsCmd.Flags().StringVarP(&docsOutput, "output", "o", "", "write to file instead of stdout")
	docsCmd.Flags().StringVar(&docsPrefix, "prefix", "/api", "API prefix")
	docsCmd.Flags().StringVar(&docsTitle, "title", "", "API title (default: schema name)")
	docsCmd.Flags().StringVar(&docsVersion, "api-version", "", "API version (default: schema version)")
	docsCmd.Flags().StringVar(&docsServer, "server", "", "base URL listed as the document's server")
}

func runDocs(cmd *cobra.Command, args []string) error {
	path, err := schemaPath(args)
	if err != nil {
		return err
	}
	snap, err := compileSchema(path, schemaOptions{prefix: docsPrefix, title: docsTitle, version: docsVersion})
	if err != nil {
		printSchemaError(cmd.ErrOrStderr(), err)
		return fmt.Errorf("schema invalid")
	}

	spec := snap.Spec
	if docsServer != "" {
		spec = spec.WithServer(docsServer)
	}
	data, err := spec.ToJSON()
	if err != nil {
		return fmt.Errorf("encode openapi: %w", err)
	}

	if docsOutput == "" {
		_, err := cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(docsOutput, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", docsOutput, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d operations)\n", docsOutput, snap.Operations.Len())
	return nil
}
