package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes [schema]",
	Short: "List the endpoints synthesized from a schema",
	Long: `List every endpoint a schema synthesizes with the access it requires.

Examples:
  apiforge routes schema.yaml
  apiforge routes schema.yaml --prefix /v1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRoutes,
}

var routesPrefix string

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVar(&routesPrefix, "prefix", "/api", "API prefix")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	path, err := schemaPath(args)
	if err != nil {
		return err
	}
	snap, err := compileSchema(path, schemaOptions{prefix: routesPrefix})
	if err != nil {
		printSchemaError(cmd.ErrOrStderr(), err)
		return fmt.Errorf("schema invalid")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tOPERATION\tACCESS")
	for _, d := range snap.Operations.Operations {
		access := d.Entity.Policy.Requirement(d.Operation).String()
		fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\n", d.Method, routesPrefix, d.Path, d.ID, access)
	}
	return w.Flush()
}
