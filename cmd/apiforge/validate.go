package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [schema]",
	Short: "Validate a schema document before deployment",
	Long: `Validate a schema document.

Checks:
  - YAML or JSON syntax is valid
  - Entities, properties and relationships are well formed
  - Relationship targets exist and names do not collide
  - Every synthesized route is unique

Without an argument the schema.path of the configuration is used.

Examples:
  apiforge validate schema.yaml
  apiforge validate --config /etc/apiforge/config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path, err := schemaPath(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Validating %s...\n\n", path)

	// Check file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Schema file exists\n", crossMark)
		return fmt.Errorf("schema file not found: %s", path)
	}
	fmt.Fprintf(out, "  %s Schema file exists\n", checkMark)

	snap, err := compileSchema(path, schemaOptions{})
	if err != nil {
		fmt.Fprintf(out, "  %s Schema valid\n", crossMark)
		printSchemaError(out, err)
		return fmt.Errorf("schema invalid")
	}
	fmt.Fprintf(out, "  %s Schema valid\n", checkMark)

	// Show schema summary
	fmt.Fprintf(out, "  %s Name: %s %s\n", checkMark, snap.Document.Name, snap.Document.Version)
	fmt.Fprintf(out, "  %s Entities: %d\n", checkMark, len(snap.Graph.Entities))
	fmt.Fprintf(out, "  %s Operations: %d\n", checkMark, snap.Operations.Len())
	fmt.Fprintf(out, "  %s Fingerprint: %s\n", checkMark, snap.Fingerprint)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Schema is valid.")
	return nil
}
