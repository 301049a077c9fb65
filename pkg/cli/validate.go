package cli

import (
	"fmt"
	"strings"

	"github.com/getmockd/gqlgateway/pkg/cli/internal/output"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/resolvers"
	"github.com/spf13/cobra"
)

// ValidateResult is the JSON form of the validate command.
type ValidateResult struct {
	Schema        string              `json:"schema"`
	Subscriptions []string            `json:"subscriptions"`
	AbstractTypes map[string][]string `json:"abstractTypes"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-file]",
		Short: "Validate a schema",
		Long: `Parse a schema and check that every union and interface it declares can be
resolved. Without an argument the schema from the configuration is checked,
falling back to the built-in schema.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if root.configFile != "" {
				cfg, err := loadConfig(root, nil)
				if err != nil {
					return err
				}
				path = cfg.Schema.File
			}

			var (
				schema *graphql.Schema
				err    error
				name   = path
			)
			if path == "" {
				name = "built-in"
				schema, err = resolvers.Schema()
			} else {
				schema, err = graphql.ParseSchemaFile(path)
			}
			if err != nil {
				return err
			}
			if err := graphql.NewTypeResolver().ValidateSchema(schema); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			result := ValidateResult{Schema: name, AbstractTypes: map[string][]string{}}
			if sub := schema.AST().Subscription; sub != nil {
				for _, f := range sub.Fields {
					result.Subscriptions = append(result.Subscriptions, f.Name)
				}
			}
			for _, t := range schema.AbstractTypes() {
				result.AbstractTypes[t] = schema.PossibleTypes(t)
			}

			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is valid\n\n", name)
			w := output.Table(cmd.OutOrStdout())
			fmt.Fprintln(w, "ABSTRACT TYPE\tPOSSIBLE TYPES")
			for _, t := range schema.AbstractTypes() {
				fmt.Fprintf(w, "%s\t%s\n", t, strings.Join(result.AbstractTypes[t], ", "))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(result.Subscriptions) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nsubscriptions: %s\n", strings.Join(result.Subscriptions, ", "))
			}
			return nil
		},
	}
}
