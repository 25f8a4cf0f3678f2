package cmd

import (
	"fmt"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmorganca/ollama2gguf/envconfig"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if example, _ := cmd.Flags().GetBool("example"); example {
				fmt.Fprint(cmd.OutOrStdout(), envconfig.GenerateExampleConfig())
				return nil
			}

			vars := envconfig.AsMap()
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			slices.Sort(keys)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"VARIABLE", "VALUE", "DESCRIPTION"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			for _, k := range keys {
				v := vars[k]
				table.Append([]string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Bool("example", false, "print an example config file")
	return cmd
}
