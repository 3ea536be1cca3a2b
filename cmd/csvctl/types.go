package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkcsv/internal/core"
)

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the record types and their fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printTypes(cmd, core.All())
			return nil
		},
	}
}

func printTypes(cmd *cobra.Command, types []*core.TypeDescriptor) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, desc := range types {
		fmt.Fprintf(tw, "%s\ttable=%s\tkey=%s\n", desc.Name, desc.Table, orDash(desc.KeyField))
		for _, f := range desc.FieldSpecs {
			flags := []string{f.Type.String()}
			if f.Required {
				flags = append(flags, "required")
			}
			if f.RefType != "" {
				flags = append(flags, "-> "+f.RefType)
			}
			if len(f.EnumValues) > 0 {
				flags = append(flags, strings.Join(f.EnumValues, "|"))
			}
			fmt.Fprintf(tw, "  %s\t%s\t\n", f.Name, strings.Join(flags, " "))
		}
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
