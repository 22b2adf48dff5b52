package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/sapcraft/pkg/packet"
	"firestige.xyz/sapcraft/pkg/sap"
)

func newLayersCmd() *cobra.Command {
	var fields, tables bool
	c := &cobra.Command{
		Use:   "layers [name...]",
		Short: "List registered layers and discriminator tables",
		Long: `List the registered layer definitions. With names, or with --fields,
every field is printed with its wire type. --tables lists the discriminator
tables and the keys bound in each.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			if tables {
				return listTables(w)
			}
			defs := packet.Definitions()
			if len(args) > 0 {
				defs = defs[:0]
				for _, name := range args {
					def, err := sap.Lookup(name)
					if err != nil {
						return err
					}
					defs = append(defs, def)
				}
				fields = true
			}
			for _, def := range defs {
				listDefinition(w, def, fields)
			}
			if len(args) == 0 {
				names := make([]string, 0)
				for name := range sap.Stacks() {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(w, "%s\tNI framed\n", name)
				}
			}
			return nil
		},
	}
	c.Flags().BoolVar(&fields, "fields", false, "print fields")
	c.Flags().BoolVar(&tables, "tables", false, "print discriminator tables")
	return c
}

func listDefinition(w *tabwriter.Writer, def *packet.Definition, fields bool) {
	fmt.Fprintf(w, "%s\t%d field(s)\n", def.Name(), len(def.Fields()))
	if !fields {
		return
	}
	for _, f := range def.Fields() {
		var notes []string
		if f.Length.IsSet() {
			notes = append(notes, "sized")
		}
		if f.Present.IsSet() {
			notes = append(notes, "conditional")
		}
		if f.Derive != nil {
			notes = append(notes, "derived")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Name, f.Type.Name(), strings.Join(notes, ","))
	}
}

func listTables(w *tabwriter.Writer) error {
	for _, t := range packet.Tables() {
		keys := t.Keys()
		fmt.Fprintf(w, "%s\t%d key(s)\n", t.Name(), len(keys))
		for _, k := range keys {
			def, _ := t.Lookup(k)
			fmt.Fprintf(w, "  %#x\t%s\n", k, def.Name())
		}
	}
	return nil
}
