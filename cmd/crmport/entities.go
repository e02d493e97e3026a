package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/core/entities"
)

func newEntitiesCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "entities [name]",
		Short: "List entities or show one entity's fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := entities.LoadFile(file); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				fmt.Fprintln(w, "ENTITY\tTABLE\tFIELDS\tUPDATE ON DUPLICATE")
				for _, cfg := range core.All() {
					fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", cfg.Name, cfg.Table, len(cfg.Fields), cfg.UpdateOnDuplicate)
				}
				return nil
			}

			cfg, ok := core.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrUnknownEntity, args[0])
			}
			fmt.Fprintln(w, "FIELD\tTYPE\tREQUIRED\tSYNONYMS")
			for _, f := range cfg.Fields {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", f.Name, f.Type, f.Required, strings.Join(f.Synonyms, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "entity config YAML to inspect instead of the built-in table")
	return cmd
}
