package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/admin"
	"github.com/JonMunkholm/crmport/internal/core"
)

func newResetCmd() *cobra.Command {
	var (
		all     bool
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "reset [entity...]",
		Short: "Delete every record of the given entities",
		Long: `Reset permanently deletes stored records. Name the entities to clear, or
pass --all. Nothing is deleted without --yes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("name entities or pass --all")
			}
			if !confirm {
				return fmt.Errorf("reset deletes data permanently; rerun with --yes")
			}

			ctx := cmd.Context()
			app, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			var targets []*core.EntityConfig
			if all {
				targets = core.All()
			}
			for _, name := range args {
				cfg, ok := core.Get(name)
				if !ok {
					return fmt.Errorf("%w: %s", core.ErrUnknownEntity, name)
				}
				targets = append(targets, cfg)
			}

			removed, err := admin.Reset(ctx, app.Store, targets)
			for _, cfg := range targets {
				if n, ok := removed[cfg.Name]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d removed\n", cfg.Name, n)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every registered entity")
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the deletion")
	return cmd
}
