package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/blob"
	"github.com/JonMunkholm/crmport/internal/core"
)

func newExportCmd() *cobra.Command {
	var (
		entity  string
		scope   string
		ids     []string
		filters map[string]string
		format  string
		output  string
		archive bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an entity's records to CSV or XLSX",
		Long: `Export writes the entity's records in export column order.

Scopes:
  all       every record (default)
  selected  only the records named by --id
  filtered  records matching every --filter field=value

The file is written to --output, or to a file named
{entity}-{scope}-{date}.{format} in the working directory. With --archive the
file is uploaded to the export bucket and a download link is printed.`,
		Example: `  crmport export --entity deals
  crmport export --entity contacts --scope selected --id c1 --id c2
  crmport export --entity deals --scope filtered --filter stage=Won --format xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := core.ParseExportScope(scope)
			if err != nil {
				return err
			}
			f, err := core.ParseExportFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			req := core.ExportRequest{Scope: s, IDs: trimIDs(ids), Filters: filters, Format: f}

			if archive {
				if app.Archive == nil {
					return fmt.Errorf("%s", core.FormatUserError(blob.ErrNotConfigured))
				}
				url, file, err := app.Service.ExportTo(ctx, entity, req, app.Archive)
				if err != nil {
					return fmt.Errorf("%s", core.FormatUserError(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n%s\n", file.FileName, file.Rows, url)
				return nil
			}

			file, err := app.Service.Export(ctx, entity, req)
			if err != nil {
				return fmt.Errorf("%s", core.FormatUserError(err))
			}

			path := output
			if path == "" {
				path = file.FileName
			}
			if path == "-" {
				_, err = cmd.OutOrStdout().Write(file.Content)
				return err
			}
			if err := os.WriteFile(path, file.Content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", file.Rows, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&entity, "entity", "e", core.DefaultEntity, "entity to export")
	cmd.Flags().StringVar(&scope, "scope", string(core.ScopeAll), "all, selected or filtered")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "record id for --scope selected (repeatable)")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "field=value for --scope filtered (repeatable)")
	cmd.Flags().StringVar(&format, "format", string(core.FormatCSV), "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, - for stdout")
	cmd.Flags().BoolVar(&archive, "archive", false, "upload to the export bucket and print a link")

	return cmd
}

func trimIDs(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
