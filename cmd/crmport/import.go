package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/queue"
)

func newImportCmd() *cobra.Command {
	var (
		entity  string
		actor   string
		dryRun  bool
		enqueue bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a CSV or XLSX file into an entity",
		Long: `Import reads the file, maps its header row onto the entity's fields and
inserts or updates one record per row. Rows that fail validation are reported
and skipped; the rest of the file is still imported.

With --enqueue the file is published to the import queue instead and a
worker performs the import.`,
		Example: `  crmport import --entity deals pipeline.csv
  crmport import --entity contacts --dry-run contacts.xlsx
  crmport import --entity leads --enqueue leads.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			ctx := cmd.Context()
			app, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if actor == "" {
				actor = app.Config.Import.DefaultActor
			}

			if enqueue {
				if !app.Config.Queue.Enabled() {
					return fmt.Errorf("--enqueue needs QUEUE_URL")
				}
				conn, err := app.DialQueue()
				if err != nil {
					return err
				}
				defer conn.Close()

				job := queue.ImportJob{
					ID:       uuid.NewString(),
					Entity:   entity,
					FileName: filepath.Base(path),
					Actor:    actor,
					DryRun:   dryRun,
					Content:  data,
				}
				if err := conn.PublishJob(ctx, job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued import %s\n", job.ID)
				return nil
			}

			res, err := app.Service.Import(ctx, entity, filepath.Base(path), bytes.NewReader(data), core.ImportOptions{
				Actor:  actor,
				DryRun: dryRun,
			})
			if err != nil {
				return fmt.Errorf("%s", core.FormatUserError(err))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&entity, "entity", "e", core.DefaultEntity, "target entity")
	cmd.Flags().StringVar(&actor, "actor", "", "user recorded as created_by/modified_by")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve every row without writing")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "publish to the import queue instead of importing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}

func printResult(w io.Writer, r *core.ProcessingResult) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "%s: %d rows%s in %s\n", r.Entity, r.TotalRows, mode, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  inserted:   %d\n", r.SuccessCount)
	fmt.Fprintf(w, "  updated:    %d\n", r.UpdateCount)
	fmt.Fprintf(w, "  duplicates: %d\n", r.DuplicateCount)
	fmt.Fprintf(w, "  errors:     %d\n", r.ErrorCount)
	if r.Cancelled {
		fmt.Fprintf(w, "  cancelled after %d rows\n", r.Processed)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, msg := range r.ErrorMessages() {
		fmt.Fprintln(w, msg)
	}
}
