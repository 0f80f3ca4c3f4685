package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mediarelay/internal/preflight"
	"mediarelay/internal/queue"
)

type healthReport struct {
	Database  queue.DatabaseHealth `json:"database"`
	Summary   queue.HealthSummary  `json:"summary"`
	Preflight []preflight.Result   `json:"preflight"`
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health and service reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				db, err := store.CheckHealth(c)
				if err != nil {
					return err
				}
				summary, err := store.Health(c)
				if err != nil {
					return err
				}
				report := healthReport{
					Database:  db,
					Summary:   summary,
					Preflight: preflight.RunAll(c, cfg),
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Store driver: %s\n", db.Driver)
				fmt.Fprintf(out, "Location: %s\n", db.Location)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(db.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(db.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", db.SchemaVersion)
				fmt.Fprintf(out, "jobs table present: %s\n", yesNo(db.TableExists))
				fmt.Fprintf(out, "Total jobs: %d\n", db.TotalJobs)
				if db.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", db.Error)
				}
				fmt.Fprintf(out, "Queued: %d  Processing: %d  Errored: %d  Processed: %d\n",
					summary.Queued, summary.Processing, summary.Errored, summary.Processed)

				rows := make([][]string, 0, len(report.Preflight))
				for _, r := range report.Preflight {
					state := "ok"
					if !r.Passed {
						state = "FAIL"
					}
					rows = append(rows, []string{r.Name, state, r.Detail})
				}
				fmt.Fprint(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
				return nil
			})
		},
	}
}
