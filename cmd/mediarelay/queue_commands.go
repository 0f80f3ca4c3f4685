package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediarelay/internal/api"
	"mediarelay/internal/ingest"
	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
	"mediarelay/internal/retention"
	"mediarelay/internal/services"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearErroredCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				stats, err := store.Stats(c)
				if err != nil {
					return err
				}
				resp := api.QueueStatsResponse{Counts: api.StatsByName(stats)}
				for _, n := range stats {
					resp.Total += n
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if resp.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					buildQueueStatusRows(stats),
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(listStatuses)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				jobs, err := store.List(c, statuses...)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(jobs)})
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Source", "Name", "Status", "Attempts", "Created", "Destination"},
					buildQueueListRows(jobs),
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				job, err := store.GetByID(c, id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
				}
				writeJobDetails(cmd, job)
				return nil
			})
		},
	}
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var createdFlag string

	cmd := &cobra.Command{
		Use:   "enqueue <source-id> <name>",
		Short: "Queue a source item for relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source id %q", args[0])
			}
			var created time.Time
			if strings.TrimSpace(createdFlag) != "" {
				created, err = api.ParseTime(strings.TrimSpace(createdFlag))
				if err != nil {
					return fmt.Errorf("invalid --created value: %w", err)
				}
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				producer := ingest.NewProducer(store, logging.NewNop(), nil)
				result, job, err := producer.Submit(c, ingest.Item{SourceID: sourceID, Name: args[1], Created: created})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					resp := api.EnqueueResponse{Result: string(result)}
					if job != nil {
						dto := api.FromJob(job)
						resp.Job = &dto
					}
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				switch result {
				case ingest.EnqueueCreated:
					fmt.Fprintf(out, "Queued job %d for source %d\n", job.ID, sourceID)
				case ingest.EnqueueDuplicate:
					fmt.Fprintf(out, "Source %d is already queued\n", sourceID)
				default:
					return errors.New("item rejected: source id must be non-zero and name must be set")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&createdFlag, "created", "", "Source creation time (RFC3339); defaults to now")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove jobs by ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseJobID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					removed, err := store.Remove(c, id)
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(out, "Removed job %d\n", id)
					} else {
						fmt.Fprintf(out, "Job %d not found\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newQueueClearErroredCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-errored",
		Short: "Remove every errored job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				removed, err := store.ClearErrored(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d errored jobs\n", removed)
				return nil
			})
		},
	}
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete processed jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sweepCfg := *cfg
			if cmd.Flags().Changed("days") {
				if days <= 0 {
					return errors.New("--days must be positive")
				}
				sweepCfg.Retention.DaysToKeep = days
			}
			return ctx.withStore(cmd, func(c context.Context, store queue.Store) error {
				sweeper := retention.NewSweeper(&sweepCfg, store, logging.NewNop())
				result, err := sweeper.Sweep(c)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.SweepResponse{
						Retention: api.FromSweepResult(sweepCfg.Retention.DaysToKeep, result),
					})
				}
				out := cmd.OutOrStdout()
				if result.Skipped {
					fmt.Fprintln(out, "Another process is sweeping; nothing purged")
					return nil
				}
				fmt.Fprintf(out, "Purged %d processed jobs created before %s\n",
					result.Purged, result.Cutoff.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Override retention.days_to_keep")
	return cmd
}

func parseJobID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid job id %q", services.ErrValidation, value)
	}
	return id, nil
}

func parseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, v := range values {
		status, err := queue.ParseStatus(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", services.ErrValidation, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
