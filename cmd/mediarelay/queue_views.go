package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mediarelay/internal/queue"
)

func buildQueueStatusRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		count, ok := stats[status]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{status.String(), strconv.Itoa(count)})
	}
	return rows
}

func buildQueueListRows(jobs []*queue.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			strconv.FormatInt(job.SourceID, 10),
			job.Name,
			job.Status.String(),
			strconv.Itoa(job.Attempts),
			formatTimestamp(job.Created),
			formatDestination(job.DestinationID),
		})
	}
	return rows
}

func writeJobDetails(cmd *cobra.Command, job *queue.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Source ID:   %d\n", job.SourceID)
	fmt.Fprintf(out, "  Name:        %s\n", job.Name)
	fmt.Fprintf(out, "  Status:      %s\n", job.Status)
	fmt.Fprintf(out, "  Attempts:    %d\n", job.Attempts)
	fmt.Fprintf(out, "  Created:     %s\n", formatTimestamp(job.Created))
	if job.Modified != nil {
		fmt.Fprintf(out, "  Modified:    %s\n", formatTimestamp(*job.Modified))
	}
	if job.LastHeartbeat != nil {
		fmt.Fprintf(out, "  Heartbeat:   %s\n", formatTimestamp(*job.LastHeartbeat))
	}
	fmt.Fprintf(out, "  Destination: %s\n", formatDestination(job.DestinationID))
	if job.ExceptionMessage != "" {
		fmt.Fprintf(out, "  Error:       %s\n", job.ExceptionMessage)
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDestination(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
