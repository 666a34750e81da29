package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/beacon/internal/campaign"
)

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List dispatch job records",
	Long: `List the progress records of campaign sends. Interrupted jobs are
resumed from their cursor when the server starts.`,
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (running, completed, interrupted)")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobs(context.Background(), campaign.JobStatus(jobsStatus))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No dispatch jobs")
		return nil
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAMPAIGN\tSTATUS\tPROGRESS\tSENT\tFAILED\tSTARTED\tLAST ERROR")
	fmt.Fprintln(w, "--------\t------\t--------\t----\t------\t-------\t----------")

	for _, job := range jobs {
		lastErr := job.LastError
		if len(lastErr) > 40 {
			lastErr = lastErr[:37] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			job.CampaignID,
			job.Status,
			job.NextIndex, job.Total,
			job.Sent,
			job.Failed,
			job.StartedAt.Format("2006-01-02 15:04"),
			lastErr,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}
