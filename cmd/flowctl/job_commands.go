package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}

	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))

	return jobCmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var filter store.JobFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			filter.Status = models.JobStatus(status)
			jobs, total, err := st.ListJobs(cmd.Context(), filter.Normalize())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				pipelineID := "-"
				if j.PipelineID != nil {
					pipelineID = j.PipelineID.String()
				}
				rows = append(rows, []string{
					j.ID.String(), j.Type, strconv.Itoa(j.Priority), string(j.Status),
					formatTime(j.StatusTime), pipelineID,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Type", "Priority", "Status", "Since", "Pipeline"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			fmt.Fprintf(out, "%d of %d jobs\n", len(jobs), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	cmd.Flags().StringVar(&filter.Type, "type", "", "Only jobs of this type")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Jobs per page")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			j, err := st.GetJob(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load job: %w", err)
			}
			msgs, err := st.ListJobMessages(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load job messages: %w", err)
			}
			printJob(cmd.OutOrStdout(), j, msgs)
			return nil
		},
	}
}

func printJob(out io.Writer, j *models.Job, msgs []*models.JobMessage) {
	fmt.Fprintf(out, "Job:       %s\n", j.ID)
	fmt.Fprintf(out, "Type:      %s\n", j.Type)
	fmt.Fprintf(out, "Priority:  %d\n", j.Priority)
	fmt.Fprintf(out, "Status:    %s (since %s)\n", j.Status, formatTime(j.StatusTime))
	if j.PipelineID != nil {
		fmt.Fprintf(out, "Pipeline:  %s\n", j.PipelineID)
	}
	for k, v := range j.ExternalIDs {
		fmt.Fprintf(out, "External:  %s=%s\n", k, v)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "Messages:  none")
		return
	}
	fmt.Fprintln(out, "Messages:")
	for _, m := range msgs {
		fmt.Fprintf(out, "  %s  %s\n", formatTime(m.CreatedAt), m.Message)
	}
}
