package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <pipeline-id>",
		Short: "List the task groups and tasks of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid pipeline id %q", args[0])
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			groups, err := st.ListPipelineGroups(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, "No task groups")
				return nil
			}

			var rows [][]string
			for _, g := range groups {
				tasks, err := st.ListGroupTasks(cmd.Context(), g.ID)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					worker := t.AssignedWorker
					if worker == "" {
						worker = "-"
					}
					rows = append(rows, []string{
						g.ID.String(), string(g.Status), t.ID.String(), t.Type,
						string(t.Status), strconv.Itoa(t.RetryAttempts), worker,
					})
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Group", "Group status", "Task", "Type", "Status", "Retries", "Worker"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
}
