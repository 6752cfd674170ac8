package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate the task queue",
	}

	queueCmd.AddCommand(newQueueDrainCommand(ctx))

	return queueCmd
}

func newQueueDrainCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Remove every queued task id from the configured backend",
		Long: "Remove every queued task id from the configured backend. Task records are\n" +
			"left untouched; drained tasks stay QUEUED and are never handed to a worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drain without --yes")
			}
			q, err := ctx.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			if err := q.Drain(cmd.Context()); err != nil {
				return fmt.Errorf("drain %s queue: %w", q.Backend(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Drained %s queue\n", q.Backend())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the drain")
	return cmd
}
