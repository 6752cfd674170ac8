package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/assetflow/pkg/models"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect pipelines",
	}

	pipelineCmd.AddCommand(newPipelineShowCommand(ctx))
	pipelineCmd.AddCommand(newPipelineListCommand(ctx))

	return pipelineCmd
}

func newPipelineShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a pipeline's stages and properties",
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
			p, err := st.GetPipeline(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load pipeline: %w", err)
			}
			printPipeline(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func newPipelineListCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the pipelines run for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid owner id %q", owner)
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			pipelines, err := st.ListPipelinesByOwner(cmd.Context(), ownerID)
			if err != nil {
				return err
			}
			if len(pipelines) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pipelines")
				return nil
			}
			rows := make([][]string, 0, len(pipelines))
			for _, p := range pipelines {
				rows = append(rows, []string{
					p.ID.String(), string(p.Status), p.CurrentStageID(),
					string(p.StageStatus), formatTime(p.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Stage", "Stage status", "Created"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owning job id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func printPipeline(out io.Writer, p *models.Pipeline) {
	fmt.Fprintf(out, "Pipeline:  %s\n", p.ID)
	fmt.Fprintf(out, "Owner:     %s %s\n", p.OwnerKind, p.OwnerID)
	fmt.Fprintf(out, "Status:    %s\n", p.Status)
	fmt.Fprintf(out, "Version:   %d\n", p.Version)
	if p.FailureStage != "" {
		handled := "pending"
		if p.FailureHandled {
			handled = "done"
		}
		fmt.Fprintf(out, "Failure:   %s (%s)\n", p.FailureStage, handled)
	}

	rows := make([][]string, 0, len(p.Stages))
	for i, id := range p.Stages {
		status := ""
		switch {
		case i < p.CurrentStage:
			status = string(models.StageStatusCompleted)
		case i == p.CurrentStage:
			status = string(p.StageStatus)
		}
		rows = append(rows, []string{strconv.Itoa(i), id, status})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Stage", "Status"}, rows, []columnAlignment{alignRight}))

	if len(p.Properties) == 0 {
		return
	}
	keys := make([]string, 0, len(p.Properties))
	for k := range p.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	props := make([][]string, 0, len(keys))
	for _, k := range keys {
		props = append(props, []string{k, p.Properties[k]})
	}
	fmt.Fprintln(out, renderTable([]string{"Property", "Value"}, props, nil))
}
