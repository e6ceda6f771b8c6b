package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs held by the daemon",
	}
	runsCmd.AddCommand(newRunsGetCommand(ctx))
	runsCmd.AddCommand(newRunsListCommand(ctx))
	return runsCmd
}

func newRunsGetCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			record, err := client.Run(cmd.Context(), args[0])
			if err != nil {
				return wrapAPIError(err, ctx.config)
			}
			if asJSON {
				return writeJSON(cmd, record)
			}
			printRecord(cmd, record)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run record as JSON")
	return cmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			records, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return wrapAPIError(err, ctx.config)
			}
			if asJSON {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No runs retained")
				return nil
			}
			headers := []string{"Run", "Name", "Status", "Submitted", "Error"}
			rows := make([][]string, 0, len(records))
			for _, record := range records {
				errText := ""
				if record.Result != nil {
					errText = record.Result.Error
				}
				rows = append(rows, []string{
					record.ID,
					record.Name,
					colorState(out, string(record.Status)),
					record.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
					errText,
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}
