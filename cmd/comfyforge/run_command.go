package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"comfyforge/internal/api"
	"comfyforge/internal/daemon"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/runs"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		async     bool
		asJSON    bool
		overrides map[string]string
	)
	cmd := &cobra.Command{
		Use:   "run <pipeline-file>",
		Short: "Execute a pipeline definition (YAML or JSON)",
		Long: `Execute a pipeline definition.

By default the pipeline runs in this process against the shared key registry
and the result is printed when it finishes. With --async the definition is
submitted to the running daemon and the run id is printed for polling with
"comfyforge runs get".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := pipeline.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			if len(overrides) > 0 {
				if def.KeyOverrides == nil {
					def.KeyOverrides = map[string]string{}
				}
				for provider, secret := range overrides {
					def.KeyOverrides[provider] = secret
				}
			}

			if async {
				return submitAsync(cmd, ctx, def, asJSON)
			}

			var record *runs.Record
			err = ctx.withComponents(cmd, func(c *daemon.Components) error {
				var submitErr error
				record, submitErr = c.Runs.Submit(cmd.Context(), runs.Submission{Definition: def, Sync: true})
				return submitErr
			})
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, record); err != nil {
					return err
				}
			} else {
				printRecord(cmd, record)
			}
			if record.Status == pipeline.StatusFailed {
				return errors.New("pipeline run failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Submit to the daemon and return the run id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run record as JSON")
	cmd.Flags().StringToStringVar(&overrides, "override", nil, "Provider secret override, e.g. --override OpenAI=sk-... (repeatable)")
	return cmd
}

func submitAsync(cmd *cobra.Command, ctx *commandContext, def pipeline.Definition, asJSON bool) error {
	client, err := ctx.apiClient()
	if err != nil {
		return err
	}
	record, err := client.Submit(cmd.Context(), api.SubmitRequest{
		Name:         def.Name,
		Pipeline:     def.Steps,
		KeyOverrides: def.KeyOverrides,
	})
	if err != nil {
		return wrapAPIError(err, ctx.config)
	}
	if asJSON {
		return writeJSON(cmd, record)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted run %s (%s)\n", record.ID, record.Status)
	return nil
}

const outputPreviewLimit = 160

func printRecord(cmd *cobra.Command, record *runs.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", record.ID, colorState(out, string(record.Status)))
	result := record.Result
	if result == nil {
		return
	}
	if len(result.Steps) > 0 {
		headers := []string{"#", "Step", "Provider", "Model", "Key", "Latency", "Output", "Error"}
		aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
		rows := make([][]string, 0, len(result.Steps))
		for _, step := range result.Steps {
			key := "override"
			if step.KeyID > 0 {
				key = fmt.Sprintf("%d", step.KeyID)
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", step.Index),
				step.Step,
				step.Provider,
				step.Model,
				key,
				formatLatency(step.LatencyMs),
				step.Output,
				step.Error,
			})
		}
		fmt.Fprintln(out, renderTable(headers, rows, aligns))
	}
	if result.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", result.Error)
	}
	for _, step := range result.Steps {
		value, ok := result.Outputs[step.Output]
		if !ok || step.Error != "" {
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", step.Output, preview(value))
	}
	if len(result.Lineage) > 0 {
		ids := make([]string, 0, len(result.Lineage))
		for _, id := range result.Lineage {
			ids = append(ids, fmt.Sprintf("%d", id))
		}
		fmt.Fprintf(out, "Lineage: %s\n", strings.Join(ids, ", "))
	}
	for name, id := range record.AssetIDs {
		fmt.Fprintf(out, "Saved %s as asset %d\n", name, id)
	}
}

func preview(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= outputPreviewLimit {
		return value
	}
	return value[:outputPreviewLimit] + fmt.Sprintf("... (%d bytes)", len(value))
}
