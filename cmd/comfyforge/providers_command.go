package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"comfyforge/internal/config"
	"comfyforge/internal/providers"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List built-in provider adapters and their endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProvidersTable(cfg, providers.NewTable(cfg)))
			return nil
		},
	}
}

func renderProvidersTable(cfg *config.Config, table *providers.Table) string {
	headers := []string{"Provider", "Validates", "Base URL override"}
	rows := make([][]string, 0)
	for _, name := range table.Names() {
		adapter, ok := table.Lookup(name)
		if !ok {
			continue
		}
		_, validates := providers.ValidatorFor(adapter)
		override := cfg.Provider(adapter.Name()).BaseURL
		if override == "" {
			override = "-"
		}
		rows = append(rows, []string{adapter.Name(), yesNo(validates), override})
	}
	return renderTable(headers, rows, nil)
}
