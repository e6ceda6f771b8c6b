package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"comfyforge/internal/api"
	"comfyforge/internal/daemon"
	"comfyforge/internal/keys"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
	}
	keysCmd.AddCommand(newKeysAddCommand(ctx))
	keysCmd.AddCommand(newKeysListCommand(ctx))
	keysCmd.AddCommand(newKeysCheckCommand(ctx))
	keysCmd.AddCommand(newKeysSetActiveCommand(ctx, true))
	keysCmd.AddCommand(newKeysSetActiveCommand(ctx, false))
	return keysCmd
}

func newKeysAddCommand(ctx *commandContext) *cobra.Command {
	var (
		reg       keys.Registration
		expiresIn time.Duration
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a provider key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiresIn > 0 {
				expires := time.Now().UTC().Add(expiresIn)
				reg.ExpiresAt = &expires
			}
			return ctx.withComponents(cmd, func(c *daemon.Components) error {
				adapter, ok := c.Providers.Lookup(reg.Provider)
				if !ok {
					return fmt.Errorf("unknown provider %q (available: %s)", reg.Provider, strings.Join(c.Providers.Names(), ", "))
				}
				reg.Provider = adapter.Name()
				key, err := c.Keys.Register(cmd.Context(), reg)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromKey(key))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered key %d for %s (%s)\n", key.ID, key.Provider, key.MaskedSecret())
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&reg.Provider, "provider", "", "Provider name (e.g. OpenAI, Gemini)")
	flags.StringVar(&reg.Secret, "key", "", "Provider API key")
	flags.StringVar(&reg.Description, "description", "", "Free-form description")
	flags.IntVar(&reg.Priority, "priority", 0, "Routing priority; higher wins")
	flags.StringSliceVar(&reg.Tags, "tag", nil, "Tag for routing filters (repeatable)")
	flags.Int64Var(&reg.QuotaTotal, "quota", 0, "Total quota units")
	flags.StringVar(&reg.QuotaUnit, "quota-unit", "", "Quota unit label (default count)")
	flags.Float64Var(&reg.PricePerCall, "price", 0, "Price per call, used by the cost strategy")
	flags.StringVar(&reg.BillingType, "billing", "", "Billing type label (default payg)")
	flags.BoolVar(&reg.Inactive, "inactive", false, "Register the key disabled")
	flags.DurationVar(&expiresIn, "expires-in", 0, "Expire the key after this duration")
	flags.BoolVar(&asJSON, "json", false, "Print the registered key as JSON")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newKeysListCommand(ctx *commandContext) *cobra.Command {
	var (
		provider   string
		activeOnly bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd, func(c *daemon.Components) error {
				filter := keys.Filter{Provider: strings.TrimSpace(provider)}
				if adapter, ok := c.Providers.Lookup(filter.Provider); ok {
					filter.Provider = adapter.Name()
				}
				if activeOnly {
					active := true
					filter.Active = &active
				}
				list, err := c.Keys.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.KeyListResponse{Keys: api.FromKeys(list)})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No keys registered")
					return nil
				}
				fmt.Fprint(out, renderKeysTable(out, list))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only show keys for this provider")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active keys")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print keys as JSON")
	return cmd
}

func newKeysCheckCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Validate a key with its provider now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKeyID(args[0])
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd, func(c *daemon.Components) error {
				key, validation, err := c.Monitor.Check(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.CheckResponse{
						Key:            api.FromKey(key),
						Valid:          validation.Valid,
						QuotaRemaining: validation.QuotaRemaining,
						Message:        validation.Message,
					})
				}
				out := cmd.OutOrStdout()
				verdict := "valid"
				if !validation.Valid {
					verdict = "invalid"
				}
				fmt.Fprintf(out, "Key %d (%s): %s\n", key.ID, key.Provider, verdict)
				if validation.QuotaRemaining != nil {
					fmt.Fprintf(out, "Quota remaining: %d\n", *validation.QuotaRemaining)
				}
				if validation.Message != "" {
					fmt.Fprintf(out, "Message: %s\n", validation.Message)
				}
				fmt.Fprintf(out, "State: %s\n", colorState(out, string(key.State())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newKeysSetActiveCommand(ctx *commandContext, active bool) *cobra.Command {
	use, short := "enable <id>", "Reactivate a key and clear its failure count"
	if !active {
		use, short = "disable <id>", "Remove a key from routing"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKeyID(args[0])
			if err != nil {
				return err
			}
			return ctx.withComponents(cmd, func(c *daemon.Components) error {
				key, err := c.Keys.SetActive(cmd.Context(), id, active)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Key %d (%s) is now %s\n", key.ID, key.Provider, colorState(out, string(key.State())))
				return nil
			})
		},
	}
}

func parseKeyID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid key id %q", value)
	}
	return id, nil
}
