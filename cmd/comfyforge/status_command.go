package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"comfyforge/internal/api"
	"comfyforge/internal/config"
	"comfyforge/internal/daemon"
	"comfyforge/internal/keys"
	"comfyforge/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const statusLabelWidth = 18

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon reachability, preflight checks, and key health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, "System Status")
			fmt.Fprintln(out, daemonStatusLine(cmd.Context(), cfg, colorize))

			fmt.Fprintln(out, "")
			fmt.Fprintln(out, "Preflight")
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out, "")
			fmt.Fprintln(out, "Keys")
			if len(preflight.Failed(results)) > 0 {
				fmt.Fprintln(out, renderStatusLine("Registry", statusWarn, "Skipped (preflight failed)", colorize))
				return nil
			}
			return ctx.withComponents(cmd, func(c *daemon.Components) error {
				list, err := c.Keys.List(cmd.Context(), keys.Filter{})
				if err != nil {
					return err
				}
				writeKeyStatus(out, list, colorize)
				return nil
			})
		},
	}
}

func daemonStatusLine(ctx context.Context, cfg *config.Config, colorize bool) string {
	client, err := api.NewClient(cfg.Server.APIBind, cfg.Server.APIToken)
	if err != nil {
		return renderStatusLine("Daemon", statusError, err.Error(), colorize)
	}
	if client == nil {
		return renderStatusLine("Daemon", statusInfo, "API disabled", colorize)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Health(probeCtx); err != nil {
		if api.IsAPIUnavailable(err) {
			return renderStatusLine("Daemon", statusInfo, "Not running", colorize)
		}
		return renderStatusLine("Daemon", statusWarn, err.Error(), colorize)
	}
	return renderStatusLine("Daemon", statusOK, "Running at "+cfg.Server.APIBind, colorize)
}

func writeKeyStatus(out io.Writer, list []*keys.Key, colorize bool) {
	if len(list) == 0 {
		fmt.Fprintln(out, renderStatusLine("Registry", statusWarn, "No keys registered", colorize))
		return
	}
	type counts struct{ healthy, degraded, disabled int }
	byProvider := map[string]*counts{}
	var order []string
	for _, key := range list {
		c, ok := byProvider[key.Provider]
		if !ok {
			c = &counts{}
			byProvider[key.Provider] = c
			order = append(order, key.Provider)
		}
		switch key.State() {
		case keys.StateHealthy:
			c.healthy++
		case keys.StateDegraded:
			c.degraded++
		default:
			c.disabled++
		}
	}
	for _, provider := range order {
		c := byProvider[provider]
		kind := statusOK
		switch {
		case c.healthy == 0 && c.degraded == 0:
			kind = statusError
		case c.degraded > 0 || c.disabled > 0:
			kind = statusWarn
		}
		message := fmt.Sprintf("%d healthy, %d degraded, %d disabled", c.healthy, c.degraded, c.disabled)
		fmt.Fprintln(out, renderStatusLine(provider, kind, message, colorize))
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", statusText)
	if colorize {
		if color, ok := statusKindColor(kind); ok {
			return color.Sprint(line)
		}
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) (text.Color, bool) {
	switch kind {
	case statusOK:
		return text.FgGreen, true
	case statusWarn:
		return text.FgYellow, true
	case statusError:
		return text.FgRed, true
	case statusInfo:
		return text.FgBlue, true
	default:
		return 0, false
	}
}
