package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/daemon"
	"nmrauto/internal/queue"
)

func newAutosamplerCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	actions := append([]string{daemon.ActionConnect, daemon.ActionDisconnect, daemon.ActionYell}, autosampler.ManualActions()...)

	cmd := &cobra.Command{
		Use:   "autosampler <action> [holder|text]",
		Short: "Send a command to the sample changer",
		Long: "Send a command to the sample changer through the daemon.\n\n" +
			"Actions: " + strings.Join(actions, ", ") + ".\n" +
			"move, insert and return take a holder number; yell takes raw controller text.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: actions,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := strings.ToLower(strings.TrimSpace(args[0]))
			argument := ""
			if len(args) > 1 {
				argument = strings.TrimSpace(args[1])
			}
			if err := validateAutosamplerAction(action, argument, actions); err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				return submitCommand(cmd, store, daemon.DeviceAutosampler, action, argument, wait)
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultCommandWait, "How long to wait for the daemon (0 returns immediately)")
	return cmd
}

func validateAutosamplerAction(action, argument string, known []string) error {
	found := false
	for _, name := range known {
		if name == action {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown autosampler action %q", action)
	}
	switch {
	case action == daemon.ActionYell:
		if argument == "" {
			return fmt.Errorf("yell needs the text to send")
		}
	case autosampler.NeedsHolder(action):
		holder, err := strconv.Atoi(argument)
		if err != nil || holder < 1 || holder > queue.HolderCount {
			return fmt.Errorf("%s needs a holder between 1 and %d", action, queue.HolderCount)
		}
	case argument != "":
		return fmt.Errorf("%s takes no argument", action)
	}
	return nil
}

func newSpectrometerCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:       "spectrometer <connect|disconnect>",
		Short:     "Connect or disconnect the spectrometer session",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{daemon.ActionConnect, daemon.ActionDisconnect},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := strings.ToLower(strings.TrimSpace(args[0]))
			if action != daemon.ActionConnect && action != daemon.ActionDisconnect {
				return fmt.Errorf("unknown spectrometer action %q", args[0])
			}
			return ctx.withStore(func(store *queue.Store) error {
				return submitCommand(cmd, store, daemon.DeviceSpectrometer, action, "", wait)
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultCommandWait, "How long to wait for the daemon (0 returns immediately)")
	return cmd
}
