package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nmrauto/internal/daemon"
	"nmrauto/internal/queue"
)

const defaultCommandWait = 15 * time.Second

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the sample queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueControlCommand(ctx, daemon.ActionStart, "Start processing the queue"))
	queueCmd.AddCommand(newQueueControlCommand(ctx, daemon.ActionAbort, "Abort the running sample and halt the queue"))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var in queue.NewSample

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Queue a sample for measurement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			in.Kind = queue.KindSample
			return ctx.withStore(func(store *queue.Store) error {
				sample, err := store.AddSample(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued sample #%d %q in holder %d (%s)\n",
					sample.ID, sample.Name, sample.Holder, sample.Protocol)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&in.Holder, "holder", 0, "Carousel holder (1-32)")
	cmd.Flags().StringVarP(&in.Protocol, "protocol", "p", "", "Measurement protocol name")
	cmd.Flags().IntVar(&in.Scans, "scans", 16, "Number of scans")
	cmd.Flags().Float64Var(&in.RepTime, "rep-time", 10, "Repetition time in seconds")
	cmd.Flags().StringVar(&in.Solvent, "solvent", "", "Solvent name")
	cmd.Flags().Int64Var(&in.MethodID, "method-id", 0, "Evaluation method identifier")
	cmd.Flags().StringVar(&in.Comment, "comment", "", "Free text comment")
	_ = cmd.MarkFlagRequired("holder")
	_ = cmd.MarkFlagRequired("protocol")
	return cmd
}

func newShimCommand(ctx *commandContext) *cobra.Command {
	var holder int
	var name string

	cmd := &cobra.Command{
		Use:       "shim <checkshim|quickshim|powershim>",
		Short:     "Queue a shim job on a reference sample",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"checkshim", "quickshim", "powershim"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := queue.ParseKind(args[0])
			if !ok || !kind.IsShim() {
				return fmt.Errorf("unknown shim kind %q (want checkshim, quickshim or powershim)", args[0])
			}
			label := strings.TrimSpace(name)
			if label == "" {
				label = string(kind)
			}
			return ctx.withStore(func(store *queue.Store) error {
				sample, err := store.AddSample(cmd.Context(), queue.NewSample{
					Name:   label,
					Holder: holder,
					Kind:   kind,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s #%d in holder %d\n", sample.Kind, sample.ID, sample.Holder)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&holder, "holder", 0, "Holder of the shim reference sample (1-32)")
	cmd.Flags().StringVar(&name, "name", "", "Queue entry name (defaults to the shim kind)")
	_ = cmd.MarkFlagRequired("holder")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				samples, err := store.ListSamples(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]daemon.SampleView, 0, len(samples))
					for _, s := range samples {
						views = append(views, daemon.NewSampleView(s))
					}
					return writeJSON(cmd, daemon.QueueListResponse{Samples: views})
				}
				out := cmd.OutOrStdout()
				if len(samples) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable(sampleColumns, sampleRows(samples)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (queued, running, finished, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

var sampleColumns = []column{
	{Header: "ID", Right: true},
	{Header: "Name", MaxWidth: 28},
	{Header: "Holder", Right: true},
	{Header: "Kind"},
	{Header: "Protocol", MaxWidth: 24},
	{Header: "Status"},
	{Header: "Progress", Right: true},
	{Header: "Result / Error", MaxWidth: 40},
}

func sampleRows(samples []*queue.Sample) [][]string {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		outcome := s.Result
		if s.Status == queue.StatusFailed {
			outcome = s.ErrorMessage
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			strconv.Itoa(s.Holder),
			string(s.Kind),
			orDash(s.Protocol),
			string(s.Status),
			fmt.Sprintf("%d%%", s.Progress),
			orDash(outcome),
		})
	}
	return rows
}

func parseStatusFlags(values []string) ([]queue.Status, error) {
	var statuses []queue.Status
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				sample, err := store.GetSample(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if sample == nil {
					return fmt.Errorf("sample %d not found", ids[0])
				}
				if asJSON {
					return writeJSON(cmd, daemon.NewSampleView(sample))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Sample #%d %s\n", sample.ID, sample.Name)
				fmt.Fprintf(out, "  Holder:    %d\n", sample.Holder)
				fmt.Fprintf(out, "  Kind:      %s\n", sample.Kind)
				if !sample.Kind.IsShim() {
					fmt.Fprintf(out, "  Protocol:  %s\n", sample.Protocol)
					fmt.Fprintf(out, "  Scans:     %d\n", sample.Scans)
					fmt.Fprintf(out, "  Rep time:  %gs\n", sample.RepTime)
					fmt.Fprintf(out, "  Solvent:   %s\n", orDash(sample.Solvent))
					if sample.MethodID != 0 {
						fmt.Fprintf(out, "  Method:    %d\n", sample.MethodID)
					}
				}
				fmt.Fprintf(out, "  Status:    %s (%d%%)\n", sample.Status, sample.Progress)
				if sample.Result != "" {
					fmt.Fprintf(out, "  Result:    %s\n", sample.Result)
				}
				if sample.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:     %s\n", sample.ErrorMessage)
				}
				if sample.Comment != "" {
					fmt.Fprintf(out, "  Comment:   %s\n", sample.Comment)
				}
				fmt.Fprintf(out, "  Created:   %s\n", formatTime(sample.CreatedAt))
				fmt.Fprintf(out, "  Updated:   %s\n", formatTime(sample.UpdatedAt))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed samples (all when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed sample(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove samples that are not running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.RemoveSamples(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d sample(s)\n", count)
				if int(count) < len(ids) {
					fmt.Fprintln(out, "Running or unknown samples were left in place")
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete finished and failed samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				count, err := store.ClearFinished(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d sample(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueControlCommand(ctx *commandContext, action, short string) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				return submitCommand(cmd, store, daemon.DeviceQueue, action, "", wait)
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultCommandWait, "How long to wait for the daemon (0 returns immediately)")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid sample id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
