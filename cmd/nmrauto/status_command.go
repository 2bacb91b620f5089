package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/config"
	"nmrauto/internal/daemon"
	"nmrauto/internal/preflight"
	"nmrauto/internal/queue"
)

const statusFetchTimeout = 2 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, device and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				status, live := fetchDaemonStatus(cmd.Context(), cfg.Paths.APIBind)
				if !live {
					status = storeStatus(cmd.Context(), store)
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				devices, err := store.DeviceConfig(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, line := range statusLines(cfg, status, live, &devices, shouldColorize(out), time.Now()) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// statusURL turns the API bind address into a loopback URL.
func statusURL(bind string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil || port == "" || port == "0" {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/status"
}

func fetchDaemonStatus(ctx context.Context, bind string) (daemon.Status, bool) {
	url := statusURL(bind)
	if url == "" {
		return daemon.Status{}, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, statusFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return daemon.Status{}, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return daemon.Status{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return daemon.Status{}, false
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return daemon.Status{}, false
	}
	return status, true
}

// storeStatus assembles what the store knows when the daemon is unreachable.
func storeStatus(ctx context.Context, store *queue.Store) daemon.Status {
	status := daemon.Status{
		DatabasePath: store.Path(),
		Queue:        daemon.QueueView{Counts: map[string]int{}},
	}
	if mirrored, err := store.AutosamplerStatus(ctx); err == nil {
		code := autosampler.Code(mirrored.Code)
		status.Autosampler = daemon.AutosamplerView{
			Code:        mirrored.Code,
			Meaning:     code.Description(),
			IsError:     code.IsError(),
			LastContact: mirrored.LastContact,
		}
	}
	if devices, err := store.DeviceConfig(ctx); err == nil {
		status.Autosampler.Port = devices.AutosamplerPort
		status.Spectrometer.Address = net.JoinHostPort(devices.SpectrometerHost, fmt.Sprint(devices.SpectrometerPort))
		status.Spectrometer.DataFolder = devices.DataFolder
	}
	if control, err := store.QueueControl(ctx); err == nil {
		status.Queue.Running = control.Running
		status.Queue.Reason = control.Reason
	}
	if shim, err := store.ShimState(ctx); err == nil {
		status.Queue.ShimPhase = int(shim.Phase)
		status.Queue.ShimName = shim.Phase.String()
		status.Queue.ShimProg = shim.Progress
		status.Queue.LastShim = shim.LastShim
	}
	if stats, err := store.Stats(ctx); err == nil {
		for _, s := range queue.AllStatuses() {
			status.Queue.Counts[string(s)] = stats[s]
		}
	}
	return status
}

func statusLines(cfg *config.Config, status daemon.Status, live bool, devices *queue.DeviceConfig, colorize bool, now time.Time) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if live {
		lines = append(lines, renderStatusLine("Daemon", statusOK,
			fmt.Sprintf("Running (pid %d, since %s)", status.PID, formatTime(status.StartedAt)), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Devices", colorize)...)
	lines = append(lines, autosamplerLine(status.Autosampler, live, now, colorize))
	lines = append(lines, spectrometerLine(status.Spectrometer, live, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	lines = append(lines, queueLine(status.Queue, colorize))
	lines = append(lines, shimLine(status.Queue, now, colorize))
	counts := make([]string, 0, len(queue.AllStatuses()))
	for _, s := range queue.AllStatuses() {
		counts = append(counts, fmt.Sprintf("%s %d", s, status.Queue.Counts[string(s)]))
	}
	lines = append(lines, renderStatusLine("Samples", statusInfo, strings.Join(counts, ", "), colorize))
	if status.Queue.Evaluating {
		lines = append(lines, renderStatusLine("Evaluation", statusInfo, "Running", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Environment", colorize)...)
	for _, result := range preflight.RunAll(context.Background(), cfg, devices) {
		kind := statusOK
		if !result.Passed {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	lines = append(lines, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	return lines
}

func autosamplerLine(view daemon.AutosamplerView, live bool, now time.Time, colorize bool) string {
	switch {
	case live && !view.Connected:
		return renderStatusLine("Autosampler", statusWarn, fmt.Sprintf("Disconnected (%s)", orDash(view.Port)), colorize)
	case view.IsError:
		return renderStatusLine("Autosampler", statusError,
			fmt.Sprintf("Error %d: %s", view.Code, view.Meaning), colorize)
	case !live:
		return renderStatusLine("Autosampler", statusInfo,
			fmt.Sprintf("Last reported %d %s (%s)", view.Code, view.Meaning, formatAge(view.LastContact, now)), colorize)
	default:
		return renderStatusLine("Autosampler", statusOK,
			fmt.Sprintf("%s on %s", view.Meaning, view.Port), colorize)
	}
}

func spectrometerLine(view daemon.SpectrometerView, live bool, colorize bool) string {
	switch {
	case !live:
		return renderStatusLine("Spectrometer", statusInfo, "Configured at "+view.Address, colorize)
	case !view.Connected:
		return renderStatusLine("Spectrometer", statusWarn, fmt.Sprintf("Disconnected (%s)", view.Address), colorize)
	}
	message := fmt.Sprintf("%s at %s", view.State, view.Address)
	if view.Progress > 0 {
		message += fmt.Sprintf(", %d%%", view.Progress)
		if remaining := formatRemaining(view.SecondsRemaining); remaining != "" {
			message += ", " + remaining + " left"
		}
	}
	return renderStatusLine("Spectrometer", statusOK, message, colorize)
}

func queueLine(view daemon.QueueView, colorize bool) string {
	if view.Running {
		return renderStatusLine("Queue", statusOK, "Running", colorize)
	}
	message := "Halted"
	if view.Reason != "" {
		message += " (" + view.Reason + ")"
	}
	return renderStatusLine("Queue", statusInfo, message, colorize)
}

func shimLine(view daemon.QueueView, now time.Time, colorize bool) string {
	last := "last shim " + formatAge(view.LastShim, now)
	if view.ShimPhase == int(queue.ShimIdle) {
		return renderStatusLine("Shimming", statusInfo, "Idle, "+last, colorize)
	}
	kind := statusInfo
	if view.ShimPhase == int(queue.ShimGivingUp) {
		kind = statusWarn
	}
	return renderStatusLine("Shimming", kind, fmt.Sprintf("%s (%d%%), %s", view.ShimName, view.ShimProg, last), colorize)
}
