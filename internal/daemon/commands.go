package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nmrauto/internal/autosampler"
	"nmrauto/internal/logging"
	"nmrauto/internal/queue"
	"nmrauto/internal/services"
)

// Command devices and actions accepted by the inbox.
const (
	DeviceAutosampler  = "autosampler"
	DeviceSpectrometer = "spectrometer"
	DeviceQueue        = "queue"

	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionYell       = "yell"
	ActionStart      = "start"
	ActionAbort      = "abort"
)

const commandBatch = 16

var errUnknownCommand = errors.New("unknown command")

// processCommands executes pending operator commands oldest first and
// records each outcome.
func (d *Daemon) processCommands(ctx context.Context) error {
	commands, err := d.store.PendingCommands(ctx, commandBatch)
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		if ctx.Err() != nil {
			return nil
		}
		cmdCtx := services.WithRequestID(services.WithDevice(ctx, cmd.Device), cmd.CommandID)
		logger := logging.WithContext(cmdCtx, d.logger).With(logging.String("action", cmd.Action))

		result, execErr := d.executeCommand(cmdCtx, cmd)
		ok := execErr == nil
		if !ok {
			result = execErr.Error()
			logging.WarnWithContext(logger, "operator command failed", "command_failed",
				logging.String("argument", cmd.Argument),
				logging.Error(execErr),
			)
		} else {
			logger.Info("operator command executed", logging.String("result", result))
		}
		d.metrics.CommandExecuted(cmd.Device, ok)
		if err := d.store.CompleteCommand(ctx, cmd.ID, ok, result); err != nil {
			return fmt.Errorf("complete command %s: %w", cmd.CommandID, err)
		}
	}
	return nil
}

func (d *Daemon) executeCommand(ctx context.Context, cmd *queue.Command) (string, error) {
	switch cmd.Device {
	case DeviceAutosampler:
		return d.autosamplerCommand(ctx, cmd.Action, cmd.Argument)
	case DeviceSpectrometer:
		return d.spectrometerCommand(ctx, cmd.Action)
	case DeviceQueue:
		return d.queueCommand(ctx, cmd.Action)
	default:
		return "", fmt.Errorf("%w: device %q", errUnknownCommand, cmd.Device)
	}
}

func (d *Daemon) autosamplerCommand(ctx context.Context, action, argument string) (string, error) {
	switch action {
	case ActionConnect:
		if err := d.sampler.Connect(ctx); err != nil {
			return "", err
		}
		return "connected to " + d.sampler.PortName(), nil
	case ActionDisconnect:
		if err := d.sampler.Disconnect(); err != nil {
			return "", err
		}
		return "disconnected", nil
	case ActionYell:
		if strings.TrimSpace(argument) == "" {
			return "", errors.New("yell needs the text to send")
		}
		if err := d.sampler.Yell(argument); err != nil {
			return "", err
		}
		return "sent " + strconv.Quote(argument), nil
	}

	holder := 0
	if autosampler.NeedsHolder(action) {
		value, err := strconv.Atoi(strings.TrimSpace(argument))
		if err != nil {
			return "", fmt.Errorf("%s needs a holder number: %w", action, err)
		}
		holder = value
	}
	if err := d.sampler.Manual(action, holder); err != nil {
		return "", err
	}
	if holder > 0 {
		return fmt.Sprintf("%s holder %d sent", action, holder), nil
	}
	return action + " sent", nil
}

func (d *Daemon) spectrometerCommand(ctx context.Context, action string) (string, error) {
	switch action {
	case ActionConnect:
		if err := d.spectro.Connect(ctx); err != nil {
			return "", err
		}
		return "connected to " + d.spectro.Address(), nil
	case ActionDisconnect:
		if err := d.spectro.Disconnect(); err != nil {
			return "", err
		}
		return "disconnected", nil
	default:
		return "", fmt.Errorf("%w: spectrometer %q", errUnknownCommand, action)
	}
}

// queueCommand starts or aborts the queue. Abort clears QueueStat; the
// running spectrometer request sees the cleared flag and stops.
func (d *Daemon) queueCommand(ctx context.Context, action string) (string, error) {
	switch action {
	case ActionStart:
		if err := d.store.StartQueue(ctx); err != nil {
			return "", err
		}
		return "queue started", nil
	case ActionAbort:
		changed, err := d.store.HaltQueue(ctx, "aborted by operator")
		if err != nil {
			return "", err
		}
		if !changed {
			return "queue was not running", nil
		}
		return "queue aborted", nil
	default:
		return "", fmt.Errorf("%w: queue %q", errUnknownCommand, action)
	}
}
