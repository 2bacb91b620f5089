package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"nmrauto/internal/config"
)

// QueueControl reads the queue run flag.
func (s *Store) QueueControl(ctx context.Context) (QueueControl, error) {
	var (
		stat       int
		reason     sql.NullString
		updatedRaw sql.NullString
	)
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT queue_stat, reason, updated_at FROM queue_control WHERE id = 1`,
	).Scan(&stat, &reason, &updatedRaw); err != nil {
		return QueueControl{}, fmt.Errorf("read queue control: %w", err)
	}
	control := QueueControl{Running: stat == 1, Reason: reason.String}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		control.UpdatedAt = updated
	}
	return control, nil
}

// QueueRunning reports whether QueueStat is 1.
func (s *Store) QueueRunning(ctx context.Context) (bool, error) {
	control, err := s.QueueControl(ctx)
	if err != nil {
		return false, err
	}
	return control.Running, nil
}

// StartQueue sets QueueStat to 1.
func (s *Store) StartQueue(ctx context.Context) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE queue_control SET queue_stat = 1, reason = NULL, updated_at = ? WHERE id = 1`,
		nowString(),
	); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	return nil
}

// HaltQueue clears QueueStat. It only writes when the queue was running and
// reports whether it did.
func (s *Store) HaltQueue(ctx context.Context, reason string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE queue_control SET queue_stat = 0, reason = ?, updated_at = ? WHERE id = 1 AND queue_stat != 0`,
		nullableString(strings.TrimSpace(reason)), nowString(),
	)
	if err != nil {
		return false, fmt.Errorf("halt queue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ShimState reads the shimming singleton.
func (s *Store) ShimState(ctx context.Context) (ShimState, error) {
	var (
		phase    int
		lastShim int64
		state    ShimState
	)
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT phase, last_shim, progress FROM shimming WHERE id = 1`,
	).Scan(&phase, &lastShim, &state.Progress); err != nil {
		return ShimState{}, fmt.Errorf("read shim state: %w", err)
	}
	state.Phase = ShimPhase(phase)
	state.LastShim = unixOrZero(lastShim)
	return state, nil
}

// SetShimPhase stores the shim cascade phase.
func (s *Store) SetShimPhase(ctx context.Context, phase ShimPhase) error {
	if !phase.Valid() {
		return fmt.Errorf("set shim phase: invalid phase %d", int(phase))
	}
	if _, err := s.execWithRetry(ctx, `UPDATE shimming SET phase = ? WHERE id = 1`, int(phase)); err != nil {
		return fmt.Errorf("set shim phase: %w", err)
	}
	return nil
}

// RecordShimSuccess returns the cascade to idle and stamps LastShim.
func (s *Store) RecordShimSuccess(ctx context.Context, at time.Time) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE shimming SET phase = ?, last_shim = ? WHERE id = 1`,
		int(ShimIdle), unixSeconds(at),
	); err != nil {
		return fmt.Errorf("record shim success: %w", err)
	}
	return nil
}

// SetShimProgress writes the shim progress percentage.
func (s *Store) SetShimProgress(ctx context.Context, progress int) error {
	if _, err := s.execWithRetry(ctx, `UPDATE shimming SET progress = ? WHERE id = 1`, clampPercent(progress)); err != nil {
		return fmt.Errorf("set shim progress: %w", err)
	}
	return nil
}

// ResetRunState clears QueueStat and the shim phase so a crashed run never
// resumes without an operator.
func (s *Store) ResetRunState(ctx context.Context) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_control SET queue_stat = 0, reason = ?, updated_at = ? WHERE id = 1`,
			"daemon started", nowString(),
		); err != nil {
			return fmt.Errorf("reset queue control: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE shimming SET phase = ? WHERE id = 1`, int(ShimIdle)); err != nil {
			return fmt.Errorf("reset shimming: %w", err)
		}
		return tx.Commit()
	})
}

// PublishAutosamplerStatus mirrors the driver status into the store.
func (s *Store) PublishAutosamplerStatus(ctx context.Context, code int, lastContact time.Time) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE autosampler_status SET errorcode = ?, last_contact = ?, updated_at = ? WHERE id = 1`,
		code, unixSeconds(lastContact), nowString(),
	); err != nil {
		return fmt.Errorf("publish autosampler status: %w", err)
	}
	return nil
}

// AutosamplerStatus reads the mirrored autosampler status.
func (s *Store) AutosamplerStatus(ctx context.Context) (AutosamplerStatus, error) {
	var (
		status      AutosamplerStatus
		lastContact int64
		updatedRaw  sql.NullString
	)
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT errorcode, last_contact, updated_at FROM autosampler_status WHERE id = 1`,
	).Scan(&status.Code, &lastContact, &updatedRaw); err != nil {
		return AutosamplerStatus{}, fmt.Errorf("read autosampler status: %w", err)
	}
	status.LastContact = unixOrZero(lastContact)
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		status.UpdatedAt = updated
	}
	return status, nil
}

func (s *Store) seedDeviceConfig(ctx context.Context, cfg *config.Config) error {
	if _, err := s.execWithRetry(ctx,
		`INSERT OR IGNORE INTO device_config (
            id, autosampler_port, spectrometer_host, spectrometer_port, data_folder, eval_tool_folder, updated_at
        ) VALUES (1, ?, ?, ?, ?, ?, ?)`,
		nullableString(cfg.Autosampler.Port),
		nullableString(cfg.Spectrometer.Host),
		cfg.Spectrometer.Port,
		nullableString(cfg.Data.DataFolder),
		nullableString(cfg.Data.EvalToolFolder),
		nowString(),
	); err != nil {
		return fmt.Errorf("seed device config: %w", err)
	}
	return nil
}

// DeviceConfig reads the live device settings.
func (s *Store) DeviceConfig(ctx context.Context) (DeviceConfig, error) {
	var (
		cfg        DeviceConfig
		port       sql.NullString
		host       sql.NullString
		dataFolder sql.NullString
		evalFolder sql.NullString
		updatedRaw sql.NullString
	)
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT autosampler_port, spectrometer_host, spectrometer_port, data_folder, eval_tool_folder, updated_at
         FROM device_config WHERE id = 1`,
	).Scan(&port, &host, &cfg.SpectrometerPort, &dataFolder, &evalFolder, &updatedRaw); err != nil {
		return DeviceConfig{}, fmt.Errorf("read device config: %w", err)
	}
	cfg.AutosamplerPort = port.String
	cfg.SpectrometerHost = host.String
	cfg.DataFolder = dataFolder.String
	cfg.EvalToolFolder = evalFolder.String
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		cfg.UpdatedAt = updated
	}
	return cfg, nil
}

// UpdateDeviceConfig replaces the live device settings.
func (s *Store) UpdateDeviceConfig(ctx context.Context, cfg DeviceConfig) error {
	if cfg.SpectrometerPort < 0 || cfg.SpectrometerPort > 65535 {
		return fmt.Errorf("update device config: port %d out of range", cfg.SpectrometerPort)
	}
	if err := s.execAffecting(ctx,
		`UPDATE device_config SET autosampler_port = ?, spectrometer_host = ?, spectrometer_port = ?,
             data_folder = ?, eval_tool_folder = ?, updated_at = ? WHERE id = 1`,
		nullableString(strings.TrimSpace(cfg.AutosamplerPort)),
		nullableString(strings.TrimSpace(cfg.SpectrometerHost)),
		cfg.SpectrometerPort,
		nullableString(strings.TrimSpace(cfg.DataFolder)),
		nullableString(strings.TrimSpace(cfg.EvalToolFolder)),
		nowString(),
	); err != nil {
		return fmt.Errorf("update device config: %w", err)
	}
	return nil
}
