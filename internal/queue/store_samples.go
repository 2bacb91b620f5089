package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AddSample validates and enqueues a new sample.
func (s *Store) AddSample(ctx context.Context, in NewSample) (*Sample, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSample)
	}
	if in.Holder < 1 || in.Holder > HolderCount {
		return nil, fmt.Errorf("%w: holder %d outside 1..%d", ErrInvalidSample, in.Holder, HolderCount)
	}
	kind, ok := ParseKind(string(in.Kind))
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSample, in.Kind)
	}
	if kind == KindSample && strings.TrimSpace(in.Protocol) == "" {
		return nil, fmt.Errorf("%w: protocol is required for measurements", ErrInvalidSample)
	}
	scans := in.Scans
	if scans <= 0 {
		scans = 1
	}
	if in.RepTime < 0 {
		return nil, fmt.Errorf("%w: repetition time must not be negative", ErrInvalidSample)
	}

	timestamp := nowString()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO samples (
            name, holder, kind, protocol, scans, rep_time, solvent, method_id, comment,
            status, progress, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		name,
		in.Holder,
		kind,
		nullableString(strings.TrimSpace(in.Protocol)),
		scans,
		in.RepTime,
		nullableString(strings.TrimSpace(in.Solvent)),
		nullableInt64(in.MethodID),
		nullableString(in.Comment),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSample(ctx, id)
}

// GetSample fetches a sample by identifier. A missing sample returns nil, nil.
func (s *Store) GetSample(ctx context.Context, id int64) (*Sample, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id)
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sample: %w", err)
	}
	return sample, nil
}

// ListSamples returns samples filtered by status (or all samples) ordered by id.
func (s *Store) ListSamples(ctx context.Context, statuses ...Status) ([]*Sample, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + sampleColumns + ` FROM samples`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return scanSamples(rows)
}

func (s *Store) firstWithStatus(ctx context.Context, status Status) (*Sample, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+sampleColumns+` FROM samples WHERE status = ? ORDER BY id LIMIT 1`,
		status,
	)
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first %s sample: %w", status, err)
	}
	return sample, nil
}

// NextSample selects the sample to run: a Running leftover from a crash
// (lowest id) wins over the lowest Queued id. Nil means nothing to do.
func (s *Store) NextSample(ctx context.Context) (*Sample, error) {
	running, err := s.firstWithStatus(ctx, StatusRunning)
	if err != nil || running != nil {
		return running, err
	}
	return s.firstWithStatus(ctx, StatusQueued)
}

// FirstQueued returns the lowest id Queued sample.
func (s *Store) FirstQueued(ctx context.Context) (*Sample, error) {
	return s.firstWithStatus(ctx, StatusQueued)
}

// FirstRunning returns the lowest id Running sample.
func (s *Store) FirstRunning(ctx context.Context) (*Sample, error) {
	return s.firstWithStatus(ctx, StatusRunning)
}

func (s *Store) setStatus(ctx context.Context, id int64, status Status, extra string, args ...any) error {
	query := `UPDATE samples SET status = ?, updated_at = ?` + extra + ` WHERE id = ?`
	all := append([]any{status, nowString()}, args...)
	all = append(all, id)
	if err := s.execAffecting(ctx, query, all...); err != nil {
		return fmt.Errorf("set sample %d %s: %w", id, status, err)
	}
	return nil
}

// MarkRunning moves a sample to Running.
func (s *Store) MarkRunning(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusRunning, `, error_message = NULL`)
}

// Requeue puts a sample back in line with its progress cleared.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusQueued, `, progress = 0`)
}

// MarkFinished records a successful measurement.
func (s *Store) MarkFinished(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusFinished, `, progress = 100`)
}

// MarkFailed records a failed sample with the reason shown to operators.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.setStatus(ctx, id, StatusFailed, `, error_message = ?`, nullableString(reason))
}

// SetSampleProgress writes the progress percentage of one sample.
func (s *Store) SetSampleProgress(ctx context.Context, id int64, progress int) error {
	if err := s.execAffecting(ctx,
		`UPDATE samples SET progress = ?, updated_at = ? WHERE id = ?`,
		clampPercent(progress), nowString(), id,
	); err != nil {
		return fmt.Errorf("set sample progress: %w", err)
	}
	return nil
}

// SetRunningProgress writes progress to the lowest id Running sample and
// reports whether one existed.
func (s *Store) SetRunningProgress(ctx context.Context, progress int) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE samples SET progress = ?, updated_at = ?
         WHERE id = (SELECT id FROM samples WHERE status = ? ORDER BY id LIMIT 1)`,
		clampPercent(progress), nowString(), StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("set running progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetSampleResult stores the evaluation summary.
func (s *Store) SetSampleResult(ctx context.Context, id int64, result string) error {
	if err := s.execAffecting(ctx,
		`UPDATE samples SET result = ?, updated_at = ? WHERE id = ?`,
		nullableString(result), nowString(), id,
	); err != nil {
		return fmt.Errorf("set sample result: %w", err)
	}
	return nil
}

// RetryFailed moves failed samples (all, or the given ids) back to Queued.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE samples SET status = ?, progress = 0, error_message = NULL, updated_at = ? WHERE status = ?`
	args := []any{StatusQueued, nowString(), StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		args = append(args, int64Args(ids)...)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed samples: %w", err)
	}
	return res.RowsAffected()
}

// RemoveSamples deletes the given samples unless they are running.
func (s *Store) RemoveSamples(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{StatusRunning}, int64Args(ids)...)
	res, err := s.execWithRetry(ctx,
		`DELETE FROM samples WHERE status != ? AND id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("remove samples: %w", err)
	}
	return res.RowsAffected()
}

// ClearFinished deletes finished and failed samples.
func (s *Store) ClearFinished(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM samples WHERE status IN (?, ?)`, StatusFinished, StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("clear finished samples: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of samples grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM samples GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func clampPercent(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
