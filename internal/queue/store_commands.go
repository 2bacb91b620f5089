package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const commandColumns = "id, command_id, device, action, argument, status, result, created_at, completed_at"

func scanCommand(scanner interface{ Scan(dest ...any) error }) (*Command, error) {
	var (
		cmd          Command
		argument     sql.NullString
		status       string
		result       sql.NullString
		createdRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&cmd.ID, &cmd.CommandID, &cmd.Device, &cmd.Action, &argument, &status, &result, &createdRaw, &completedRaw); err != nil {
		return nil, err
	}
	cmd.Argument = argument.String
	cmd.Status = CommandStatus(status)
	cmd.Result = result.String
	if created, err := parseTimeString(createdRaw); err == nil {
		cmd.CreatedAt = created
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			cmd.CompletedAt = &completed
		}
	}
	return &cmd, nil
}

// EnqueueCommand records an operator request for the daemon to execute.
func (s *Store) EnqueueCommand(ctx context.Context, device, action, argument string) (*Command, error) {
	device = strings.ToLower(strings.TrimSpace(device))
	action = strings.TrimSpace(action)
	if device == "" || action == "" {
		return nil, errors.New("enqueue command: device and action are required")
	}
	commandID := uuid.NewString()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO device_commands (command_id, device, action, argument, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		commandID, device, action, nullableString(argument), CommandPending, nowString(),
	); err != nil {
		return nil, fmt.Errorf("enqueue command: %w", err)
	}
	return s.GetCommand(ctx, commandID)
}

// GetCommand fetches a command by its public identifier. A missing command
// returns nil, nil.
func (s *Store) GetCommand(ctx context.Context, commandID string) (*Command, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+commandColumns+` FROM device_commands WHERE command_id = ?`, commandID)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get command: %w", err)
	}
	return cmd, nil
}

// PendingCommands returns unprocessed commands oldest first.
func (s *Store) PendingCommands(ctx context.Context, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = 16
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+commandColumns+` FROM device_commands WHERE status = ? ORDER BY id LIMIT ?`,
		CommandPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pending commands: %w", err)
	}
	defer rows.Close()
	var commands []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, rows.Err()
}

// CompleteCommand records the outcome of a command.
func (s *Store) CompleteCommand(ctx context.Context, id int64, ok bool, result string) error {
	status := CommandDone
	if !ok {
		status = CommandFailed
	}
	if err := s.execAffecting(ctx,
		`UPDATE device_commands SET status = ?, result = ?, completed_at = ? WHERE id = ? AND status = ?`,
		status, nullableString(result), nowString(), id, CommandPending,
	); err != nil {
		return fmt.Errorf("complete command %d: %w", id, err)
	}
	return nil
}

// PruneCommands deletes completed commands older than the cutoff.
func (s *Store) PruneCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM device_commands WHERE status != ? AND completed_at < ?`,
		CommandPending, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return res.RowsAffected()
}
