package queue

import (
	"database/sql"
	"errors"
	"time"
)

const sampleColumns = "id, name, holder, kind, protocol, scans, rep_time, solvent, method_id, comment, status, progress, result, error_message, created_at, updated_at"

func scanSample(scanner interface{ Scan(dest ...any) error }) (*Sample, error) {
	var (
		sample       Sample
		kind         string
		protocol     sql.NullString
		solvent      sql.NullString
		methodID     sql.NullInt64
		comment      sql.NullString
		status       string
		result       sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&sample.ID,
		&sample.Name,
		&sample.Holder,
		&kind,
		&protocol,
		&sample.Scans,
		&sample.RepTime,
		&solvent,
		&methodID,
		&comment,
		&status,
		&sample.Progress,
		&result,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	// Rows written by other producers may use any casing.
	sample.Kind = Kind(kind)
	if parsed, ok := ParseKind(kind); ok {
		sample.Kind = parsed
	}
	sample.Protocol = protocol.String
	sample.Solvent = solvent.String
	sample.MethodID = methodID.Int64
	sample.Comment = comment.String
	sample.Status = Status(status)
	sample.Result = result.String
	sample.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw.String); err == nil {
		sample.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		sample.UpdatedAt = updated
	}
	return &sample, nil
}

func scanSamples(rows *sql.Rows) ([]*Sample, error) {
	defer rows.Close()
	var samples []*Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func unixOrZero(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(value, 0)
}

func unixSeconds(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
