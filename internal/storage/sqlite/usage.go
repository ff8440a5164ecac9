package sqlite

import (
	"context"
	"strings"
	"time"

	bridge "github.com/eugener/radagast/internal"
)

// InsertUsage batch-inserts usage records.
func (s *Store) InsertUsage(ctx context.Context, records []bridge.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 10
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Model,
			r.InputTokens, r.OutputTokens,
			boolToInt(r.Stream), boolToInt(r.Cached),
			r.LatencyMs, r.StatusCode,
			r.RequestID, r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO usage_records
		(id, model, input_tokens, output_tokens, stream, cached,
		 latency_ms, status_code, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryUsage returns usage records matching the filter, newest first.
func (s *Store) QueryUsage(ctx context.Context, f bridge.UsageFilter) ([]bridge.UsageRecord, error) {
	where, args := usageWhere(f)
	query := `SELECT id, model, input_tokens, output_tokens, stream, cached,
		latency_ms, status_code, request_id, created_at
		FROM usage_records` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.UsageRecord
	for rows.Next() {
		var r bridge.UsageRecord
		var stream, cached int
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.Model,
			&r.InputTokens, &r.OutputTokens,
			&stream, &cached,
			&r.LatencyMs, &r.StatusCode,
			&r.RequestID, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.Stream = stream != 0
		r.Cached = cached != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUsage returns the count of usage records matching the filter.
func (s *Store) CountUsage(ctx context.Context, f bridge.UsageFilter) (int, error) {
	where, args := usageWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records`+where, args...,
	).Scan(&n)
	return n, err
}

func usageWhere(f bridge.UsageFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// DeleteUsageBefore deletes usage records created before the RFC3339 cutoff
// and reports how many rows were removed.
func (s *Store) DeleteUsageBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM usage_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
