package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats summarizes a generated inventory report.
type Stats struct {
	Rows     int64
	Bytes    int64
	Duration time.Duration
}

// Stream runs the inventory query under a repeatable-read snapshot and
// feeds every row to the encoder, keeping memory flat regardless of vault
// size.
func Stream(ctx context.Context, db *sql.DB, enc Encoder) (*Stats, error) {
	start := time.Now()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		ReadOnly:  true,
		Isolation: sql.LevelRepeatableRead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, name, content_type, size, backend, created_at FROM files ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("inventory query failed: %w", err)
	}
	defer rows.Close()

	if err := enc.Begin(); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	stats := &Stats{}
	for rows.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var row Row
		if err := rows.Scan(&row.ID, &row.Name, &row.ContentType, &row.Size, &row.Backend, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		if err := enc.Write(row); err != nil {
			return nil, fmt.Errorf("report write failed: %w", err)
		}

		stats.Rows++
		stats.Bytes += row.Size
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("report flush failed: %w", err)
	}

	_ = tx.Commit()

	stats.Duration = time.Since(start)
	return stats, nil
}
