package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DeleteFilesOlderThan removes records whose last update is before cutoff,
// regardless of status.
func (s *Store) DeleteFilesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tracked_files WHERE last_updated < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old files: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every tracked file record. Settings are untouched.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tracked_files`)
	if err != nil {
		return 0, fmt.Errorf("clear files: %w", err)
	}
	return res.RowsAffected()
}

// ProcessingOlderThan lists processing records last updated before cutoff.
func (s *Store) ProcessingOlderThan(ctx context.Context, cutoff time.Time) ([]File, error) {
	ctx = ensureContext(ctx)
	var files []File
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM tracked_files
             WHERE status = ? AND last_updated < ?
             ORDER BY last_updated ASC`,
			string(StatusProcessing), formatTime(cutoff),
		)
		if err != nil {
			return err
		}
		files, err = scanFiles(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list stale processing files: %w", err)
	}
	return files, nil
}

// MarkTimedOut moves name from processing to timed-out only if it is still
// processing and was last updated before cutoff, merging remark into the
// remarks in the same statement. It reports whether the record changed.
func (s *Store) MarkTimedOut(ctx context.Context, name string, cutoff time.Time, remark string) (bool, error) {
	remark = strings.TrimSpace(remark)
	res, err := s.execWithRetry(ctx,
		`UPDATE tracked_files SET status = ?, last_updated = ?, remarks = CASE
             WHEN ? = '' THEN remarks
             WHEN remarks = '' THEN ?
             WHEN instr(remarks, ?) > 0 THEN remarks
             ELSE remarks || ? || ?
         END
         WHERE name = ? AND status = ? AND last_updated < ?`,
		string(StatusTimedOut), formatTime(s.now()),
		remark, remark, remark, remarkSeparator, remark,
		name, string(StatusProcessing), formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("mark timed out: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM tracked_files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("file stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
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

// Health aggregates record counts for status output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusProcessing:
			health.Processing += count
		case StatusFailed:
			health.Failed += count
		case StatusPublished:
			health.Published += count
		case StatusTimedOut:
			health.TimedOut += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	version, err := s.userVersion(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.SchemaVersion = version
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM tracked_files").Scan(&health.TotalFiles); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count files: %w", err)
	}
	return health, nil
}
