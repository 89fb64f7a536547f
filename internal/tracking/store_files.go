package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GetFile fetches a record by name. It returns nil, nil when none exists.
func (s *Store) GetFile(ctx context.Context, name string) (*File, error) {
	ctx = ensureContext(ctx)
	var (
		file *File
		err  error
	)
	retryErr := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM tracked_files WHERE name = ?`, name)
		file, err = scanFile(row)
		if errors.Is(err, sql.ErrNoRows) {
			file, err = nil, nil
		}
		return err
	})
	if retryErr != nil {
		return nil, fmt.Errorf("get file: %w", retryErr)
	}
	return file, nil
}

// ListFiles returns records ordered by last update, newest first. When
// statuses are provided only matching records are returned.
func (s *Store) ListFiles(ctx context.Context, statuses ...Status) ([]File, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + fileColumns + ` FROM tracked_files`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY last_updated DESC, name ASC`

	var files []File
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		files, err = scanFiles(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// UpsertFile creates or replaces the record for file.Name. The ID and
// creation time of an existing record are preserved and written back into
// file. A zero LastUpdated is set to now.
func (s *Store) UpsertFile(ctx context.Context, file *File) error {
	if file == nil {
		return errors.New("file is nil")
	}
	// Names are directory entries and are stored byte for byte; "clip.mov "
	// and "clip.mov" are different files.
	if file.Name == "" {
		return errors.New("file name is required")
	}
	if strings.ContainsAny(file.Name, `/\`) {
		return fmt.Errorf("file name %q must not contain a path separator", file.Name)
	}
	if _, ok := ParseStatus(string(file.Status)); !ok {
		return fmt.Errorf("invalid status %q", file.Status)
	}
	now := s.now()
	if file.LastUpdated.IsZero() {
		file.LastUpdated = now
	}
	id := file.ID
	if id == "" {
		id = uuid.NewString()
	}

	ctx = ensureContext(ctx)
	var createdRaw string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO tracked_files (id, name, status, source, remarks, created_at, last_updated)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(name) DO UPDATE SET
                 status = excluded.status,
                 source = excluded.source,
                 remarks = excluded.remarks,
                 last_updated = excluded.last_updated
             RETURNING id, created_at`,
			id,
			file.Name,
			string(file.Status),
			file.Source,
			file.Remarks,
			formatTime(now),
			formatTime(file.LastUpdated),
		).Scan(&file.ID, &createdRaw)
	})
	if err != nil {
		return fmt.Errorf("upsert file %q: %w", file.Name, err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	return nil
}

// DeleteFile removes the record for name and reports whether one existed.
func (s *Store) DeleteFile(ctx context.Context, name string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tracked_files WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AppendRemark adds text to the record's remarks unless the remarks already
// contain it. The check and the write are one statement.
func (s *Store) AppendRemark(ctx context.Context, name, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE tracked_files SET remarks = CASE
             WHEN remarks = '' THEN ?
             WHEN instr(remarks, ?) > 0 THEN remarks
             ELSE remarks || ? || ?
         END
         WHERE name = ?`,
		text, text, remarkSeparator, text, name,
	)
	if err != nil {
		return fmt.Errorf("append remark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("append remark %q: %w", name, ErrNotFound)
	}
	return nil
}
