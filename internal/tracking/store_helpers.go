package tracking

import (
	"database/sql"
	"errors"
	"time"
)

const fileColumns = "id, name, status, source, remarks, created_at, last_updated"

// Fixed-width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*File, error) {
	var (
		file       File
		statusStr  string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&file.ID,
		&file.Name,
		&statusStr,
		&file.Source,
		&file.Remarks,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	file.Status = Status(statusStr)
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		file.LastUpdated = updated
	}
	return &file, nil
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	defer rows.Close()
	var files []File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
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
