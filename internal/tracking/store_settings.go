package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dropwatch/internal/config"
)

const settingExtensions = "extensions"

// seedSettings copies locations and rules from cfg into an empty store.
// Keys already present are left alone.
func (s *Store) seedSettings(ctx context.Context, cfg *config.Config) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM locations`).Scan(&count); err != nil {
		return fmt.Errorf("count locations: %w", err)
	}
	if count == 0 {
		if err := s.SaveLocations(ctx, SettingsFromConfig(cfg).Locations); err != nil {
			return fmt.Errorf("seed locations: %w", err)
		}
	}

	seeds := map[string]any{
		settingExtensions:             cfg.Monitoring.Extensions,
		string(RuleStatusRetention):   cfg.Cleanup.StatusRetention,
		string(RuleFileRetention):     cfg.Cleanup.FileRetention,
		string(RuleProcessingTimeout): cfg.Cleanup.ProcessingTimeout,
	}
	for key, value := range seeds {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", key, err)
		}
		if _, err := s.execWithRetry(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, string(raw)); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Settings reads the current locations, extension filter, and cleanup rules.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	ctx = ensureContext(ctx)
	var settings Settings

	err := retryOnBusy(ctx, func() error {
		settings = Settings{}
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, name, path, role, type, username, password, domain
             FROM locations ORDER BY position ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				loc                        Location
				username, password, domain sql.NullString
			)
			if err := rows.Scan(&loc.ID, &loc.Name, &loc.Path, &loc.Role, &loc.Type, &username, &password, &domain); err != nil {
				return err
			}
			loc.Username = username.String
			loc.Password = password.String
			loc.Domain = domain.String
			settings.Locations = append(settings.Locations, loc)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		values := map[string]any{
			settingExtensions:             &settings.Extensions,
			string(RuleStatusRetention):   &settings.StatusRetention,
			string(RuleFileRetention):     &settings.FileRetention,
			string(RuleProcessingTimeout): &settings.ProcessingTimeout,
		}
		for key, dest := range values {
			var raw string
			err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(raw), dest); err != nil {
				return fmt.Errorf("decode setting %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return settings, nil
}

// SaveLocations replaces the watched locations. The set must contain at
// least one import location and exactly one failed location.
func (s *Store) SaveLocations(ctx context.Context, locations []Location) error {
	normalized, err := normalizeLocations(locations)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM locations`); err != nil {
			return fmt.Errorf("clear locations: %w", err)
		}
		for i, loc := range normalized {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO locations (id, position, name, path, role, type, username, password, domain)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				loc.ID, i, loc.Name, loc.Path, loc.Role, loc.Type,
				nullableString(loc.Username), nullableString(loc.Password), nullableString(loc.Domain),
			); err != nil {
				return fmt.Errorf("insert location %s: %w", loc.Path, err)
			}
		}
		return nil
	})
}

// SetRule replaces one cleanup rule.
func (s *Store) SetRule(ctx context.Context, key RuleKey, rule config.Rule) error {
	switch key {
	case RuleStatusRetention, RuleFileRetention, RuleProcessingTimeout:
	default:
		return fmt.Errorf("unknown rule %q", key)
	}
	rule.Unit = strings.ToLower(strings.TrimSpace(rule.Unit))
	if err := config.ValidateRule(rule); err != nil {
		return fmt.Errorf("rule %s: %w", key, err)
	}
	return s.putSetting(ctx, string(key), rule)
}

// SetExtensions replaces the monitored extension filter. Entries are
// lower-cased and given a leading dot.
func (s *Store) SetExtensions(ctx context.Context, extensions []string) error {
	cleaned := make([]string, 0, len(extensions))
	seen := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		cleaned = append(cleaned, ext)
	}
	return s.putSetting(ctx, settingExtensions, cleaned)
}

func (s *Store) putSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

func normalizeLocations(locations []Location) ([]Location, error) {
	out := make([]Location, 0, len(locations))
	imports, failed := 0, 0
	paths := make(map[string]struct{}, len(locations))
	for i, loc := range locations {
		loc.Name = strings.TrimSpace(loc.Name)
		loc.Role = strings.ToLower(strings.TrimSpace(loc.Role))
		loc.Type = strings.ToLower(strings.TrimSpace(loc.Type))
		if loc.Type == "" {
			loc.Type = config.TypeLocal
		}
		if loc.Type != config.TypeLocal && loc.Type != config.TypeNetwork {
			return nil, fmt.Errorf("location %d: unknown type %q", i, loc.Type)
		}
		path := strings.TrimSpace(loc.Path)
		if path == "" {
			return nil, fmt.Errorf("location %d: path is required", i)
		}
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("location %d: %w", i, err)
		}
		loc.Path = filepath.Clean(expanded)
		if _, dup := paths[loc.Path]; dup {
			return nil, fmt.Errorf("location %d: duplicate path %s", i, loc.Path)
		}
		paths[loc.Path] = struct{}{}
		switch loc.Role {
		case config.RoleImport:
			imports++
		case config.RoleFailed:
			failed++
		default:
			return nil, fmt.Errorf("location %d: unknown role %q", i, loc.Role)
		}
		if loc.Name == "" {
			loc.Name = loc.Role
		}
		if loc.ID == "" {
			loc.ID = uuid.NewString()
		}
		out = append(out, loc)
	}
	if imports == 0 {
		return nil, errors.New("at least one import location is required")
	}
	if failed != 1 {
		return nil, fmt.Errorf("exactly one failed location is required, got %d", failed)
	}
	return out, nil
}
