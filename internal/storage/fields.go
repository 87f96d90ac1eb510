package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/service"
)

// FieldInfo describes a stored field without decoding it.
type FieldInfo struct {
	UpdatedAt time.Time
	Name      string
	Size      int
}

// Get decodes the named field into dst. It reports false when the field has
// never been written.
func (s *SQLiteStorage) Get(ctx context.Context, field string, dst any) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateField(field); err != nil {
		return false, err
	}
	if dst == nil {
		return false, fmt.Errorf("%w: dst", ErrNilParameter)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM fields WHERE name = ?`, field).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read field %s: %w", field, err)
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("failed to decode field %s: %w", field, err)
	}
	return true, nil
}

// Set replaces the whole field with v.
func (s *SQLiteStorage) Set(ctx context.Context, field string, v any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateField(field); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode field %s: %w", common.ErrStorageWrite, field, err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fields (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		field, string(data), now)
	if err != nil {
		return fmt.Errorf("%w: field %s: %w", common.ErrStorageWrite, field, err)
	}

	s.notify(service.FieldChange{Field: field, ChangedAt: now})
	return nil
}

// Remove deletes the field. Removing an unset field is not an error.
func (s *SQLiteStorage) Remove(ctx context.Context, field string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateField(field); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM fields WHERE name = ?`, field)
	if err != nil {
		return fmt.Errorf("%w: field %s: %w", common.ErrStorageWrite, field, err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		s.notify(service.FieldChange{Field: field, ChangedAt: s.now().UTC(), Removed: true})
	}
	return nil
}

// ListFields returns metadata for every stored field ordered by name.
func (s *SQLiteStorage) ListFields(ctx context.Context) ([]FieldInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, length(value), updated_at FROM fields ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []FieldInfo
	for rows.Next() {
		var info FieldInfo
		if err := rows.Scan(&info.Name, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
