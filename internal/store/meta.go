package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// GetMeta returns the value stored under key, or [ErrNotFound].
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	row, err := queryRow(ctx, s.db, sq.Select("value").From("sync_meta").Where(sq.Eq{"key": key}))
	if err != nil {
		return "", err
	}
	var value string
	if err := row.Scan(&value); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := exec(ctx, s.db, sq.Insert("sync_meta").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value"))
	if err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}
	return nil
}

// Counts summarises the journal for status reporting.
type Counts struct {
	Categories       int
	Entries          int
	Photos           int
	DirtyCategories  int
	DirtyEntries     int
	Tombstones       int
	PendingUploads   int
	PendingDownloads int
}

// Counts returns row counts for the status command.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	queries := []struct {
		dst *int
		b   sq.SelectBuilder
	}{
		{&c.Categories, sq.Select("COUNT(*)").From("categories")},
		{&c.Entries, sq.Select("COUNT(*)").From("entries")},
		{&c.Photos, sq.Select("COUNT(*)").From("photos")},
		{&c.DirtyCategories, sq.Select("COUNT(*)").From("categories").Where(sq.Eq{"synced": 0})},
		{&c.DirtyEntries, sq.Select("COUNT(*)").From("entries").Where(sq.Eq{"synced": 0})},
		{&c.Tombstones, sq.Select("COUNT(*)").From("deleted")},
		{&c.PendingUploads, sq.Select("COUNT(*)").From("photos").Where(sq.And{sq.Eq{"blob_id": ""}, sq.NotEq{"path": ""}})},
		{&c.PendingDownloads, sq.Select("COUNT(*)").From("photos").Where(sq.And{sq.NotEq{"blob_id": ""}, sq.Eq{"path": ""}})},
	}
	for _, qr := range queries {
		row, err := queryRow(ctx, s.db, qr.b)
		if err != nil {
			return c, err
		}
		if err := row.Scan(qr.dst); err != nil {
			return c, fmt.Errorf("counting rows: %w", err)
		}
	}
	return c, nil
}
