package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/flavordex/flavorsync/internal/model"
)

// ListTombstones returns the tombstones of the given kind, oldest first.
func (s *Store) ListTombstones(ctx context.Context, kind model.TombstoneKind) ([]model.Tombstone, error) {
	ts, err := queryAll(ctx, s.db,
		sq.Select("id", "type", "ref", "time").From("deleted").Where(sq.Eq{"type": int(kind)}).OrderBy("time", "id"),
		func(s scanner) (model.Tombstone, error) {
			var t model.Tombstone
			var kind int
			err := s.Scan(&t.ID, &kind, &t.Ref, &t.Time)
			t.Kind = model.TombstoneKind(kind)
			return t, err
		})
	if err != nil {
		return nil, fmt.Errorf("listing %s tombstones: %w", kind, err)
	}
	return ts, nil
}

// DeleteTombstone removes one acknowledged tombstone.
func (s *Store) DeleteTombstone(ctx context.Context, id int64) error {
	if _, err := exec(ctx, s.db, sq.Delete("deleted").Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("deleting tombstone %d: %w", id, err)
	}
	return nil
}

// PurgeTombstones removes every tombstone of the given kind and returns how
// many were removed.
func (s *Store) PurgeTombstones(ctx context.Context, kind model.TombstoneKind) (int64, error) {
	res, err := exec(ctx, s.db, sq.Delete("deleted").Where(sq.Eq{"type": int(kind)}))
	if err != nil {
		return 0, fmt.Errorf("purging %s tombstones: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// addTombstone records a local deletion. A second deletion of the same ref is
// a no-op.
func addTombstone(ctx context.Context, q querier, kind model.TombstoneKind, ref string, at int64) error {
	_, err := exec(ctx, q, sq.Insert("deleted").
		Options("OR IGNORE").
		Columns("type", "ref", "time").
		Values(int(kind), ref, at))
	if err != nil {
		return fmt.Errorf("recording %s tombstone %s: %w", kind, ref, err)
	}
	return nil
}
