package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/flavordex/flavorsync/internal/model"
)

var categoryColumns = []string{"id", "uuid", "name", "preset", "synced", "published", "updated"}

func scanCategory(s scanner) (*model.Category, error) {
	var c model.Category
	if err := s.Scan(&c.ID, &c.UUID, &c.Name, &c.Preset, &c.Synced, &c.Published, &c.Updated); err != nil {
		return nil, fmt.Errorf("scanning category row: %w", err)
	}
	return &c, nil
}

// FindDirtyCategories returns every category with unacknowledged local
// changes, hydrated with its extra field definitions and flavors.
func (s *Store) FindDirtyCategories(ctx context.Context) ([]*model.Category, error) {
	cats, err := queryAll(ctx, s.db,
		sq.Select(categoryColumns...).From("categories").Where(sq.Eq{"synced": 0}).OrderBy("id"),
		scanCategory)
	if err != nil {
		return nil, fmt.Errorf("querying dirty categories: %w", err)
	}
	for _, c := range cats {
		if err := s.hydrateCategory(ctx, s.db, c); err != nil {
			return nil, err
		}
	}
	return cats, nil
}

// GetCategory returns the hydrated category with the given UUID.
func (s *Store) GetCategory(ctx context.Context, uuid string) (*model.Category, error) {
	row, err := queryRow(ctx, s.db, sq.Select(categoryColumns...).From("categories").Where(sq.Eq{"uuid": uuid}))
	if err != nil {
		return nil, err
	}
	c, err := scanCategory(row)
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.hydrateCategory(ctx, s.db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCategories returns all categories without their children.
func (s *Store) ListCategories(ctx context.Context) ([]*model.Category, error) {
	cats, err := queryAll(ctx, s.db, sq.Select(categoryColumns...).From("categories").OrderBy("name"), scanCategory)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

func (s *Store) hydrateCategory(ctx context.Context, q querier, c *model.Category) error {
	extras, err := queryAll(ctx, q,
		sq.Select("id", "uuid", "name", "pos", "deleted").From("extras").Where(sq.Eq{"cat": c.ID}).OrderBy("pos"),
		func(s scanner) (model.ExtraField, error) {
			var x model.ExtraField
			err := s.Scan(&x.ID, &x.UUID, &x.Name, &x.Pos, &x.Deleted)
			return x, err
		})
	if err != nil {
		return fmt.Errorf("querying extras of category %s: %w", c.UUID, err)
	}
	flavors, err := queryAll(ctx, q,
		sq.Select("name", "pos").From("flavors").Where(sq.Eq{"cat": c.ID}).OrderBy("pos"),
		func(s scanner) (model.Flavor, error) {
			var f model.Flavor
			err := s.Scan(&f.Name, &f.Pos)
			return f, err
		})
	if err != nil {
		return fmt.Errorf("querying flavors of category %s: %w", c.UUID, err)
	}
	c.Extras = extras
	c.Flavors = flavors
	return nil
}

// CategoryUpdated returns the local modification time of the category with
// the given UUID, or [ErrNotFound].
func (s *Store) CategoryUpdated(ctx context.Context, uuid string) (int64, error) {
	return updatedOf(ctx, s.db, "categories", uuid)
}

// MarkCategorySynced records a successful push of the category as it was at
// time updated. The row is addressed by UUID; if it changed again while the
// push was in flight it stays dirty.
func (s *Store) MarkCategorySynced(ctx context.Context, uuid string, updated int64) error {
	return markSynced(ctx, s.db, "categories", uuid, updated)
}

// DeleteCategoryByUUID removes a category and everything it owns without
// recording a tombstone. Used when the remote reports the deletion. It
// returns the ids of the removed entries.
//
// If any entry of the category has unpushed changes nothing is removed: the
// category is marked dirty at the current time so the next push restores it
// on the remote, and ErrPendingEntries is returned.
func (s *Store) DeleteCategoryByUUID(ctx context.Context, uuid string) ([]int64, error) {
	var (
		removed []int64
		pending bool
	)
	err := s.withTx(ctx, func(q querier) error {
		catID, err := lookupID(ctx, q, "categories", "uuid", uuid)
		if err != nil {
			return err
		}
		type owned struct {
			id     int64
			synced int
		}
		entries, err := queryAll(ctx, q, sq.Select("id", "synced").From("entries").Where(sq.Eq{"cat": catID}),
			func(s scanner) (owned, error) {
				var e owned
				err := s.Scan(&e.id, &e.synced)
				return e, err
			})
		if err != nil {
			return fmt.Errorf("listing entries of category %s: %w", uuid, err)
		}
		for _, e := range entries {
			pending = pending || e.synced == 0
		}
		if pending {
			if _, err := exec(ctx, q, sq.Update("categories").
				Set("synced", 0).
				Set("updated", s.now()).
				Where(sq.Eq{"id": catID})); err != nil {
				return fmt.Errorf("keeping category %s: %w", uuid, err)
			}
			return nil
		}

		if _, err := exec(ctx, q, sq.Delete("categories").Where(sq.Eq{"id": catID})); err != nil {
			return fmt.Errorf("deleting category %s: %w", uuid, err)
		}
		for _, e := range entries {
			removed = append(removed, e.id)
		}
		return nil
	})
	switch {
	case err != nil:
		return nil, err
	case pending:
		return nil, ErrPendingEntries
	}
	return removed, nil
}

// ApplyCategory writes a category received from the remote. The row is
// located by UUID and updated in place, or inserted when absent. Extra field
// definitions are reconciled by UUID so entry values keep pointing at them;
// definitions missing from rec are removed. Flavors are replaced wholesale.
func (s *Store) ApplyCategory(ctx context.Context, rec *model.CatRecord, updated int64) error {
	return s.withTx(ctx, func(q querier) error {
		catID, err := lookupID(ctx, q, "categories", "uuid", rec.UUID)
		switch {
		case errors.Is(err, ErrNotFound):
			res, err := exec(ctx, q, sq.Insert("categories").
				Columns("uuid", "name", "synced", "published", "updated").
				Values(rec.UUID, rec.Name, 1, 1, updated))
			if err != nil {
				return fmt.Errorf("inserting category %s: %w", rec.UUID, err)
			}
			if catID, err = res.LastInsertId(); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("looking up category %s: %w", rec.UUID, err)
		default:
			if _, err := exec(ctx, q, sq.Update("categories").
				Set("name", rec.Name).
				Set("synced", 1).
				Set("published", 1).
				Set("updated", updated).
				Where(sq.Eq{"id": catID})); err != nil {
				return fmt.Errorf("updating category %s: %w", rec.UUID, err)
			}
		}

		keep := make([]string, 0, len(rec.Extras))
		for _, x := range rec.Extras {
			keep = append(keep, x.UUID)
			if err := upsertExtra(ctx, q, catID, x); err != nil {
				return err
			}
		}
		if _, err := exec(ctx, q, sq.Delete("extras").Where(sq.And{
			sq.Eq{"cat": catID},
			sq.NotEq{"uuid": keep},
		})); err != nil {
			return fmt.Errorf("pruning extras of category %s: %w", rec.UUID, err)
		}

		if _, err := exec(ctx, q, sq.Delete("flavors").Where(sq.Eq{"cat": catID})); err != nil {
			return fmt.Errorf("clearing flavors of category %s: %w", rec.UUID, err)
		}
		for _, f := range rec.Flavors {
			if _, err := exec(ctx, q, sq.Insert("flavors").
				Columns("cat", "name", "pos").
				Values(catID, f.Name, f.Pos)); err != nil {
				return fmt.Errorf("inserting flavor %q: %w", f.Name, err)
			}
		}
		return nil
	})
}

func upsertExtra(ctx context.Context, q querier, catID int64, x model.ExtraRecord) error {
	id, err := lookupID(ctx, q, "extras", "uuid", x.UUID)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = exec(ctx, q, sq.Insert("extras").
			Columns("uuid", "cat", "name", "pos", "deleted").
			Values(x.UUID, catID, x.Name, x.Pos, boolInt(x.Deleted)))
	case err != nil:
		return fmt.Errorf("looking up extra %s: %w", x.UUID, err)
	default:
		_, err = exec(ctx, q, sq.Update("extras").
			Set("cat", catID).
			Set("name", x.Name).
			Set("pos", x.Pos).
			Set("deleted", boolInt(x.Deleted)).
			Where(sq.Eq{"id": id}))
	}
	if err != nil {
		return fmt.Errorf("writing extra %s: %w", x.UUID, err)
	}
	return nil
}

func updatedOf(ctx context.Context, q querier, table, uuid string) (int64, error) {
	row, err := queryRow(ctx, q, sq.Select("updated").From(table).Where(sq.Eq{"uuid": uuid}))
	if err != nil {
		return 0, err
	}
	var updated int64
	if err := row.Scan(&updated); err != nil {
		return 0, notFound(err)
	}
	return updated, nil
}

func markSynced(ctx context.Context, q querier, table, uuid string, updated int64) error {
	_, err := exec(ctx, q, sq.Update(table).
		Set("published", 1).
		Set("synced", sq.Expr("CASE WHEN updated = ? THEN 1 ELSE synced END", updated)).
		Where(sq.Eq{"uuid": uuid}))
	if err != nil {
		return fmt.Errorf("marking %s %s synced: %w", table, uuid, err)
	}
	return nil
}
