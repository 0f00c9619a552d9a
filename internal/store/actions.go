package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/flavordex/flavorsync/internal/model"
)

// The methods in this file are the user-action surface: local edits that
// leave records dirty for the next sync cycle.

// InsertCategory creates a category with its extra field definitions and
// flavors. Missing UUIDs are generated. On return c carries its local id and
// modification time.
func (s *Store) InsertCategory(ctx context.Context, c *model.Category) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	c.Updated = s.now()
	c.Synced = false

	return s.withTx(ctx, func(q querier) error {
		res, err := exec(ctx, q, sq.Insert("categories").
			Columns("uuid", "name", "preset", "synced", "published", "updated").
			Values(c.UUID, c.Name, boolInt(c.Preset), 0, 0, c.Updated))
		if err != nil {
			return fmt.Errorf("inserting category %q: %w", c.Name, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i := range c.Extras {
			x := &c.Extras[i]
			if x.UUID == "" {
				x.UUID = uuid.NewString()
			}
			res, err := exec(ctx, q, sq.Insert("extras").
				Columns("uuid", "cat", "name", "pos", "deleted").
				Values(x.UUID, c.ID, x.Name, x.Pos, boolInt(x.Deleted)))
			if err != nil {
				return fmt.Errorf("inserting extra %q: %w", x.Name, err)
			}
			if x.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		for _, f := range c.Flavors {
			if _, err := exec(ctx, q, sq.Insert("flavors").
				Columns("cat", "name", "pos").
				Values(c.ID, f.Name, f.Pos)); err != nil {
				return fmt.Errorf("inserting flavor %q: %w", f.Name, err)
			}
		}
		return nil
	})
}

// RenameCategory changes a category's display name.
func (s *Store) RenameCategory(ctx context.Context, uuid, name string) error {
	res, err := exec(ctx, s.db, sq.Update("categories").
		Set("name", name).
		Set("synced", 0).
		Set("updated", s.now()).
		Where(sq.Eq{"uuid": uuid}))
	if err != nil {
		return fmt.Errorf("renaming category %s: %w", uuid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEntry creates an entry under the category named by e.CatUUID, with
// its extra values, flavors, and photos. Returns [ErrNotFound] when the
// category does not exist.
func (s *Store) InsertEntry(ctx context.Context, e *model.Entry) error {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	e.Updated = s.now()
	e.Synced = false

	return s.withTx(ctx, func(q querier) error {
		catID, err := lookupID(ctx, q, "categories", "uuid", e.CatUUID)
		if err != nil {
			return fmt.Errorf("category %s: %w", e.CatUUID, err)
		}
		res, err := exec(ctx, q, sq.Insert("entries").
			Columns("uuid", "cat", "title", "maker", "origin", "price", "location",
				"date", "rating", "notes", "synced", "published", "updated").
			Values(e.UUID, catID, e.Title, e.Maker, e.Origin, e.Price, e.Location,
				e.Date, e.Rating, e.Notes, 0, 0, e.Updated))
		if err != nil {
			return fmt.Errorf("inserting entry %q: %w", e.Title, err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := writeEntryChildren(ctx, q, e); err != nil {
			return err
		}
		for i := range e.Photos {
			p := &e.Photos[i]
			p.EntryID = e.ID
			if p.ID, err = insertPhoto(ctx, q, *p); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateEntry overwrites the fields, extra values, and flavors of the entry
// identified by e.UUID. Photos are managed with [Store.AddPhoto] and
// [Store.DeletePhoto].
func (s *Store) UpdateEntry(ctx context.Context, e *model.Entry) error {
	e.Updated = s.now()
	e.Synced = false

	return s.withTx(ctx, func(q querier) error {
		id, err := lookupID(ctx, q, "entries", "uuid", e.UUID)
		if err != nil {
			return err
		}
		e.ID = id
		if _, err := exec(ctx, q, sq.Update("entries").SetMap(map[string]any{
			"title":    e.Title,
			"maker":    e.Maker,
			"origin":   e.Origin,
			"price":    e.Price,
			"location": e.Location,
			"date":     e.Date,
			"rating":   e.Rating,
			"notes":    e.Notes,
			"synced":   0,
			"updated":  e.Updated,
		}).Where(sq.Eq{"id": id})); err != nil {
			return fmt.Errorf("updating entry %s: %w", e.UUID, err)
		}
		if _, err := exec(ctx, q, sq.Delete("entries_extras").Where(sq.Eq{"entry": id})); err != nil {
			return err
		}
		if _, err := exec(ctx, q, sq.Delete("entries_flavors").Where(sq.Eq{"entry": id})); err != nil {
			return err
		}
		return writeEntryChildren(ctx, q, e)
	})
}

func writeEntryChildren(ctx context.Context, q querier, e *model.Entry) error {
	for _, x := range e.Extras {
		extraID, err := lookupID(ctx, q, "extras", "uuid", x.ExtraUUID)
		if err != nil {
			return fmt.Errorf("extra %s: %w", x.ExtraUUID, err)
		}
		if _, err := exec(ctx, q, sq.Insert("entries_extras").
			Columns("entry", "extra", "value").
			Values(e.ID, extraID, x.Value)); err != nil {
			return fmt.Errorf("inserting extra value %s: %w", x.ExtraUUID, err)
		}
	}
	for _, f := range e.Flavors {
		if _, err := exec(ctx, q, sq.Insert("entries_flavors").
			Columns("entry", "flavor", "value", "pos").
			Values(e.ID, f.Name, f.Value, f.Pos)); err != nil {
			return fmt.Errorf("inserting flavor %q: %w", f.Name, err)
		}
	}
	return nil
}

func insertPhoto(ctx context.Context, q querier, p model.Photo) (int64, error) {
	res, err := exec(ctx, q, sq.Insert("photos").
		Columns("entry", "hash", "blob_id", "path", "pos").
		Values(p.EntryID, p.Hash, p.BlobID, p.Path, p.Pos))
	if err != nil {
		return 0, fmt.Errorf("inserting photo %q: %w", p.Path, err)
	}
	return res.LastInsertId()
}

// touchEntry marks an entry dirty and stamps its modification time.
func (s *Store) touchEntry(ctx context.Context, q querier, entryID int64) error {
	if _, err := exec(ctx, q, sq.Update("entries").
		Set("synced", 0).
		Set("updated", s.now()).
		Where(sq.Eq{"id": entryID})); err != nil {
		return fmt.Errorf("touching entry %d: %w", entryID, err)
	}
	return nil
}

// AddPhoto attaches a local photo file to an entry. The hash may be empty;
// it is computed during the next sync cycle.
func (s *Store) AddPhoto(ctx context.Context, entryUUID, path, hash string, pos int) (model.Photo, error) {
	p := model.Photo{Hash: hash, Path: path, Pos: pos}
	err := s.withTx(ctx, func(q querier) error {
		var err error
		if p.EntryID, err = lookupID(ctx, q, "entries", "uuid", entryUUID); err != nil {
			return err
		}
		if p.ID, err = insertPhoto(ctx, q, p); err != nil {
			return err
		}
		return s.touchEntry(ctx, q, p.EntryID)
	})
	return p, err
}

// DeletePhoto detaches a photo from its entry and tombstones its hash.
func (s *Store) DeletePhoto(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(q querier) error {
		row, err := queryRow(ctx, q, selectPhotos().Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		p, err := scanPhoto(row)
		if err != nil {
			return notFound(err)
		}
		if p.Hash != "" {
			if err := addTombstone(ctx, q, model.KindPhoto, p.Hash, s.now()); err != nil {
				return err
			}
		}
		if _, err := exec(ctx, q, sq.Delete("photos").Where(sq.Eq{"id": id})); err != nil {
			return fmt.Errorf("deleting photo %d: %w", id, err)
		}
		return s.touchEntry(ctx, q, p.EntryID)
	})
}

// DeleteEntry removes an entry and records a tombstone so the deletion
// reaches the remote.
func (s *Store) DeleteEntry(ctx context.Context, uuid string) error {
	return s.withTx(ctx, func(q querier) error {
		return s.deleteEntry(ctx, q, uuid)
	})
}

func (s *Store) deleteEntry(ctx context.Context, q querier, uuid string) error {
	id, err := lookupID(ctx, q, "entries", "uuid", uuid)
	if err != nil {
		return err
	}
	if err := addTombstone(ctx, q, model.KindEntry, uuid, s.now()); err != nil {
		return err
	}
	if _, err := exec(ctx, q, sq.Delete("entries").Where(sq.Eq{"id": id})); err != nil {
		return fmt.Errorf("deleting entry %s: %w", uuid, err)
	}
	return nil
}

// DeleteCategory removes a category together with its entries, tombstoning
// each entry and then the category.
func (s *Store) DeleteCategory(ctx context.Context, uuid string) error {
	return s.withTx(ctx, func(q querier) error {
		catID, err := lookupID(ctx, q, "categories", "uuid", uuid)
		if err != nil {
			return err
		}
		refs, err := queryAll(ctx, q, sq.Select("uuid").From("entries").Where(sq.Eq{"cat": catID}),
			func(s scanner) (string, error) {
				var ref string
				err := s.Scan(&ref)
				return ref, err
			})
		if err != nil {
			return fmt.Errorf("listing entries of category %s: %w", uuid, err)
		}
		for _, ref := range refs {
			if err := s.deleteEntry(ctx, q, ref); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if err := addTombstone(ctx, q, model.KindCategory, uuid, s.now()); err != nil {
			return err
		}
		if _, err := exec(ctx, q, sq.Delete("categories").Where(sq.Eq{"id": catID})); err != nil {
			return fmt.Errorf("deleting category %s: %w", uuid, err)
		}
		return nil
	})
}
