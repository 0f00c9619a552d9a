package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/flavordex/flavorsync/internal/model"
)

var entryColumns = []string{
	"e.id", "e.uuid", "c.uuid", "e.title", "e.maker", "e.origin", "e.price",
	"e.location", "e.date", "e.rating", "e.notes", "e.synced", "e.published", "e.updated",
}

func selectEntries() sq.SelectBuilder {
	return sq.Select(entryColumns...).From("entries e").Join("categories c ON c.id = e.cat")
}

func scanEntry(s scanner) (*model.Entry, error) {
	var e model.Entry
	err := s.Scan(&e.ID, &e.UUID, &e.CatUUID, &e.Title, &e.Maker, &e.Origin, &e.Price,
		&e.Location, &e.Date, &e.Rating, &e.Notes, &e.Synced, &e.Published, &e.Updated)
	if err != nil {
		return nil, fmt.Errorf("scanning entry row: %w", err)
	}
	return &e, nil
}

// FindDirtyEntries returns every entry with unacknowledged local changes,
// hydrated with extra values, flavors, and photos.
func (s *Store) FindDirtyEntries(ctx context.Context) ([]*model.Entry, error) {
	entries, err := queryAll(ctx, s.db, selectEntries().Where(sq.Eq{"e.synced": 0}).OrderBy("e.id"), scanEntry)
	if err != nil {
		return nil, fmt.Errorf("querying dirty entries: %w", err)
	}
	for _, e := range entries {
		if err := s.hydrateEntry(ctx, s.db, e); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// GetEntry returns the hydrated entry with the given UUID.
func (s *Store) GetEntry(ctx context.Context, uuid string) (*model.Entry, error) {
	row, err := queryRow(ctx, s.db, selectEntries().Where(sq.Eq{"e.uuid": uuid}))
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.hydrateEntry(ctx, s.db, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntries returns all entries of a category without their children. An
// empty catUUID lists every entry.
func (s *Store) ListEntries(ctx context.Context, catUUID string) ([]*model.Entry, error) {
	b := selectEntries().OrderBy("e.date DESC", "e.id")
	if catUUID != "" {
		b = b.Where(sq.Eq{"c.uuid": catUUID})
	}
	entries, err := queryAll(ctx, s.db, b, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

func (s *Store) hydrateEntry(ctx context.Context, q querier, e *model.Entry) error {
	extras, err := queryAll(ctx, q,
		sq.Select("x.uuid", "x.name", "x.pos", "ee.value").
			From("entries_extras ee").
			Join("extras x ON x.id = ee.extra").
			Where(sq.Eq{"ee.entry": e.ID}).
			OrderBy("x.pos"),
		func(s scanner) (model.ExtraValue, error) {
			var v model.ExtraValue
			err := s.Scan(&v.ExtraUUID, &v.Name, &v.Pos, &v.Value)
			return v, err
		})
	if err != nil {
		return fmt.Errorf("querying extras of entry %s: %w", e.UUID, err)
	}
	flavors, err := queryAll(ctx, q,
		sq.Select("flavor", "pos", "value").From("entries_flavors").Where(sq.Eq{"entry": e.ID}).OrderBy("pos"),
		func(s scanner) (model.Flavor, error) {
			var f model.Flavor
			err := s.Scan(&f.Name, &f.Pos, &f.Value)
			return f, err
		})
	if err != nil {
		return fmt.Errorf("querying flavors of entry %s: %w", e.UUID, err)
	}
	photos, err := queryAll(ctx, q, selectPhotos().Where(sq.Eq{"entry": e.ID}).OrderBy("pos"), scanPhoto)
	if err != nil {
		return fmt.Errorf("querying photos of entry %s: %w", e.UUID, err)
	}
	e.Extras = extras
	e.Flavors = flavors
	e.Photos = photos
	return nil
}

// EntryUpdated returns the local modification time of the entry with the
// given UUID, or [ErrNotFound].
func (s *Store) EntryUpdated(ctx context.Context, uuid string) (int64, error) {
	return updatedOf(ctx, s.db, "entries", uuid)
}

// MarkEntrySynced records a successful push of the entry as it was at time
// updated. See [Store.MarkCategorySynced].
func (s *Store) MarkEntrySynced(ctx context.Context, uuid string, updated int64) error {
	return markSynced(ctx, s.db, "entries", uuid, updated)
}

// MarkEntryDirty flags an entry for re-push without changing its
// modification time.
func (s *Store) MarkEntryDirty(ctx context.Context, entryID int64) error {
	if _, err := exec(ctx, s.db, sq.Update("entries").Set("synced", 0).Where(sq.Eq{"id": entryID})); err != nil {
		return fmt.Errorf("marking entry %d dirty: %w", entryID, err)
	}
	return nil
}

// DeleteEntryByUUID removes an entry and its children without recording a
// tombstone and returns its former local id. Used when the remote reports
// the deletion.
func (s *Store) DeleteEntryByUUID(ctx context.Context, uuid string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(q querier) error {
		var err error
		if id, err = lookupID(ctx, q, "entries", "uuid", uuid); err != nil {
			return err
		}
		_, err = exec(ctx, q, sq.Delete("entries").Where(sq.Eq{"id": id}))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("deleting entry %s: %w", uuid, err)
	}
	return id, nil
}

// ApplyEntry writes an entry received from the remote and returns its local
// id. The entry's category must already exist locally; otherwise
// [ErrNotFound] is returned and nothing is written.
//
// Extra values and flavors are replaced wholesale. Photos are matched by
// hash: existing rows are updated, new hashes inserted, and local photos
// whose hash is absent from rec are removed.
func (s *Store) ApplyEntry(ctx context.Context, rec *model.EntryRecord, updated int64) (int64, error) {
	var entryID int64
	err := s.withTx(ctx, func(q querier) error {
		catID, err := lookupID(ctx, q, "categories", "uuid", rec.CatUUID)
		if err != nil {
			return fmt.Errorf("category %s of entry %s: %w", rec.CatUUID, rec.UUID, err)
		}

		entryID, err = lookupID(ctx, q, "entries", "uuid", rec.UUID)
		switch {
		case errors.Is(err, ErrNotFound):
			res, err := exec(ctx, q, sq.Insert("entries").
				Columns("uuid", "cat", "title", "maker", "origin", "price", "location",
					"date", "rating", "notes", "synced", "published", "updated").
				Values(rec.UUID, catID, rec.Title, rec.Maker, rec.Origin, rec.Price, rec.Location,
					rec.Date, rec.Rating, rec.Notes, 1, 1, updated))
			if err != nil {
				return fmt.Errorf("inserting entry %s: %w", rec.UUID, err)
			}
			if entryID, err = res.LastInsertId(); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("looking up entry %s: %w", rec.UUID, err)
		default:
			if _, err := exec(ctx, q, sq.Update("entries").SetMap(map[string]any{
				"cat":       catID,
				"title":     rec.Title,
				"maker":     rec.Maker,
				"origin":    rec.Origin,
				"price":     rec.Price,
				"location":  rec.Location,
				"date":      rec.Date,
				"rating":    rec.Rating,
				"notes":     rec.Notes,
				"synced":    1,
				"published": 1,
				"updated":   updated,
			}).Where(sq.Eq{"id": entryID})); err != nil {
				return fmt.Errorf("updating entry %s: %w", rec.UUID, err)
			}
		}

		if err := replaceEntryExtras(ctx, q, entryID, rec.Extras); err != nil {
			return err
		}
		if err := replaceEntryFlavors(ctx, q, entryID, rec.Flavors); err != nil {
			return err
		}
		return reconcilePhotos(ctx, q, entryID, rec.Photos)
	})
	if err != nil {
		return 0, err
	}
	return entryID, nil
}

func replaceEntryExtras(ctx context.Context, q querier, entryID int64, extras []model.ExtraRecord) error {
	if _, err := exec(ctx, q, sq.Delete("entries_extras").Where(sq.Eq{"entry": entryID})); err != nil {
		return fmt.Errorf("clearing extras of entry %d: %w", entryID, err)
	}
	for _, x := range extras {
		extraID, err := lookupID(ctx, q, "extras", "uuid", x.UUID)
		if errors.Is(err, ErrNotFound) {
			// The definition was pruned from the category; the value has
			// nothing to attach to.
			continue
		}
		if err != nil {
			return fmt.Errorf("looking up extra %s: %w", x.UUID, err)
		}
		if _, err := exec(ctx, q, sq.Insert("entries_extras").
			Columns("entry", "extra", "value").
			Values(entryID, extraID, x.Value)); err != nil {
			return fmt.Errorf("inserting extra value %s: %w", x.UUID, err)
		}
	}
	return nil
}

func replaceEntryFlavors(ctx context.Context, q querier, entryID int64, flavors []model.FlavorRecord) error {
	if _, err := exec(ctx, q, sq.Delete("entries_flavors").Where(sq.Eq{"entry": entryID})); err != nil {
		return fmt.Errorf("clearing flavors of entry %d: %w", entryID, err)
	}
	for _, f := range flavors {
		if _, err := exec(ctx, q, sq.Insert("entries_flavors").
			Columns("entry", "flavor", "value", "pos").
			Values(entryID, f.Name, f.Value, f.Pos)); err != nil {
			return fmt.Errorf("inserting flavor %q: %w", f.Name, err)
		}
	}
	return nil
}

func reconcilePhotos(ctx context.Context, q querier, entryID int64, photos []model.PhotoRecord) error {
	keep := make([]string, 0, len(photos))
	for _, p := range photos {
		keep = append(keep, p.Hash)

		row, err := queryRow(ctx, q, sq.Select("id").From("photos").
			Where(sq.Eq{"entry": entryID, "hash": p.Hash}).Limit(1))
		if err != nil {
			return err
		}
		var id int64
		err = notFound(row.Scan(&id))
		switch {
		case errors.Is(err, ErrNotFound):
			_, err = exec(ctx, q, sq.Insert("photos").
				Columns("entry", "hash", "blob_id", "pos").
				Values(entryID, p.Hash, p.BlobID, p.Pos))
		case err != nil:
			return fmt.Errorf("looking up photo %s: %w", p.Hash, err)
		default:
			upd := sq.Update("photos").Set("pos", p.Pos).Where(sq.Eq{"id": id})
			if p.BlobID != "" {
				upd = upd.Set("blob_id", p.BlobID)
			}
			_, err = exec(ctx, q, upd)
		}
		if err != nil {
			return fmt.Errorf("writing photo %s: %w", p.Hash, err)
		}
	}

	if _, err := exec(ctx, q, sq.Delete("photos").Where(sq.And{
		sq.Eq{"entry": entryID},
		sq.NotEq{"hash": keep},
	})); err != nil {
		return fmt.Errorf("pruning photos of entry %d: %w", entryID, err)
	}
	return nil
}
