package sync

import (
	"context"
	"fmt"

	"github.com/flavordex/flavorsync/internal/model"
)

// pendingCategory is a dirty category ready to push. updated is the local
// modification time the record was built from.
type pendingCategory struct {
	rec     *model.CatRecord
	updated int64
}

type pendingEntry struct {
	rec     *model.EntryRecord
	updated int64
}

// pendingCategoryDeletion pairs a deletion record with the tombstone to drop
// once the service acknowledges it.
type pendingCategoryDeletion struct {
	rec       *model.CatRecord
	tombstone int64
}

type pendingEntryDeletion struct {
	rec       *model.EntryRecord
	tombstone int64
}

// changeset is everything the push phase sends in one cycle.
type changeset struct {
	categories        []pendingCategory
	deletedCategories []pendingCategoryDeletion
	entries           []pendingEntry
	deletedEntries    []pendingEntryDeletion
}

func (c *changeset) empty() bool {
	return len(c.categories)+len(c.deletedCategories)+len(c.entries)+len(c.deletedEntries) == 0
}

// extract reads dirty records and tombstones from the store and converts them
// to wire records, with ages relative to a single "now" for the whole cycle.
func (s *Syncer) extract(ctx context.Context, stats *Stats) (*changeset, error) {
	now := s.now()
	var cs changeset

	cats, err := s.store.FindDirtyCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading dirty categories: %w", err)
	}
	for _, c := range cats {
		cs.categories = append(cs.categories, pendingCategory{rec: model.CategoryRecord(c, now), updated: c.Updated})
	}

	catTombs, err := s.store.ListTombstones(ctx, model.KindCategory)
	if err != nil {
		return nil, fmt.Errorf("reading category tombstones: %w", err)
	}
	for _, t := range catTombs {
		cs.deletedCategories = append(cs.deletedCategories,
			pendingCategoryDeletion{rec: model.DeletedCategoryRecord(t, now), tombstone: t.ID})
	}

	entries, err := s.store.FindDirtyEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading dirty entries: %w", err)
	}
	for _, e := range entries {
		s.hashPhotos(ctx, e, stats)
		cs.entries = append(cs.entries, pendingEntry{rec: model.EntryRecordOf(e, now), updated: e.Updated})
	}

	entryTombs, err := s.store.ListTombstones(ctx, model.KindEntry)
	if err != nil {
		return nil, fmt.Errorf("reading entry tombstones: %w", err)
	}
	for _, t := range entryTombs {
		cs.deletedEntries = append(cs.deletedEntries,
			pendingEntryDeletion{rec: model.DeletedEntryRecord(t, now), tombstone: t.ID})
	}

	s.log.Debug("extracted changes",
		"categories", len(cs.categories),
		"deleted_categories", len(cs.deletedCategories),
		"entries", len(cs.entries),
		"deleted_entries", len(cs.deletedEntries),
	)
	return &cs, nil
}

// hashPhotos fills in missing content hashes from the photo files. A photo
// whose file cannot be read keeps an empty hash and is left out of this
// cycle's record.
func (s *Syncer) hashPhotos(ctx context.Context, e *model.Entry, stats *Stats) {
	for i := range e.Photos {
		p := &e.Photos[i]
		if p.Hash != "" || p.Path == "" {
			continue
		}
		hash, err := model.HashFile(p.Path)
		if err != nil {
			s.log.Debug("photo not readable, skipping this cycle", "entry", e.UUID, "path", p.Path, "error", err)
			continue
		}
		if err := s.store.SetPhotoHash(ctx, p.ID, hash); err != nil {
			s.log.Warn("persisting photo hash", "photo", p.ID, "error", err)
			stats.Errors++
			continue
		}
		p.Hash = hash
		stats.PhotosHashed++
	}
}
