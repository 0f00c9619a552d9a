package sync

import (
	"context"
	"errors"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/store"
)

// mergeCategory writes a fetched category into the store. A record flagged
// as deleted removes the local row instead.
func (s *Syncer) mergeCategory(ctx context.Context, rec *model.CatRecord, now int64, stats *Stats) {
	if rec.Deleted {
		s.deleteCategory(ctx, rec.UUID, stats)
		return
	}

	if err := s.store.ApplyCategory(ctx, rec, model.TimeFromAge(rec.Age, now)); err != nil {
		s.log.Error("merging category", "uuid", rec.UUID, "error", err)
		stats.Errors++
		return
	}
	s.log.Debug("category merged", "uuid", rec.UUID, "name", rec.Name)
	stats.CategoriesPulled++
}

// mergeEntry writes a fetched entry into the store. An entry whose category
// is not present locally is skipped without error.
func (s *Syncer) mergeEntry(ctx context.Context, rec *model.EntryRecord, now int64, res *Result) {
	stats := &res.Stats
	if rec.Deleted {
		s.deleteEntry(ctx, rec.UUID, stats)
		return
	}

	id, err := s.store.ApplyEntry(ctx, rec, model.TimeFromAge(rec.Age, now))
	if errors.Is(err, store.ErrNotFound) {
		s.log.Debug("entry category not present, skipping", "uuid", rec.UUID, "category", rec.CatUUID)
		stats.Skipped++
		return
	}
	if err != nil {
		s.log.Error("merging entry", "uuid", rec.UUID, "error", err)
		stats.Errors++
		return
	}
	s.log.Debug("entry merged", "uuid", rec.UUID, "title", rec.Title)
	stats.EntriesPulled++
	s.invalidate(id)
	if len(rec.Photos) > 0 {
		res.PhotoSyncRequested = true
	}
}

func (s *Syncer) deleteEntry(ctx context.Context, uuid string, stats *Stats) {
	id, err := s.store.DeleteEntryByUUID(ctx, uuid)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("deleting entry", "uuid", uuid, "error", err)
			stats.Errors++
		}
		return
	}
	stats.Deleted++
	s.invalidate(id)
}

// deleteCategory removes a category the remote deleted, along with its
// entries and their thumbnails. A category whose entries have unpushed
// changes is kept and re-pushed instead.
func (s *Syncer) deleteCategory(ctx context.Context, uuid string, stats *Stats) {
	ids, err := s.store.DeleteCategoryByUUID(ctx, uuid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case errors.Is(err, store.ErrPendingEntries):
		s.log.Info("keeping deleted category with unpushed entries", "uuid", uuid)
		stats.Skipped++
		return
	case err != nil:
		s.log.Error("deleting category", "uuid", uuid, "error", err)
		stats.Errors++
		return
	}
	stats.Deleted++
	for _, id := range ids {
		s.invalidate(id)
	}
}

func (s *Syncer) invalidate(entryID int64) {
	if s.thumbs == nil {
		return
	}
	if err := s.thumbs.Invalidate(entryID); err != nil {
		s.log.Warn("invalidating thumbnail", "entry_id", entryID, "error", err)
	}
}
