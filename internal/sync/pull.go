package sync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/remote"
	"github.com/flavordex/flavorsync/internal/store"
)

// pull fetches the update manifest and applies it: deletions first, then
// updates, categories before entries in both steps so an entry's category
// is present by the time the entry is merged.
func (s *Syncer) pull(ctx context.Context, session remote.Session, res *Result) error {
	u, err := s.remote.GetUpdates(ctx, session)
	if err != nil {
		return fmt.Errorf("fetching updates: %w", err)
	}
	now := s.now()
	stats := &res.Stats

	for _, uuid := range slices.Sorted(maps.Keys(u.DeletedCategories)) {
		s.applyCategoryDeletion(ctx, uuid, model.TimeFromAge(u.DeletedCategories[uuid], now), stats)
	}
	for _, uuid := range slices.Sorted(maps.Keys(u.DeletedEntries)) {
		s.applyEntryDeletion(ctx, uuid, model.TimeFromAge(u.DeletedEntries[uuid], now), stats)
	}

	for _, uuid := range slices.Sorted(maps.Keys(u.UpdatedCategories)) {
		if err := s.pullCategory(ctx, session, uuid, model.TimeFromAge(u.UpdatedCategories[uuid], now), res); err != nil {
			return err
		}
	}
	for _, uuid := range slices.Sorted(maps.Keys(u.UpdatedEntries)) {
		if err := s.pullEntry(ctx, session, uuid, model.TimeFromAge(u.UpdatedEntries[uuid], now), res); err != nil {
			return err
		}
	}
	return nil
}

// newer reports whether a remote change at remoteTime should replace the
// local row. A missing row always loses; local wins ties.
func newer(local int64, lookupErr error, remoteTime int64) (bool, error) {
	if errors.Is(lookupErr, store.ErrNotFound) {
		return true, nil
	}
	if lookupErr != nil {
		return false, lookupErr
	}
	return remoteTime > local, nil
}

func (s *Syncer) applyCategoryDeletion(ctx context.Context, uuid string, deletedAt int64, stats *Stats) {
	local, err := s.store.CategoryUpdated(ctx, uuid)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("reading category for deletion", "uuid", uuid, "error", err)
		stats.Errors++
		return
	}
	if local >= deletedAt {
		s.log.Debug("keeping category edited after remote deletion", "uuid", uuid)
		stats.Skipped++
		return
	}
	s.deleteCategory(ctx, uuid, stats)
}

func (s *Syncer) applyEntryDeletion(ctx context.Context, uuid string, deletedAt int64, stats *Stats) {
	local, err := s.store.EntryUpdated(ctx, uuid)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("reading entry for deletion", "uuid", uuid, "error", err)
		stats.Errors++
		return
	}
	if local >= deletedAt {
		s.log.Debug("keeping entry edited after remote deletion", "uuid", uuid)
		stats.Skipped++
		return
	}
	s.deleteEntry(ctx, uuid, stats)
}

func (s *Syncer) pullCategory(ctx context.Context, session remote.Session, uuid string, remoteTime int64, res *Result) error {
	local, err := s.store.CategoryUpdated(ctx, uuid)
	apply, err := newer(local, err, remoteTime)
	if err != nil {
		s.log.Error("reading category", "uuid", uuid, "error", err)
		res.Stats.Errors++
		return nil
	}
	if !apply {
		return nil
	}

	rec, err := s.remote.GetCategory(ctx, session, uuid)
	if errors.Is(err, remote.ErrNotFound) {
		s.log.Debug("category vanished from remote", "uuid", uuid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching category %s: %w", uuid, err)
	}
	if rec.UUID == "" {
		rec.UUID = uuid
	}
	s.mergeCategory(ctx, rec, s.now(), &res.Stats)
	return nil
}

func (s *Syncer) pullEntry(ctx context.Context, session remote.Session, uuid string, remoteTime int64, res *Result) error {
	local, err := s.store.EntryUpdated(ctx, uuid)
	apply, err := newer(local, err, remoteTime)
	if err != nil {
		s.log.Error("reading entry", "uuid", uuid, "error", err)
		res.Stats.Errors++
		return nil
	}
	if !apply {
		return nil
	}

	rec, err := s.remote.GetEntry(ctx, session, uuid)
	if errors.Is(err, remote.ErrNotFound) {
		s.log.Debug("entry vanished from remote", "uuid", uuid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching entry %s: %w", uuid, err)
	}
	if rec.UUID == "" {
		rec.UUID = uuid
	}
	s.mergeEntry(ctx, rec, s.now(), res)
	return nil
}
