package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/remote"
)

// push sends the changeset, categories before entries. A rejected record is
// left dirty for the next cycle. A remote error aborts the cycle; local store
// errors only skip the affected record.
func (s *Syncer) push(ctx context.Context, session remote.Session, cs *changeset, stats *Stats) error {
	if cs.empty() {
		s.log.Debug("nothing to push")
	}
	for _, pc := range cs.categories {
		ok, err := s.remote.PutCategory(ctx, session, pc.rec)
		if err != nil {
			return fmt.Errorf("pushing category %s: %w", pc.rec.UUID, err)
		}
		if !ok {
			s.log.Warn("category rejected by remote", "uuid", pc.rec.UUID)
			stats.Rejected++
			continue
		}
		if err := s.store.MarkCategorySynced(ctx, pc.rec.UUID, pc.updated); err != nil {
			s.log.Error("marking category synced", "uuid", pc.rec.UUID, "error", err)
			stats.Errors++
			continue
		}
		stats.CategoriesPushed++
	}

	for _, pd := range cs.deletedCategories {
		ok, err := s.remote.PutCategory(ctx, session, pd.rec)
		if err != nil {
			return fmt.Errorf("pushing category deletion %s: %w", pd.rec.UUID, err)
		}
		s.ackDeletion(ctx, ok, model.KindCategory, pd.rec.UUID, pd.tombstone, stats)
	}

	for _, pe := range cs.entries {
		ok, err := s.remote.PutEntry(ctx, session, pe.rec)
		if err != nil {
			return fmt.Errorf("pushing entry %s: %w", pe.rec.UUID, err)
		}
		if !ok {
			s.log.Warn("entry rejected by remote", "uuid", pe.rec.UUID)
			stats.Rejected++
			continue
		}
		if err := s.store.MarkEntrySynced(ctx, pe.rec.UUID, pe.updated); err != nil {
			s.log.Error("marking entry synced", "uuid", pe.rec.UUID, "error", err)
			stats.Errors++
			continue
		}
		stats.EntriesPushed++
	}

	for _, pd := range cs.deletedEntries {
		ok, err := s.remote.PutEntry(ctx, session, pd.rec)
		if err != nil {
			return fmt.Errorf("pushing entry deletion %s: %w", pd.rec.UUID, err)
		}
		s.ackDeletion(ctx, ok, model.KindEntry, pd.rec.UUID, pd.tombstone, stats)
	}

	// Photo removals travel with their entry's photo list; the tombstones
	// are bookkeeping only and are cleared every cycle.
	n, err := s.store.PurgeTombstones(ctx, model.KindPhoto)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Error("purging photo tombstones", "error", err)
		stats.Errors++
	}
	stats.TombstonesPurged += int(n)
	return nil
}

func (s *Syncer) ackDeletion(ctx context.Context, ok bool, kind model.TombstoneKind, ref string, tombstone int64, stats *Stats) {
	if !ok {
		s.log.Warn("deletion rejected by remote", "kind", kind, "uuid", ref)
		stats.Rejected++
		return
	}
	if err := s.store.DeleteTombstone(ctx, tombstone); err != nil {
		s.log.Error("dropping acknowledged tombstone", "kind", kind, "uuid", ref, "error", err)
		stats.Errors++
		return
	}
	stats.DeletionsPushed++
}
