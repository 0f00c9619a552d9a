package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/remote"
	"github.com/flavordex/flavorsync/internal/store"
)

// -----------------------------------------------------------------------
// Push
// -----------------------------------------------------------------------

func TestSync_PushesDirtyRecordsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")

	f.clock.Advance(250)
	st, res := f.syncClean(t, State{})

	want := []string{"start", "put category " + c.UUID, "put entry " + e.UUID, "updates", "end"}
	if got := f.remote.callLog(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if res.Stats.CategoriesPushed != 1 || res.Stats.EntriesPushed != 1 {
		t.Errorf("pushed = %d/%d, want 1/1", res.Stats.CategoriesPushed, res.Stats.EntriesPushed)
	}
	if st.FailureCount != 0 || st.LastSync.IsZero() {
		t.Errorf("state = %+v, want success", st)
	}

	if got := f.remote.pushedCats[0].Age; got != 250 {
		t.Errorf("category age = %d, want 250", got)
	}
	pe := f.remote.pushedEntries[0]
	if pe.CatUUID != c.UUID || pe.Title != "Pale Ale" {
		t.Errorf("pushed entry = %+v", pe)
	}
	if len(pe.Extras) != 1 || pe.Extras[0].UUID != c.Extras[0].UUID || pe.Extras[0].Value != "IPA" {
		t.Errorf("pushed extras = %+v", pe.Extras)
	}

	dirtyC, _ := f.store.FindDirtyCategories(ctx)
	dirtyE, _ := f.store.FindDirtyEntries(ctx)
	if len(dirtyC)+len(dirtyE) != 0 {
		t.Errorf("records still dirty after push: %d categories, %d entries", len(dirtyC), len(dirtyE))
	}
}

func TestSync_IdempotentWithNoChanges(t *testing.T) {
	f := newFixture(t)
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")

	st, _ := f.syncClean(t, State{})
	f.remote.resetLog()

	_, res := f.syncClean(t, st)
	if res.Stats != (Stats{}) {
		t.Errorf("second cycle stats = %+v, want zero", res.Stats)
	}
	want := []string{"start", "updates", "end"}
	if got := f.remote.callLog(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestSync_RejectedRecordsStayDirty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	f.remote.reject = true

	_, res := f.syncClean(t, State{})
	if res.Stats.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", res.Stats.Rejected)
	}
	dirty, _ := f.store.FindDirtyEntries(ctx)
	if len(dirty) != 1 {
		t.Errorf("dirty entries = %d, want 1", len(dirty))
	}
}

func TestSync_EditDuringPushStaysDirty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")

	f.remote.onPutEntry = func(*model.EntryRecord) {
		f.clock.Advance(10)
		e.Title = "Pale Ale (edited)"
		if err := f.store.UpdateEntry(ctx, e); err != nil {
			t.Errorf("UpdateEntry: %v", err)
		}
	}
	f.syncClean(t, State{})

	dirty, err := f.store.FindDirtyEntries(ctx)
	if err != nil {
		t.Fatalf("FindDirtyEntries: %v", err)
	}
	if len(dirty) != 1 || dirty[0].Title != "Pale Ale (edited)" {
		t.Errorf("dirty = %+v, want the edited entry", dirty)
	}
}

func TestSync_HashesPhotosBeforePush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")

	path := filepath.Join(t.TempDir(), "pic.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddPhoto(ctx, e.UUID, path, "", 0); err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	if _, err := f.store.AddPhoto(ctx, e.UUID, filepath.Join(t.TempDir(), "gone.jpg"), "", 1); err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	want, err := model.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}

	_, res := f.syncClean(t, State{})
	if res.Stats.PhotosHashed != 1 {
		t.Errorf("PhotosHashed = %d, want 1", res.Stats.PhotosHashed)
	}
	photos := f.remote.pushedEntries[0].Photos
	if len(photos) != 1 || photos[0].Hash != want {
		t.Errorf("pushed photos = %+v, want one with hash %s", photos, want)
	}

	got, err := f.store.GetEntry(ctx, e.UUID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Photos[0].Hash != want {
		t.Errorf("stored hash = %q, want %q", got.Photos[0].Hash, want)
	}
}

// -----------------------------------------------------------------------
// Deletions
// -----------------------------------------------------------------------

func TestSync_LocalDeletionPushedAndTombstoneDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")
	st, _ := f.syncClean(t, State{})
	f.remote.resetLog()

	f.clock.Advance(100)
	if err := f.store.DeleteEntry(ctx, e.UUID); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	f.clock.Advance(400)
	_, res := f.syncClean(t, st)

	if res.Stats.DeletionsPushed != 1 {
		t.Errorf("DeletionsPushed = %d, want 1", res.Stats.DeletionsPushed)
	}
	if len(f.remote.pushedEntries) != 1 {
		t.Fatalf("pushed entries = %d, want 1", len(f.remote.pushedEntries))
	}
	del := f.remote.pushedEntries[0]
	if !del.Deleted || del.UUID != e.UUID || del.Age != 400 {
		t.Errorf("deletion record = %+v", del)
	}
	tombs, _ := f.store.ListTombstones(ctx, model.KindEntry)
	if len(tombs) != 0 {
		t.Errorf("tombstones left = %d, want 0", len(tombs))
	}
}

func TestSync_RejectedDeletionKeepsTombstone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.syncClean(t, State{})

	if err := f.store.DeleteCategory(ctx, c.UUID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	f.remote.reject = true
	_, res := f.syncClean(t, State{})

	if res.Stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", res.Stats.Rejected)
	}
	tombs, _ := f.store.ListTombstones(ctx, model.KindCategory)
	if len(tombs) != 1 {
		t.Errorf("category tombstones = %d, want 1", len(tombs))
	}
}

func TestSync_PhotoTombstonesPurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")
	p, err := f.store.AddPhoto(ctx, e.UUID, "/nowhere.jpg", "abc", 0)
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	if err := f.store.DeletePhoto(ctx, p.ID); err != nil {
		t.Fatalf("DeletePhoto: %v", err)
	}

	_, res := f.syncClean(t, State{})
	if res.Stats.TombstonesPurged != 1 {
		t.Errorf("TombstonesPurged = %d, want 1", res.Stats.TombstonesPurged)
	}
	if photos := f.remote.pushedEntries[0].Photos; len(photos) != 0 {
		t.Errorf("pushed photos = %+v, want none", photos)
	}
}

func TestSync_RemoteDeletionOrderedByTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	stale := f.seedEntry(t, c, "Deleted remotely")
	kept := f.seedEntry(t, c, "Edited after deletion")
	f.syncClean(t, State{})

	// Both entries were written at 1000. One was deleted remotely at 1500,
	// the other at 500.
	f.clock.Set(2000)
	f.remote.updates = model.Updates{
		DeletedEntries: map[string]int64{stale.UUID: 500, kept.UUID: 1500},
	}
	_, res := f.syncClean(t, State{})

	if res.Stats.Deleted != 1 || res.Stats.Skipped != 1 {
		t.Errorf("Deleted/Skipped = %d/%d, want 1/1", res.Stats.Deleted, res.Stats.Skipped)
	}
	if _, err := f.store.GetEntry(ctx, stale.UUID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale entry: err = %v, want ErrNotFound", err)
	}
	if _, err := f.store.GetEntry(ctx, kept.UUID); err != nil {
		t.Errorf("kept entry: %v", err)
	}
	if len(f.thumbs.invalidated) != 1 || f.thumbs.invalidated[0] != stale.ID {
		t.Errorf("invalidated = %v, want [%d]", f.thumbs.invalidated, stale.ID)
	}
	tombs, _ := f.store.ListTombstones(ctx, model.KindEntry)
	if len(tombs) != 0 {
		t.Errorf("remote deletion wrote %d tombstones, want 0", len(tombs))
	}
}

func TestSync_RemoteCategoryDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")
	f.syncClean(t, State{})

	f.clock.Set(5000)
	f.remote.updates = model.Updates{DeletedCategories: map[string]int64{c.UUID: 1000, "unknown": 10}}
	_, res := f.syncClean(t, State{})

	if res.Stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Stats.Deleted)
	}
	if _, err := f.store.GetCategory(ctx, c.UUID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("category: err = %v, want ErrNotFound", err)
	}
	entries, err := f.store.ListEntries(ctx, c.UUID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries left under deleted category = %d", len(entries))
	}
	if !slices.Contains(f.thumbs.invalidated, e.ID) {
		t.Errorf("thumbnail of %d not invalidated: %v", e.ID, f.thumbs.invalidated)
	}
}

func TestSync_RemoteCategoryDeletionKeepsUnpushedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")
	f.syncClean(t, State{})

	f.clock.Set(5000)
	e.Title = "Pale Ale (edited offline)"
	if err := f.store.UpdateEntry(ctx, e); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	f.remote.reject = true
	f.remote.updates = model.Updates{DeletedCategories: map[string]int64{c.UUID: 3000}}
	_, res := f.syncClean(t, State{})

	if res.Stats.Deleted != 0 || res.Stats.Skipped != 1 {
		t.Errorf("Deleted/Skipped = %d/%d, want 0/1", res.Stats.Deleted, res.Stats.Skipped)
	}
	got, err := f.store.GetEntry(ctx, e.UUID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != "Pale Ale (edited offline)" {
		t.Errorf("Title = %q", got.Title)
	}
	cats, err := f.store.FindDirtyCategories(ctx)
	if err != nil {
		t.Fatalf("FindDirtyCategories: %v", err)
	}
	if len(cats) != 1 || cats[0].UUID != c.UUID || cats[0].Updated != 5000 {
		t.Errorf("dirty categories = %+v, want %s restamped at 5000", cats, c.UUID)
	}
}

// -----------------------------------------------------------------------
// Pull and merge
// -----------------------------------------------------------------------

func TestSync_TieBreakByAge(t *testing.T) {
	tests := []struct {
		name  string
		now   int64
		age   int64
		apply bool
	}{
		{name: "remote older", now: 900, age: 50, apply: false},
		{name: "equal time keeps local", now: 1050, age: 50, apply: false},
		{name: "remote newer", now: 3100, age: 2000, apply: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			c := f.seedCategory(t, "Beer") // updated = 1000
			f.syncClean(t, State{})
			f.remote.resetLog()

			f.clock.Set(tt.now)
			f.remote.updates = model.Updates{UpdatedCategories: map[string]int64{c.UUID: tt.age}}
			f.remote.cats[c.UUID] = &model.CatRecord{UUID: c.UUID, Name: "Remote Beer", Age: tt.age}
			_, res := f.syncClean(t, State{})

			fetched := slices.Contains(f.remote.callLog(), "get category "+c.UUID)
			if fetched != tt.apply {
				t.Errorf("fetched = %v, want %v", fetched, tt.apply)
			}
			got, err := f.store.GetCategory(ctx, c.UUID)
			if err != nil {
				t.Fatalf("GetCategory: %v", err)
			}
			wantName := "Beer"
			if tt.apply {
				wantName = "Remote Beer"
				if res.Stats.CategoriesPulled != 1 {
					t.Errorf("CategoriesPulled = %d, want 1", res.Stats.CategoriesPulled)
				}
				if got.Updated != tt.now-tt.age {
					t.Errorf("Updated = %d, want %d", got.Updated, tt.now-tt.age)
				}
			}
			if got.Name != wantName {
				t.Errorf("Name = %q, want %q", got.Name, wantName)
			}
		})
	}
}

func TestSync_MergeReplacesEntryChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	e := f.seedEntry(t, c, "Pale Ale")
	f.syncClean(t, State{})

	f.clock.Set(10_000)
	f.remote.updates = model.Updates{UpdatedEntries: map[string]int64{e.UUID: 100}}
	f.remote.entries[e.UUID] = &model.EntryRecord{
		UUID:    e.UUID,
		CatUUID: c.UUID,
		Title:   "Pale Ale v2",
		Rating:  3.5,
		Age:     100,
		Extras:  []model.ExtraRecord{{UUID: c.Extras[0].UUID, Value: "NEIPA"}},
		Flavors: []model.FlavorRecord{{Name: "Sweet", Pos: 0, Value: 2}, {Name: "Bitter", Pos: 1, Value: 5}},
	}
	_, res := f.syncClean(t, State{})
	if res.Stats.EntriesPulled != 1 {
		t.Fatalf("EntriesPulled = %d, want 1", res.Stats.EntriesPulled)
	}
	if res.PhotoSyncRequested {
		t.Error("PhotoSyncRequested set for an entry without photos")
	}

	got, err := f.store.GetEntry(ctx, e.UUID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != "Pale Ale v2" || got.Rating != 3.5 || !got.Synced {
		t.Errorf("entry = %+v", got)
	}
	var names []string
	for _, fl := range got.Flavors {
		names = append(names, fl.Name)
	}
	if !slices.Equal(names, []string{"Sweet", "Bitter"}) {
		t.Errorf("flavors = %v, want [Sweet Bitter]", names)
	}
	if len(got.Extras) != 1 || got.Extras[0].Value != "NEIPA" {
		t.Errorf("extras = %+v", got.Extras)
	}
	if !slices.Contains(f.thumbs.invalidated, e.ID) {
		t.Errorf("thumbnail of %d not invalidated: %v", e.ID, f.thumbs.invalidated)
	}
}

func TestSync_NewRemoteEntryWithPhotosRequestsPhotoSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Set(50_000)
	f.remote.updates = model.Updates{
		UpdatedCategories: map[string]int64{"cat-1": 10},
		UpdatedEntries:    map[string]int64{"ent-1": 10},
	}
	f.remote.cats["cat-1"] = &model.CatRecord{UUID: "cat-1", Name: "Wine", Age: 10}
	f.remote.entries["ent-1"] = &model.EntryRecord{
		UUID:    "ent-1",
		CatUUID: "cat-1",
		Title:   "Rioja",
		Age:     10,
		Photos:  []model.PhotoRecord{{Hash: "h1", BlobID: "photos/h1/x", Pos: 0}},
	}

	_, res := f.syncClean(t, State{})
	if !res.PhotoSyncRequested {
		t.Error("PhotoSyncRequested = false, want true")
	}
	missing, err := f.store.PhotosMissingFile(ctx)
	if err != nil {
		t.Fatalf("PhotosMissingFile: %v", err)
	}
	if len(missing) != 1 || missing[0].BlobID != "photos/h1/x" {
		t.Errorf("missing photos = %+v", missing)
	}
	// Category is fetched before the entry that needs it.
	log := f.remote.callLog()
	if slices.Index(log, "get category cat-1") > slices.Index(log, "get entry ent-1") {
		t.Errorf("category fetched after entry: %v", log)
	}
}

func TestSync_EntryWithoutCategorySkipped(t *testing.T) {
	f := newFixture(t)
	f.remote.updates = model.Updates{UpdatedEntries: map[string]int64{"orphan": 0}}
	f.remote.entries["orphan"] = &model.EntryRecord{UUID: "orphan", CatUUID: "nope", Title: "x"}

	_, res := f.syncClean(t, State{})
	if res.Stats.Skipped != 1 || res.Stats.Errors != 0 {
		t.Errorf("Skipped/Errors = %d/%d, want 1/0", res.Stats.Skipped, res.Stats.Errors)
	}
}

func TestSync_RecordVanishedFromRemote(t *testing.T) {
	f := newFixture(t)
	f.remote.updates = model.Updates{UpdatedCategories: map[string]int64{"gone": 0}}

	_, res := f.syncClean(t, State{})
	if res.Stats.CategoriesPulled != 0 || res.Stats.Errors != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestSync_FetchedDeletedFlagRemovesCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.syncClean(t, State{})

	f.clock.Set(9000)
	f.remote.updates = model.Updates{UpdatedCategories: map[string]int64{c.UUID: 0}}
	f.remote.cats[c.UUID] = &model.CatRecord{UUID: c.UUID, Deleted: true}
	_, res := f.syncClean(t, State{})

	if res.Stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Stats.Deleted)
	}
	if _, err := f.store.GetCategory(ctx, c.UUID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// -----------------------------------------------------------------------
// Failures
// -----------------------------------------------------------------------

func TestSync_ReauthenticatesOnceAtStart(t *testing.T) {
	f := newFixture(t)
	f.remote.startErrs = []error{remote.ErrUnauthorized}

	st, _ := f.syncClean(t, State{})
	if f.remote.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", f.remote.refreshes)
	}
	if st.AuthDisabled {
		t.Error("AuthDisabled set after a successful refresh")
	}
}

func TestSync_UnrecoveredAuthFailureDisables(t *testing.T) {
	f := newFixture(t)
	f.remote.startErrs = []error{remote.ErrUnauthorized, remote.ErrUnauthorized}

	st, res := f.syncer.Sync(context.Background(), State{})
	if res.Completed || !errors.Is(res.Err, remote.ErrUnauthorized) {
		t.Fatalf("result = %+v, want unauthorized failure", res)
	}
	if !st.AuthDisabled || st.FailureCount != 1 {
		t.Errorf("state = %+v, want AuthDisabled and one failure", st)
	}

	f.remote.resetLog()
	_, res = f.syncer.Sync(context.Background(), st)
	if !errors.Is(res.Err, ErrAuthDisabled) {
		t.Errorf("Err = %v, want ErrAuthDisabled", res.Err)
	}
	if calls := f.remote.callLog(); len(calls) != 0 {
		t.Errorf("disabled sync contacted the remote: %v", calls)
	}
}

func TestSync_AuthFailureWithoutDisablePolicy(t *testing.T) {
	f := newFixture(t)
	f.syncer.SetPolicy(Policy{StartReauthAttempts: 2})
	f.remote.startErrs = []error{remote.ErrUnauthorized, remote.ErrUnauthorized, remote.ErrUnauthorized}

	st, res := f.syncer.Sync(context.Background(), State{})
	if res.Completed {
		t.Fatal("cycle completed, want failure")
	}
	if f.remote.refreshes != 2 {
		t.Errorf("refreshes = %d, want 2", f.remote.refreshes)
	}
	if st.AuthDisabled {
		t.Error("AuthDisabled set although the policy does not disable")
	}
}

func TestSync_TransientErrorAbortsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	f.remote.putErr = errors.New("connection reset")

	st, res := f.syncer.Sync(ctx, State{FailureCount: 2})
	if res.Completed {
		t.Fatal("cycle completed, want failure")
	}
	if st.FailureCount != 3 || st.AuthDisabled {
		t.Errorf("state = %+v, want FailureCount 3 and auth enabled", st)
	}
	if slices.Contains(f.remote.callLog(), "end") {
		t.Error("session ended after a failed push")
	}
	dirty, _ := f.store.FindDirtyCategories(ctx)
	if len(dirty) != 1 {
		t.Errorf("dirty categories = %d, want 1", len(dirty))
	}

	f.remote.putErr = nil
	st, _ = f.syncClean(t, st)
	if st.FailureCount != 0 {
		t.Errorf("FailureCount after recovery = %d, want 0", st.FailureCount)
	}
}
