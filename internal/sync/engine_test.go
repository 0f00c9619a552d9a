package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/photosync"
	"github.com/flavordex/flavorsync/internal/remote"
)

func newTestEngine(t *testing.T, f *fixture, photos PhotoSyncer, cfg EngineConfig) *Engine {
	t.Helper()
	return NewEngine(f.syncer, photos, f.store, cfg, testLogger())
}

// -----------------------------------------------------------------------
// Backoff
// -----------------------------------------------------------------------

func TestBackoffDelay(t *testing.T) {
	base, ceiling := time.Second, 8*time.Second
	tests := []struct {
		failures int
		lo, hi   time.Duration
	}{
		{failures: 0, lo: 0, hi: 0},
		{failures: 1, lo: 500 * time.Millisecond, hi: time.Second},
		{failures: 3, lo: 2 * time.Second, hi: 4 * time.Second},
		{failures: 10, lo: 4 * time.Second, hi: 8 * time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			d := backoffDelay(tt.failures, base, ceiling)
			if tt.hi == 0 {
				if d != 0 {
					t.Errorf("failures=%d: delay = %v, want 0", tt.failures, d)
				}
				continue
			}
			if d < tt.lo || d >= tt.hi {
				t.Errorf("failures=%d: delay = %v, want in [%v, %v)", tt.failures, d, tt.lo, tt.hi)
			}
		}
	}
}

func TestEngine_NextDelay(t *testing.T) {
	f := newFixture(t)
	e := newTestEngine(t, f, nil, EngineConfig{
		PollInterval: time.Hour,
		BackoffBase:  time.Second,
		BackoffMax:   2 * time.Second,
	})

	if d := e.nextDelay(); d != time.Hour {
		t.Errorf("fresh engine delay = %v, want poll interval", d)
	}
	e.setLast(State{FailureCount: 1})
	if d := e.nextDelay(); d < 500*time.Millisecond || d >= time.Second {
		t.Errorf("delay after one failure = %v", d)
	}
	e.setLast(State{FailureCount: 5, AuthDisabled: true})
	if d := e.nextDelay(); d != time.Hour {
		t.Errorf("delay while auth disabled = %v, want poll interval", d)
	}
}

// -----------------------------------------------------------------------
// State persistence
// -----------------------------------------------------------------------

func TestEngine_RunOncePersistsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	e := newTestEngine(t, f, nil, EngineConfig{})

	res, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !res.Completed {
		t.Fatalf("cycle did not complete: %v", res.Err)
	}

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.LastSync.IsZero() || st.FailureCount != 0 {
		t.Errorf("state = %+v", st)
	}
	if !st.LastSync.Equal(time.UnixMilli(1000)) {
		t.Errorf("LastSync = %v, want %v", st.LastSync, time.UnixMilli(1000))
	}
}

func TestEngine_FailuresAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.startErrs = []error{errors.New("dial tcp: refused"), errors.New("dial tcp: refused")}
	e := newTestEngine(t, f, nil, EngineConfig{})

	for range 2 {
		if _, err := e.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", st.FailureCount)
	}
}

func TestEngine_ResetAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.startErrs = []error{remote.ErrUnauthorized, remote.ErrUnauthorized}
	e := newTestEngine(t, f, nil, EngineConfig{})

	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	st, _ := e.Status(ctx)
	if !st.AuthDisabled {
		t.Fatal("AuthDisabled = false after rejected credentials")
	}

	res, _ := e.RunOnce(ctx)
	if !errors.Is(res.Err, ErrAuthDisabled) {
		t.Errorf("Err = %v, want ErrAuthDisabled", res.Err)
	}

	if err := e.ResetAuth(ctx); err != nil {
		t.Fatalf("ResetAuth: %v", err)
	}
	res, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !res.Completed {
		t.Errorf("cycle after ResetAuth did not complete: %v", res.Err)
	}
}

// -----------------------------------------------------------------------
// Photo cycles
// -----------------------------------------------------------------------

func TestEngine_NoPhotoCycleWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	photos := &mockPhotos{}
	e := newTestEngine(t, f, photos, EngineConfig{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 0 {
		t.Errorf("photo runs = %d, want 0", n)
	}
}

func TestEngine_PhotoCycleAfterPullWithPhotos(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(5000)
	f.remote.updates = model.Updates{
		UpdatedCategories: map[string]int64{"c": 0},
		UpdatedEntries:    map[string]int64{"e": 0},
	}
	f.remote.cats["c"] = &model.CatRecord{UUID: "c", Name: "Tea"}
	f.remote.entries["e"] = &model.EntryRecord{
		UUID: "e", CatUUID: "c", Title: "Sencha",
		Photos: []model.PhotoRecord{{Hash: "h", BlobID: "b"}},
	}
	photos := &mockPhotos{}
	e := newTestEngine(t, f, photos, EngineConfig{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 1 {
		t.Errorf("photo runs = %d, want 1", n)
	}
	if photos.runs[0].Validate {
		t.Error("validation ran although it is disabled")
	}
}

func TestEngine_PhotoCycleAfterEntryPush(t *testing.T) {
	f := newFixture(t)
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	photos := &mockPhotos{}
	e := newTestEngine(t, f, photos, EngineConfig{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 1 {
		t.Errorf("photo runs = %d, want 1", n)
	}
}

func TestEngine_RepushesEntriesAfterUpload(t *testing.T) {
	f := newFixture(t)
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	photos := &mockPhotos{stats: photosync.Stats{Uploaded: 1, EntriesMarked: 1}}
	e := newTestEngine(t, f, photos, EngineConfig{})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if f.remote.starts != 2 {
		t.Errorf("sessions = %d, want 2 (follow-up cycle for blob ids)", f.remote.starts)
	}
}

func TestEngine_PhotosPendingRetriedNextCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	photos := &mockPhotos{stats: photosync.Stats{Errors: 1}}
	e := newTestEngine(t, f, photos, EngineConfig{})

	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	st, _ := e.Status(ctx)
	if !st.PhotosPending {
		t.Fatal("PhotosPending = false after photo errors")
	}

	photos.stats = photosync.Stats{}
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 2 {
		t.Errorf("photo runs = %d, want 2", n)
	}
	st, _ = e.Status(ctx)
	if st.PhotosPending {
		t.Error("PhotosPending still set after a clean photo pass")
	}
}

func TestEngine_PhotoValidationInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	photos := &mockPhotos{}
	e := newTestEngine(t, f, photos, EngineConfig{PhotoValidateInterval: time.Hour})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 1 || !photos.runs[0].Validate {
		t.Fatalf("runs = %+v, want one validating run", photos.runs)
	}

	now = now.Add(time.Minute)
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 1 {
		t.Errorf("photo runs = %d, want 1 (validation not due)", n)
	}

	now = now.Add(time.Hour)
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := photos.runCount(); n != 2 {
		t.Errorf("photo runs = %d, want 2", n)
	}
}

func TestEngine_PhotoFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCategory(t, "Beer")
	f.seedEntry(t, c, "Pale Ale")
	photos := &mockPhotos{err: errors.New("bucket unreachable")}
	e := newTestEngine(t, f, photos, EngineConfig{})

	res, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !res.Completed {
		t.Error("metadata cycle reported incomplete because of a photo failure")
	}
	st, _ := e.Status(ctx)
	if !st.PhotosPending {
		t.Error("PhotosPending = false after photo failure")
	}
}

func TestEngine_RunPhotosRequiresPhotoSyncer(t *testing.T) {
	f := newFixture(t)
	e := newTestEngine(t, f, nil, EngineConfig{})
	if _, err := e.RunPhotos(context.Background(), true); err == nil {
		t.Error("RunPhotos without a photo syncer succeeded")
	}
}

// -----------------------------------------------------------------------
// Run loop
// -----------------------------------------------------------------------

func TestEngine_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.remote.onStart = cancel
	e := newTestEngine(t, f, nil, EngineConfig{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_TriggerRunsCycle(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 4)
	f.remote.onStart = func() { started <- struct{}{} }
	e := newTestEngine(t, f, nil, EngineConfig{PollInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	<-started // initial cycle
	e.Trigger()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered cycle did not run")
	}
	cancel()
	<-done
}
