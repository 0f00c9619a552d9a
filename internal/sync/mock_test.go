package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/photosync"
	"github.com/flavordex/flavorsync/internal/remote"
	"github.com/flavordex/flavorsync/internal/store"
)

// --- Mock Remote --------------------------------------------------------------

type mockRemote struct {
	mu gosync.Mutex

	// Served to the syncer.
	cats    map[string]*model.CatRecord
	entries map[string]*model.EntryRecord
	updates model.Updates

	// Recorded from the syncer.
	pushedCats    []*model.CatRecord
	pushedEntries []*model.EntryRecord
	calls         []string
	refreshes     int
	starts        int

	// Failure injection.
	startErrs  []error // consumed one per StartSync call
	refreshErr error
	putErr     error
	reject     bool
	onStart    func()
	onPutEntry func(rec *model.EntryRecord)
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		cats:    make(map[string]*model.CatRecord),
		entries: make(map[string]*model.EntryRecord),
	}
}

func (m *mockRemote) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockRemote) StartSync(context.Context) (remote.Session, error) {
	m.mu.Lock()
	m.starts++
	m.record("start")
	var err error
	if len(m.startErrs) > 0 {
		err, m.startErrs = m.startErrs[0], m.startErrs[1:]
	}
	hook := m.onStart
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if hook != nil {
		hook()
	}
	return "sess", nil
}

func (m *mockRemote) EndSync(context.Context, remote.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("end")
	return nil
}

func (m *mockRemote) PutCategory(_ context.Context, _ remote.Session, rec *model.CatRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("put category " + rec.UUID)
	if m.putErr != nil {
		return false, m.putErr
	}
	cp := *rec
	m.pushedCats = append(m.pushedCats, &cp)
	return !m.reject, nil
}

func (m *mockRemote) PutEntry(_ context.Context, _ remote.Session, rec *model.EntryRecord) (bool, error) {
	m.mu.Lock()
	m.record("put entry " + rec.UUID)
	if m.putErr != nil {
		m.mu.Unlock()
		return false, m.putErr
	}
	cp := *rec
	m.pushedEntries = append(m.pushedEntries, &cp)
	hook := m.onPutEntry
	reject := m.reject
	m.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return !reject, nil
}

func (m *mockRemote) GetUpdates(context.Context, remote.Session) (*model.Updates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("updates")
	u := m.updates
	return &u, nil
}

func (m *mockRemote) GetCategory(_ context.Context, _ remote.Session, uuid string) (*model.CatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get category " + uuid)
	rec, ok := m.cats[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: category %s", remote.ErrNotFound, uuid)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRemote) GetEntry(_ context.Context, _ remote.Session, uuid string) (*model.EntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("get entry " + uuid)
	rec, ok := m.entries[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: entry %s", remote.ErrNotFound, uuid)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRemote) RefreshCredentials(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.refreshErr
}

func (m *mockRemote) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRemote) resetLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.pushedCats = nil
	m.pushedEntries = nil
}

// --- Mock Photo Syncer --------------------------------------------------------

type mockPhotos struct {
	mu    gosync.Mutex
	runs  []photosync.Options
	stats photosync.Stats
	err   error
}

func (m *mockPhotos) Run(_ context.Context, opts photosync.Options) (photosync.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, opts)
	return m.stats, m.err
}

func (m *mockPhotos) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// --- Recording Thumbnails -----------------------------------------------------

type recordingThumbs struct {
	mu          gosync.Mutex
	invalidated []int64
}

func (r *recordingThumbs) Invalidate(entryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, entryID)
	return nil
}

// --- Helpers ------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// clock is a settable millisecond clock shared by the store and the syncer.
type clock struct {
	mu  gosync.Mutex
	now int64
}

func (c *clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

func (c *clock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

type fixture struct {
	store  *store.Store
	remote *mockRemote
	thumbs *recordingThumbs
	syncer *Syncer
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  openTestStore(t),
		remote: newMockRemote(),
		thumbs: &recordingThumbs{},
		clock:  &clock{now: 1000},
	}
	f.store.SetClock(f.clock.Now)
	f.syncer = NewSyncer(f.store, f.remote, f.thumbs, testLogger())
	f.syncer.SetClock(f.clock.Now)
	return f
}

func (f *fixture) seedCategory(t *testing.T, name string) *model.Category {
	t.Helper()
	c := &model.Category{
		Name:    name,
		Extras:  []model.ExtraField{{Name: "Style", Pos: 0}},
		Flavors: []model.Flavor{{Name: "Hoppy", Pos: 0}, {Name: "Malty", Pos: 1}},
	}
	if err := f.store.InsertCategory(context.Background(), c); err != nil {
		t.Fatalf("InsertCategory: %v", err)
	}
	return c
}

func (f *fixture) seedEntry(t *testing.T, c *model.Category, title string) *model.Entry {
	t.Helper()
	e := &model.Entry{
		CatUUID: c.UUID,
		Title:   title,
		Rating:  4,
		Extras:  []model.ExtraValue{{ExtraUUID: c.Extras[0].UUID, Value: "IPA"}},
		Flavors: []model.Flavor{{Name: "Hoppy", Pos: 0, Value: 4}},
	}
	if err := f.store.InsertEntry(context.Background(), e); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	return e
}

// syncClean runs a cycle and fails the test unless it completed.
func (f *fixture) syncClean(t *testing.T, st State) (State, Result) {
	t.Helper()
	st, res := f.syncer.Sync(context.Background(), st)
	if !res.Completed {
		t.Fatalf("sync did not complete: %v", res.Err)
	}
	return st, res
}
