// Package sync implements the bidirectional synchronisation engine for the
// Flavordex journal. It pushes local changes to the metadata service, pulls
// the service's changes back, and merges them into the local store.
//
// The package contains two main components:
//
//   - [Syncer] runs one metadata sync cycle: extract, push, pull, merge.
//   - [Engine] schedules cycles with backoff, keeps the persistent [State],
//     and runs photo synchronisation as a follow-up cycle.
package sync

import (
	"context"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/photosync"
	"github.com/flavordex/flavorsync/internal/remote"
)

// LocalStore provides access to the journal database.
// Implemented by [store.Store].
type LocalStore interface {
	FindDirtyCategories(ctx context.Context) ([]*model.Category, error)
	FindDirtyEntries(ctx context.Context) ([]*model.Entry, error)
	ListTombstones(ctx context.Context, kind model.TombstoneKind) ([]model.Tombstone, error)
	DeleteTombstone(ctx context.Context, id int64) error
	PurgeTombstones(ctx context.Context, kind model.TombstoneKind) (int64, error)

	MarkCategorySynced(ctx context.Context, uuid string, updated int64) error
	MarkEntrySynced(ctx context.Context, uuid string, updated int64) error
	SetPhotoHash(ctx context.Context, id int64, hash string) error

	CategoryUpdated(ctx context.Context, uuid string) (int64, error)
	EntryUpdated(ctx context.Context, uuid string) (int64, error)
	DeleteCategoryByUUID(ctx context.Context, uuid string) ([]int64, error)
	DeleteEntryByUUID(ctx context.Context, uuid string) (int64, error)
	ApplyCategory(ctx context.Context, rec *model.CatRecord, updated int64) error
	ApplyEntry(ctx context.Context, rec *model.EntryRecord, updated int64) (int64, error)
}

// MetaStore persists small values such as the scheduler [State].
// Implemented by [store.Store].
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Remote is the metadata service.
// Implemented by [remote.Client].
type Remote interface {
	StartSync(ctx context.Context) (remote.Session, error)
	EndSync(ctx context.Context, s remote.Session) error
	PutCategory(ctx context.Context, s remote.Session, rec *model.CatRecord) (bool, error)
	PutEntry(ctx context.Context, s remote.Session, rec *model.EntryRecord) (bool, error)
	GetUpdates(ctx context.Context, s remote.Session) (*model.Updates, error)
	GetCategory(ctx context.Context, s remote.Session, uuid string) (*model.CatRecord, error)
	GetEntry(ctx context.Context, s remote.Session, uuid string) (*model.EntryRecord, error)
	RefreshCredentials(ctx context.Context) error
}

// Thumbnails drops cached thumbnails of entries whose content changed.
// Implemented by [thumbnail.Cache].
type Thumbnails interface {
	Invalidate(entryID int64) error
}

// PhotoSyncer runs one photo synchronisation pass.
// Implemented by [photosync.Syncer].
type PhotoSyncer interface {
	Run(ctx context.Context, opts photosync.Options) (photosync.Stats, error)
}
