// Package photosync reconciles local photo files against the blob store.
// Photos are identified by the MD5 hash of their content: a photo is
// uploaded once per distinct content, and a photo known only by its blob id
// is downloaded into the photo directory under its hash.
package photosync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flavordex/flavorsync/internal/blob"
	"github.com/flavordex/flavorsync/internal/model"
)

// Store provides the photo rows of the journal.
// Implemented by [store.Store].
type Store interface {
	PhotosMissingBlob(ctx context.Context) ([]model.Photo, error)
	PhotosMissingFile(ctx context.Context) ([]model.Photo, error)
	PhotosWithBlob(ctx context.Context) ([]model.Photo, error)
	SetPhotoHash(ctx context.Context, id int64, hash string) error
	SetPhotoBlobID(ctx context.Context, id int64, blobID string) error
	SetPhotoPath(ctx context.Context, id int64, path string) error
	ClearPhotoBlobID(ctx context.Context, id int64) error
	MarkEntryDirty(ctx context.Context, entryID int64) error
}

// Thumbnails keeps entry thumbnails in step with downloaded photos.
// Implemented by [thumbnail.Cache].
type Thumbnails interface {
	Invalidate(entryID int64) error
	Get(entryID int64, src string) (string, error)
}

// Options selects the optional parts of a pass.
type Options struct {
	// Validate lists the blob store and forgets blob ids that no longer
	// exist there.
	Validate bool
}

// Stats tracks what a single photo pass did.
type Stats struct {
	Hashed        int
	Uploaded      int
	Deduplicated  int
	Downloaded    int
	Cleared       int
	EntriesMarked int
	Errors        int
}

// Syncer runs photo passes.
type Syncer struct {
	store  Store
	blobs  blob.Store
	thumbs Thumbnails
	dir    string
	log    *slog.Logger
}

// New creates a Syncer that downloads into dir. thumbs may be nil.
func New(store Store, blobs blob.Store, thumbs Thumbnails, dir string, logger *slog.Logger) *Syncer {
	return &Syncer{store: store, blobs: blobs, thumbs: thumbs, dir: dir, log: logger}
}

// Run performs one pass: validation (when requested), then uploads, then
// downloads. A failure on one photo is logged and counted and the photo is
// retried on a later pass; only failures to read the work lists are returned.
func (s *Syncer) Run(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats

	if opts.Validate {
		if err := s.validate(ctx, &stats); err != nil {
			return stats, err
		}
	}
	if err := s.pushPhotos(ctx, &stats); err != nil {
		return stats, err
	}
	if err := s.pullPhotos(ctx, &stats); err != nil {
		return stats, err
	}

	s.log.Info("photo sync complete",
		"uploaded", stats.Uploaded,
		"deduplicated", stats.Deduplicated,
		"downloaded", stats.Downloaded,
		"cleared", stats.Cleared,
		"errors", stats.Errors,
	)
	return stats, nil
}

// pushPhotos gives every local photo a blob id, uploading only content the
// blob store does not already hold. Owning entries are marked dirty so the
// new blob ids reach the metadata service.
func (s *Syncer) pushPhotos(ctx context.Context, stats *Stats) error {
	photos, err := s.store.PhotosMissingBlob(ctx)
	if err != nil {
		return fmt.Errorf("listing photos to upload: %w", err)
	}

	touched := make(map[int64]bool)
	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := s.pushPhoto(ctx, &p, stats)
		if err != nil {
			s.log.Warn("photo upload failed, will retry", "photo", p.ID, "path", p.Path, "error", err)
			stats.Errors++
			continue
		}
		if err := s.store.SetPhotoBlobID(ctx, p.ID, id); err != nil {
			s.log.Error("recording blob id", "photo", p.ID, "error", err)
			stats.Errors++
			continue
		}
		touched[p.EntryID] = true
	}

	for entryID := range touched {
		if err := s.store.MarkEntryDirty(ctx, entryID); err != nil {
			s.log.Error("marking entry for re-push", "entry_id", entryID, "error", err)
			stats.Errors++
			continue
		}
		stats.EntriesMarked++
	}
	return nil
}

func (s *Syncer) pushPhoto(ctx context.Context, p *model.Photo, stats *Stats) (string, error) {
	if p.Hash == "" {
		hash, err := model.HashFile(p.Path)
		if err != nil {
			return "", err
		}
		if err := s.store.SetPhotoHash(ctx, p.ID, hash); err != nil {
			return "", fmt.Errorf("persisting hash: %w", err)
		}
		p.Hash = hash
		stats.Hashed++
	}

	id, err := s.blobs.FindByHash(ctx, p.Hash)
	if err == nil {
		s.log.Debug("photo already in blob store", "photo", p.ID, "blob", id)
		stats.Deduplicated++
		return id, nil
	}
	if !errors.Is(err, blob.ErrNotFound) {
		return "", fmt.Errorf("looking up blob: %w", err)
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	id, err = s.blobs.Upload(ctx, f, p.Hash)
	if err != nil {
		return "", err
	}
	s.log.Debug("photo uploaded", "photo", p.ID, "blob", id)
	stats.Uploaded++
	return id, nil
}

// pullPhotos downloads every photo that has a blob id but no local file.
func (s *Syncer) pullPhotos(ctx context.Context, stats *Stats) error {
	photos, err := s.store.PhotosMissingFile(ctx)
	if err != nil {
		return fmt.Errorf("listing photos to download: %w", err)
	}
	if len(photos) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating photo directory: %w", err)
	}

	for _, p := range photos {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.pullPhoto(ctx, p)
		if err != nil {
			s.log.Warn("photo download failed, will retry", "photo", p.ID, "blob", p.BlobID, "error", err)
			stats.Errors++
			continue
		}
		if err := s.store.SetPhotoPath(ctx, p.ID, path); err != nil {
			s.log.Error("recording photo path", "photo", p.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Downloaded++
		s.refreshThumbnail(p, path)
	}
	return nil
}

// refreshThumbnail drops the entry's thumbnail and, when the downloaded
// photo is the entry's first, renders a new one from it.
func (s *Syncer) refreshThumbnail(p model.Photo, path string) {
	if s.thumbs == nil {
		return
	}
	if err := s.thumbs.Invalidate(p.EntryID); err != nil {
		s.log.Warn("invalidating thumbnail", "entry_id", p.EntryID, "error", err)
		return
	}
	if p.Pos != 0 {
		return
	}
	if _, err := s.thumbs.Get(p.EntryID, path); err != nil {
		s.log.Warn("rendering thumbnail", "entry_id", p.EntryID, "error", err)
	}
}

// pullPhoto writes the blob to <dir>/<hash>.jpg through a temporary file so
// a partial download never appears under the final name. Content that does
// not match the expected hash is discarded.
func (s *Syncer) pullPhoto(ctx context.Context, p model.Photo) (string, error) {
	if p.Hash != "" {
		path := s.pathFor(p.Hash)
		if ok, _ := fileHasHash(path, p.Hash); ok {
			return path, nil
		}
	}

	rc, meta, err := s.blobs.Download(ctx, p.BlobID)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	want := p.Hash
	if want == "" {
		want = meta.Hash
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := md5.New() //nolint:gosec // content identity, not security
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), rc)
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}

	got := hex.EncodeToString(h.Sum(nil))
	if want != "" && got != want {
		return "", fmt.Errorf("content hash %s does not match %s", got, want)
	}

	path := s.pathFor(got)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Syncer) pathFor(hash string) string {
	return filepath.Join(s.dir, hash+".jpg")
}

func fileHasHash(path, hash string) (bool, error) {
	got, err := model.HashFile(path)
	if err != nil {
		return false, err
	}
	return got == hash, nil
}

// validate forgets blob ids the blob store no longer holds, so the next
// pass re-uploads those photos from their local files.
func (s *Syncer) validate(ctx context.Context, stats *Stats) error {
	ids, err := s.blobs.List(ctx)
	if err != nil {
		return fmt.Errorf("listing blobs: %w", err)
	}
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	photos, err := s.store.PhotosWithBlob(ctx)
	if err != nil {
		return fmt.Errorf("listing photos with blobs: %w", err)
	}
	for _, p := range photos {
		if present[p.BlobID] {
			continue
		}
		if err := s.store.ClearPhotoBlobID(ctx, p.ID); err != nil {
			s.log.Error("clearing stale blob id", "photo", p.ID, "error", err)
			stats.Errors++
			continue
		}
		s.log.Info("cleared stale blob id", "photo", p.ID, "blob", p.BlobID)
		stats.Cleared++
	}
	return nil
}
