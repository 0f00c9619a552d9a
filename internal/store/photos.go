package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/flavordex/flavorsync/internal/model"
)

func selectPhotos() sq.SelectBuilder {
	return sq.Select("id", "entry", "hash", "blob_id", "path", "pos").From("photos")
}

func scanPhoto(s scanner) (model.Photo, error) {
	var p model.Photo
	if err := s.Scan(&p.ID, &p.EntryID, &p.Hash, &p.BlobID, &p.Path, &p.Pos); err != nil {
		return p, fmt.Errorf("scanning photo row: %w", err)
	}
	return p, nil
}

func (s *Store) setPhotoColumn(ctx context.Context, id int64, column, value string) error {
	res, err := exec(ctx, s.db, sq.Update("photos").Set(column, value).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("setting %s of photo %d: %w", column, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPhotoHash persists the content hash computed for a photo.
func (s *Store) SetPhotoHash(ctx context.Context, id int64, hash string) error {
	return s.setPhotoColumn(ctx, id, "hash", hash)
}

// SetPhotoBlobID records the blob store id a photo was uploaded as.
func (s *Store) SetPhotoBlobID(ctx context.Context, id int64, blobID string) error {
	return s.setPhotoColumn(ctx, id, "blob_id", blobID)
}

// SetPhotoPath records where a downloaded photo was written.
func (s *Store) SetPhotoPath(ctx context.Context, id int64, path string) error {
	return s.setPhotoColumn(ctx, id, "path", path)
}

// ClearPhotoBlobID forgets a blob id that no longer exists remotely.
func (s *Store) ClearPhotoBlobID(ctx context.Context, id int64) error {
	return s.setPhotoColumn(ctx, id, "blob_id", "")
}

// PhotosMissingBlob returns photos that have a local file but no blob id.
func (s *Store) PhotosMissingBlob(ctx context.Context) ([]model.Photo, error) {
	photos, err := queryAll(ctx, s.db,
		selectPhotos().Where(sq.And{sq.Eq{"blob_id": ""}, sq.NotEq{"path": ""}}).OrderBy("id"),
		scanPhoto)
	if err != nil {
		return nil, fmt.Errorf("querying photos missing blob: %w", err)
	}
	return photos, nil
}

// PhotosMissingFile returns photos that have a blob id but no local file.
func (s *Store) PhotosMissingFile(ctx context.Context) ([]model.Photo, error) {
	photos, err := queryAll(ctx, s.db,
		selectPhotos().Where(sq.And{sq.NotEq{"blob_id": ""}, sq.Eq{"path": ""}}).OrderBy("id"),
		scanPhoto)
	if err != nil {
		return nil, fmt.Errorf("querying photos missing file: %w", err)
	}
	return photos, nil
}

// PhotosWithBlob returns every photo that records a blob id.
func (s *Store) PhotosWithBlob(ctx context.Context) ([]model.Photo, error) {
	photos, err := queryAll(ctx, s.db, selectPhotos().Where(sq.NotEq{"blob_id": ""}).OrderBy("id"), scanPhoto)
	if err != nil {
		return nil, fmt.Errorf("querying photos with blob: %w", err)
	}
	return photos, nil
}
