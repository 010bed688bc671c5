package core

import (
	"context"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// SaveSnapshot stores records as a new upload. The upload row and every
// record commit together or not at all. Records are immutable afterwards.
func (s *Service) SaveSnapshot(ctx context.Context, fileName string, records []manifest.Fields) (manifest.Upload, int, error) {
	var (
		upload  manifest.Upload
		written int
	)
	err := s.write(ctx, func(tx store.Backend) error {
		var err error
		upload, written, err = saveSnapshot(ctx, tx, fileName, records)
		return err
	})
	if err != nil {
		return manifest.Upload{}, 0, err
	}
	return upload, written, nil
}

func saveSnapshot(ctx context.Context, tx store.Backend, fileName string, records []manifest.Fields) (manifest.Upload, int, error) {
	upload, err := tx.CreateUpload(ctx, fileName, len(records))
	if err != nil {
		return manifest.Upload{}, 0, err
	}

	written, err := tx.InsertRecords(ctx, upload.ID, records)
	if err != nil {
		return manifest.Upload{}, 0, err
	}
	return upload, written, nil
}

// GetSnapshot returns the records of one upload in insertion order.
func (s *Service) GetSnapshot(ctx context.Context, uploadID string, filter manifest.FRLFilter) ([]manifest.Record, error) {
	if _, err := s.backend.GetUpload(ctx, uploadID); err != nil {
		return nil, err
	}
	return s.backend.QueryRecords(ctx, store.RecordQuery{UploadID: uploadID, FRL: filter})
}

// ListUploads returns every upload, newest first.
func (s *Service) ListUploads(ctx context.Context) ([]manifest.Upload, error) {
	return s.backend.ListUploads(ctx)
}

// GetUpload returns one upload or store.ErrNotFound.
func (s *Service) GetUpload(ctx context.Context, uploadID string) (manifest.Upload, error) {
	return s.backend.GetUpload(ctx, uploadID)
}

// LatestUpload returns the newest upload. The bool is false when nothing
// has been ingested yet.
func (s *Service) LatestUpload(ctx context.Context) (manifest.Upload, bool, error) {
	uploads, err := s.backend.ListUploads(ctx)
	if err != nil || len(uploads) == 0 {
		return manifest.Upload{}, false, err
	}
	return uploads[0], true, nil
}

// DeleteUpload removes an upload and its records. Master entries that
// reference it are left untouched.
func (s *Service) DeleteUpload(ctx context.Context, uploadID string) error {
	err := s.write(ctx, func(tx store.Backend) error {
		return tx.DeleteUpload(ctx, uploadID)
	})
	if err != nil {
		return err
	}

	s.logger(ctx, "upload_id", uploadID).Info("upload deleted")
	return nil
}
