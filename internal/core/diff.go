package core

import (
	"context"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
	"golang.org/x/sync/errgroup"
)

// DiffCounts summarizes a diff for display.
type DiffCounts struct {
	UploadID         string `json:"uploadId"`
	PreviousUploadID string `json:"previousUploadId,omitempty"`
	New              int    `json:"new"`
	Updated          int    `json:"updated"`
	Removed          int    `json:"removed"`
	Keyless          int    `json:"keyless"`
}

// Diff compares uploadID with the upload created just before it. The first
// upload has no predecessor: every keyed record is new and nothing is removed.
func (s *Service) Diff(ctx context.Context, uploadID string) (manifest.DiffResult, string, error) {
	prev, hasPrev, err := s.backend.PreviousUpload(ctx, uploadID)
	if err != nil {
		return manifest.DiffResult{}, "", err
	}

	var current, previous []manifest.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.backend.QueryRecords(gctx, store.RecordQuery{UploadID: uploadID})
		return err
	})
	if hasPrev {
		g.Go(func() error {
			var err error
			previous, err = s.backend.QueryRecords(gctx, store.RecordQuery{UploadID: prev.ID})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return manifest.DiffResult{}, "", err
	}

	return manifest.Diff(current, previous), prev.ID, nil
}

// NewItems returns keyed records of uploadID absent from its predecessor.
func (s *Service) NewItems(ctx context.Context, uploadID string) ([]manifest.Record, error) {
	d, _, err := s.Diff(ctx, uploadID)
	return d.New, err
}

// RemovedItems returns keyed records of the predecessor absent from uploadID.
func (s *Service) RemovedItems(ctx context.Context, uploadID string) ([]manifest.Record, error) {
	d, _, err := s.Diff(ctx, uploadID)
	return d.Removed, err
}

// UpdatedItems returns keyed records of uploadID whose fields changed since
// the predecessor.
func (s *Service) UpdatedItems(ctx context.Context, uploadID string) ([]manifest.Record, error) {
	d, _, err := s.Diff(ctx, uploadID)
	return d.Updated, err
}

// DiffCounts returns the sizes of each diff set.
func (s *Service) DiffCounts(ctx context.Context, uploadID string) (DiffCounts, error) {
	d, prevID, err := s.Diff(ctx, uploadID)
	if err != nil {
		return DiffCounts{}, err
	}
	return DiffCounts{
		UploadID:         uploadID,
		PreviousUploadID: prevID,
		New:              len(d.New),
		Updated:          len(d.Updated),
		Removed:          len(d.Removed),
		Keyless:          d.Keyless,
	}, nil
}
