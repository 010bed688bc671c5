package core

import (
	"context"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// ReconcileResult counts what a batch did to the master list.
type ReconcileResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"` // records without a usable key
}

// Reconcile folds records into the master list on behalf of uploadID.
// All upserts commit in one transaction.
func (s *Service) Reconcile(ctx context.Context, uploadID string, records []manifest.Fields) (ReconcileResult, error) {
	var res ReconcileResult
	err := s.write(ctx, func(tx store.Backend) error {
		var err error
		res, err = s.reconcile(ctx, tx, uploadID, records)
		return err
	})
	return res, err
}

// reconcile merges records in order. A key that repeats within the batch is
// added once and then updated by each later occurrence.
func (s *Service) reconcile(ctx context.Context, tx store.Backend, uploadID string, records []manifest.Fields) (ReconcileResult, error) {
	var res ReconcileResult

	keys := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, f := range records {
		k := manifest.KeyOf(f)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	entries := make(map[string]manifest.MasterEntry, len(keys))
	if len(keys) > 0 {
		existing, err := tx.QueryMasterList(ctx, store.MasterQuery{Keys: keys})
		if err != nil {
			return res, err
		}
		for _, e := range existing {
			entries[e.Key] = e
		}
	}

	now := s.now()
	for _, f := range records {
		key := manifest.KeyOf(f)
		if key == "" {
			res.Skipped++
			continue
		}

		var current *manifest.MasterEntry
		if e, ok := entries[key]; ok {
			current = &e
		}

		merged, added := manifest.MergeEntry(current, key, f, uploadID, now)
		entries[key] = merged
		if added {
			res.Added++
		} else {
			res.Updated++
		}
	}

	changed := make([]manifest.MasterEntry, 0, len(keys))
	for _, k := range keys {
		changed = append(changed, entries[k])
	}
	if err := tx.UpsertMasterEntries(ctx, changed); err != nil {
		return res, err
	}
	return res, nil
}

// MasterList returns the whole catalog ordered by key.
func (s *Service) MasterList(ctx context.Context, filter manifest.FRLFilter) ([]manifest.MasterEntry, error) {
	return s.backend.QueryMasterList(ctx, store.MasterQuery{FRL: filter})
}
