package core

import (
	"context"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// Stats summarizes one upload against the master list.
type Stats struct {
	Upload     manifest.Upload `json:"upload"`
	Records    int             `json:"records"`
	WithFRL    int             `json:"withFrl"`
	WithoutFRL int             `json:"withoutFrl"`
	Keyless    int             `json:"keyless"`
	MasterSize int             `json:"masterSize"`
	Diff       DiffCounts      `json:"diff"`
	Totals     manifest.Totals `json:"totals"`
}

// Stats computes record counts, diff counts and quantity totals for uploadID.
func (s *Service) Stats(ctx context.Context, uploadID string) (Stats, error) {
	upload, err := s.backend.GetUpload(ctx, uploadID)
	if err != nil {
		return Stats{}, err
	}

	records, err := s.backend.QueryRecords(ctx, store.RecordQuery{UploadID: uploadID})
	if err != nil {
		return Stats{}, err
	}

	diff, err := s.DiffCounts(ctx, uploadID)
	if err != nil {
		return Stats{}, err
	}

	master, err := s.backend.QueryMasterList(ctx, store.MasterQuery{})
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Upload:     upload,
		Records:    len(records),
		MasterSize: len(master),
		Diff:       diff,
		Keyless:    diff.Keyless,
	}

	fields := make([]manifest.Fields, len(records))
	for i, r := range records {
		fields[i] = r.Fields
		if r.Fields.HasFRL() {
			st.WithFRL++
		} else {
			st.WithoutFRL++
		}
	}
	st.Totals = manifest.Summarize(fields)
	return st, nil
}
