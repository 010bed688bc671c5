package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// Mode selects what a query reads.
type Mode string

const (
	ModeSnapshot Mode = "snapshot" // raw records of one upload
	ModeMaster   Mode = "master"   // the reconciled catalog
)

// Filter names a view over the selected records.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterWithFRL    Filter = "with-frl"
	FilterWithoutFRL Filter = "without-frl"
	FilterNew        Filter = "new"
	FilterUpdated    Filter = "updated"
	FilterRemoved    Filter = "removed"
)

// QueryRequest is the single input to the query facade. Empty Mode and
// Filter default to snapshot and all; an empty UploadID means the latest.
type QueryRequest struct {
	Mode        Mode
	UploadID    string
	Filter      Filter
	Search      string
	SearchField string
}

// QueryResult holds the records a query produced.
type QueryResult struct {
	Mode     Mode              `json:"mode"`
	Filter   Filter            `json:"filter"`
	UploadID string            `json:"uploadId,omitempty"`
	Records  []manifest.Record `json:"-"`
	Keyless  int               `json:"keyless"` // records in Records without a usable key
}

// QueryError reports an invalid query parameter.
type QueryError struct {
	Param string
	Value string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query: unknown %s %q", e.Param, e.Value)
}

func (r *QueryRequest) normalize() error {
	r.Mode = Mode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	r.Filter = Filter(strings.ToLower(strings.TrimSpace(string(r.Filter))))
	r.UploadID = strings.TrimSpace(r.UploadID)

	switch r.Mode {
	case "":
		r.Mode = ModeSnapshot
	case ModeSnapshot, ModeMaster:
	default:
		return &QueryError{Param: "mode", Value: string(r.Mode)}
	}

	switch r.Filter {
	case "":
		r.Filter = FilterAll
	case FilterAll, FilterWithFRL, FilterWithoutFRL, FilterNew, FilterUpdated, FilterRemoved:
	default:
		return &QueryError{Param: "filter", Value: string(r.Filter)}
	}
	return nil
}

func (f Filter) frl() manifest.FRLFilter {
	switch f {
	case FilterWithFRL:
		return manifest.FRLPresent
	case FilterWithoutFRL:
		return manifest.FRLAbsent
	default:
		return manifest.FRLAny
	}
}

func (f Filter) isDiff() bool {
	return f == FilterNew || f == FilterUpdated || f == FilterRemoved
}

// Query produces the records for req: the named filter first, then the
// search over its result.
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if err := req.normalize(); err != nil {
		return QueryResult{}, err
	}

	matcher, err := manifest.NewMatcher(req.Search, req.SearchField)
	if err != nil {
		return QueryResult{}, &QueryError{Param: "search field", Value: req.SearchField}
	}

	res := QueryResult{Mode: req.Mode, Filter: req.Filter}

	needsUpload := req.Mode == ModeSnapshot || req.Filter.isDiff()
	if needsUpload {
		if req.UploadID == "" {
			latest, ok, err := s.LatestUpload(ctx)
			if err != nil {
				return QueryResult{}, err
			}
			if !ok {
				return res, nil
			}
			req.UploadID = latest.ID
		} else if _, err := s.backend.GetUpload(ctx, req.UploadID); err != nil {
			return QueryResult{}, err
		}
		res.UploadID = req.UploadID
	}

	var records []manifest.Record
	switch req.Mode {
	case ModeSnapshot:
		records, err = s.snapshotView(ctx, req)
	case ModeMaster:
		records, err = s.masterView(ctx, req)
	}
	if err != nil {
		return QueryResult{}, err
	}

	res.Records = matcher.Filter(records)
	for _, r := range res.Records {
		if r.Key() == "" {
			res.Keyless++
		}
	}
	return res, nil
}

func (s *Service) snapshotView(ctx context.Context, req QueryRequest) ([]manifest.Record, error) {
	if !req.Filter.isDiff() {
		return s.backend.QueryRecords(ctx, store.RecordQuery{UploadID: req.UploadID, FRL: req.Filter.frl()})
	}
	return s.diffView(ctx, req)
}

func (s *Service) masterView(ctx context.Context, req QueryRequest) ([]manifest.Record, error) {
	var q store.MasterQuery
	switch req.Filter {
	case FilterRemoved:
		// Entries are never deleted, so removal is only visible in the diff.
		return s.diffView(ctx, req)
	case FilterNew:
		q.FirstSeenUpload = req.UploadID
	case FilterUpdated:
		q.LastUpdatedUpload = req.UploadID
	default:
		q.FRL = req.Filter.frl()
	}

	entries, err := s.backend.QueryMasterList(ctx, q)
	if err != nil {
		return nil, err
	}

	records := make([]manifest.Record, 0, len(entries))
	for _, e := range entries {
		if req.Filter == FilterUpdated && e.FirstSeenUpload == req.UploadID {
			continue
		}
		records = append(records, e.Record())
	}
	return records, nil
}

func (s *Service) diffView(ctx context.Context, req QueryRequest) ([]manifest.Record, error) {
	d, _, err := s.Diff(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	switch req.Filter {
	case FilterNew:
		return d.New, nil
	case FilterUpdated:
		return d.Updated, nil
	default:
		return d.Removed, nil
	}
}

// DuplicateReport lists values that occur more than once in a query result.
type DuplicateReport struct {
	HB        []string `json:"hb"`
	Container []string `json:"container"`
}

// Duplicates runs req and reports the repeated HB and CONTAINER values in
// exactly that result. Nothing is cached.
func (s *Service) Duplicates(ctx context.Context, req QueryRequest) (DuplicateReport, error) {
	res, err := s.Query(ctx, req)
	if err != nil {
		return DuplicateReport{}, err
	}

	fields := make([]manifest.Fields, len(res.Records))
	for i, r := range res.Records {
		fields[i] = r.Fields
	}
	d := manifest.FindDuplicates(fields)
	return DuplicateReport{
		HB:        manifest.Sorted(d.HB),
		Container: manifest.Sorted(d.Container),
	}, nil
}
