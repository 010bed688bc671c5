package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/core"
	"github.com/JonMunkholm/manifestsync/internal/logging"
	"github.com/JonMunkholm/manifestsync/internal/manifest"
)

// healthTimeout bounds the backend ping behind /healthz.
const healthTimeout = 5 * time.Second

// RecordResponse is one row in a query response. Fields are keyed by
// canonical column name.
type RecordResponse struct {
	ID       int64             `json:"id,omitempty"`
	UploadID string            `json:"uploadId,omitempty"`
	Key      string            `json:"key,omitempty"`
	Fields   map[string]string `json:"fields"`
}

// RecordsResponse is the JSON form of a query result.
type RecordsResponse struct {
	Mode     core.Mode        `json:"mode"`
	Filter   core.Filter      `json:"filter"`
	UploadID string           `json:"uploadId,omitempty"`
	Count    int              `json:"count"`
	Keyless  int              `json:"keyless"`
	Records  []RecordResponse `json:"records"`
}

// queryRequest reads the shared query parameters:
// mode, upload, filter, q (search text) and field (search column).
func queryRequest(r *http.Request) core.QueryRequest {
	q := r.URL.Query()
	return core.QueryRequest{
		Mode:        core.Mode(q.Get("mode")),
		UploadID:    q.Get("upload"),
		Filter:      core.Filter(q.Get("filter")),
		Search:      q.Get("q"),
		SearchField: q.Get("field"),
	}
}

func toRecordsResponse(res core.QueryResult) RecordsResponse {
	out := RecordsResponse{
		Mode:     res.Mode,
		Filter:   res.Filter,
		UploadID: res.UploadID,
		Count:    len(res.Records),
		Keyless:  res.Keyless,
		Records:  make([]RecordResponse, len(res.Records)),
	}
	for i, rec := range res.Records {
		out.Records[i] = RecordResponse{
			ID:       rec.ID,
			UploadID: rec.UploadID,
			Key:      rec.Key(),
			Fields:   rec.Fields.Map(),
		}
	}
	return out
}

// handleRecords runs the query facade.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Query(r.Context(), queryRequest(r))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, toRecordsResponse(res))
}

// handleDuplicates reports repeated HB and CONTAINER values in the result of
// the same query handleRecords would run.
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Duplicates(r.Context(), queryRequest(r))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if report.HB == nil {
		report.HB = []string{}
	}
	if report.Container == nil {
		report.Container = []string{}
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleExport downloads a query result as CSV (default) or XLSX.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		err := &core.QueryError{Param: "format", Value: format}
		s.respondError(w, r, err, statusFor(err))
		return
	}

	res, err := s.service.Query(r.Context(), queryRequest(r))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("manifest_%s_%s_%s.%s", res.Mode, res.Filter, timestamp, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		err = manifest.WriteXLSX(w, res.Records)
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = manifest.WriteCSV(w, res.Records)
	}

	// Headers are already sent; the failure can only be logged.
	if err != nil && r.Context().Err() == nil {
		logging.FromContext(r.Context()).Error("export failed", "format", format, "error", err)
	}
}

// handleTemplate returns the header-only CSV for the column contract.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="manifest_template.csv"`)

	if err := manifest.WriteTemplate(w); err != nil {
		logging.FromContext(r.Context()).Error("template write failed", "error", err)
	}
}

// handleHealth pings the storage backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"writer": s.service.WriterStatus(),
	})
}
