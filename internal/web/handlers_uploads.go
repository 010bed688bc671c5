package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/manifestsync/internal/core"
	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// IngestResponse is the JSON form of a completed ingestion.
type IngestResponse struct {
	Upload   manifest.Upload `json:"upload"`
	RowsRead int             `json:"rowsRead"`
	Written  int             `json:"written"`
	Dropped  int             `json:"dropped"`
	Added    int             `json:"added"`
	Updated  int             `json:"updated"`
	Keyless  int             `json:"keyless"`
	Duration string          `json:"duration"`
}

// toIngestResponse converts an IngestResult to a JSON-friendly format.
func toIngestResponse(r core.IngestResult) IngestResponse {
	return IngestResponse{
		Upload:   r.Upload,
		RowsRead: r.RowsRead,
		Written:  r.Written,
		Dropped:  r.Dropped,
		Added:    r.Added,
		Updated:  r.Updated,
		Keyless:  r.Keyless,
		Duration: r.Duration.String(),
	}
}

// handleUpload ingests a manifest sent as the multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			err = fmt.Errorf("%w: request body exceeds %d bytes", core.ErrFileTooLarge, s.cfg.Upload.MaxFileSize)
		} else {
			err = fmt.Errorf("%w: %v", errNoFile, err)
		}
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	result, err := s.service.Ingest(r.Context(), header.Filename, file)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, r, http.StatusCreated, toIngestResponse(result))
}

// handleListUploads returns all uploads, newest first.
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.service.ListUploads(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if uploads == nil {
		uploads = []manifest.Upload{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"uploads": uploads})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := s.service.GetUpload(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, upload)
}

// handleDeleteUpload removes an upload and its snapshot records. The master
// list is left untouched.
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteUpload(r.Context(), chi.URLParam(r, "uploadID")); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.DiffCounts(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, counts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleIngestInbox ingests every manifest waiting in the configured inbox
// directory. Per-file failures are reported in the body, not as an error.
func (s *Server) handleIngestInbox(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.IngestDir(r.Context(), "")
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if res.Files == nil {
		res.Files = []core.FileOutcome{}
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleWriterStatus returns the current state of the writer slot.
func (s *Server) handleWriterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.WriterStatus())
}
