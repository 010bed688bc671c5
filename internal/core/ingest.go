package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// UploadedDirName is the inbox subdirectory successfully ingested files move to.
const UploadedDirName = "Uploaded"

// ErrNoInbox is returned by IngestDir when neither a directory nor a
// configured inbox is given.
var ErrNoInbox = errors.New("no inbox directory configured")

// IngestResult reports one completed ingestion.
type IngestResult struct {
	Upload   manifest.Upload `json:"upload"`
	RowsRead int             `json:"rowsRead"` // non-blank data rows in the file
	Written  int             `json:"written"`  // snapshot records stored
	Dropped  int             `json:"dropped"`  // rows rejected by the admission policy
	Added    int             `json:"added"`
	Updated  int             `json:"updated"`
	Keyless  int             `json:"keyless"` // stored records not reconciled for lack of a key
	Duration time.Duration   `json:"duration"`
}

// Ingest parses a CSV or XLSX manifest, stores it as a new snapshot and
// reconciles it into the master list.
//
// A file with missing required columns fails with *manifest.SchemaError
// before anything is written. Snapshot insert and master-list upserts run in
// one transaction, so a storage failure leaves no trace and the whole file
// can be retried.
func (s *Service) Ingest(ctx context.Context, fileName string, r io.Reader) (IngestResult, error) {
	start := time.Now()
	log := s.logger(ctx, "file", fileName)

	ctx, cancel := context.WithTimeout(ctx, s.ingestTimeout)
	defer cancel()

	data, err := readLimited(r, s.maxFileSize)
	if err != nil {
		return IngestResult{}, err
	}

	tbl, err := manifest.ParseFile(fileName, bytes.NewReader(data))
	if err != nil {
		return IngestResult{}, err
	}
	if res := manifest.ValidateHeaders(tbl.Header); !res.OK {
		log.Warn("manifest rejected", "missing", res.Missing)
		return IngestResult{}, res.Err()
	}

	rows := manifest.RowsFromCSV(tbl.Header, tbl.Rows)
	records := manifest.CleanRows(rows)
	result := IngestResult{
		RowsRead: len(rows),
		Dropped:  len(rows) - len(records),
	}

	err = s.write(ctx, func(tx store.Backend) error {
		upload, written, err := saveSnapshot(ctx, tx, fileName, records)
		if err != nil {
			return err
		}
		rec, err := s.reconcile(ctx, tx, upload.ID, records)
		if err != nil {
			return err
		}

		result.Upload = upload
		result.Written = written
		result.Added = rec.Added
		result.Updated = rec.Updated
		result.Keyless = rec.Skipped
		return nil
	})
	if err != nil {
		log.Error("ingestion failed", "error", err)
		return IngestResult{}, err
	}

	result.Duration = time.Since(start)
	log.Info("manifest ingested",
		"upload_id", result.Upload.ID,
		"rows", result.RowsRead,
		"written", result.Written,
		"dropped", result.Dropped,
		"added", result.Added,
		"updated", result.Updated,
		"keyless", result.Keyless,
		"duration", result.Duration,
	)
	return result, nil
}

// readLimited reads all of r, failing once more than max bytes arrive.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: exceeds %dMB limit", ErrFileTooLarge, max/(1024*1024))
	}
	return data, nil
}

// FileOutcome is the result of ingesting one inbox file.
type FileOutcome struct {
	File   string        `json:"file"`
	Result *IngestResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// DirResult collects the outcomes of an inbox run.
type DirResult struct {
	Dir      string        `json:"dir"`
	Files    []FileOutcome `json:"files"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// IngestDir ingests every manifest file in dir, oldest first. Files that
// succeed move to dir/Uploaded; failures stay in place and are reported
// without stopping the run. An empty dir means the configured inbox.
func (s *Service) IngestDir(ctx context.Context, dir string) (DirResult, error) {
	start := time.Now()
	if dir == "" {
		dir = s.inboxDir
	}
	if dir == "" {
		return DirResult{}, ErrNoInbox
	}

	files, err := inboxFiles(dir)
	if err != nil {
		return DirResult{}, err
	}

	res := DirResult{Dir: dir}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		name := filepath.Base(path)
		out := FileOutcome{File: name}

		r, err := s.ingestFile(ctx, path)
		if err != nil {
			out.Error = err.Error()
			res.Failed++
		} else {
			out.Result = &r
			if err := moveToUploaded(dir, path); err != nil {
				s.logger(ctx, "file", name).Warn("could not move ingested file", "error", err)
			}
		}
		res.Files = append(res.Files, out)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (s *Service) ingestFile(ctx context.Context, path string) (IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestResult{}, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	return s.Ingest(ctx, filepath.Base(path), f)
}

// inboxFiles lists .csv and .xlsx files in dir ordered by modification time.
func inboxFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	type inboxFile struct {
		path    string
		modTime time.Time
	}
	var files []inboxFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, inboxFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func moveToUploaded(dir, path string) error {
	uploadedDir := filepath.Join(dir, UploadedDirName)
	if err := os.MkdirAll(uploadedDir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(uploadedDir, filepath.Base(path)))
}
