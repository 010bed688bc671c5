// Package store defines the storage backend the reconciliation core runs
// against. Two implementations exist, postgres and sqlite, and they must be
// interchangeable: every method has the same observable behavior on both.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
)

// ErrNotFound is returned when an upload id does not exist.
var ErrNotFound = errors.New("upload not found")

// Backend is the persistence surface consumed by the core.
//
// Upload ids are generated by the backend and are unique; uploads are ordered
// by a backend-assigned creation sequence. Records belong to exactly one
// upload and are removed with it. Master entries reference uploads weakly.
type Backend interface {
	// CreateUpload registers a new upload and returns it with its id.
	CreateUpload(ctx context.Context, fileName string, recordCount int) (manifest.Upload, error)

	// GetUpload returns a single upload or ErrNotFound.
	GetUpload(ctx context.Context, uploadID string) (manifest.Upload, error)

	// ListUploads returns all uploads, newest first.
	ListUploads(ctx context.Context) ([]manifest.Upload, error)

	// PreviousUpload returns the upload created immediately before uploadID.
	// The bool is false when uploadID is the first upload.
	PreviousUpload(ctx context.Context, uploadID string) (manifest.Upload, bool, error)

	// DeleteUpload removes an upload and all of its records.
	DeleteUpload(ctx context.Context, uploadID string) error

	// InsertRecords appends records to an upload and returns the count written.
	InsertRecords(ctx context.Context, uploadID string, records []manifest.Fields) (int, error)

	// QueryRecords returns snapshot records matching q in insertion order.
	QueryRecords(ctx context.Context, q RecordQuery) ([]manifest.Record, error)

	// UpsertMasterEntries inserts or fully overwrites master entries by key.
	UpsertMasterEntries(ctx context.Context, entries []manifest.MasterEntry) error

	// QueryMasterList returns master entries matching q ordered by key.
	QueryMasterList(ctx context.Context, q MasterQuery) ([]manifest.MasterEntry, error)

	// InTx runs fn against a backend bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Backend) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// RecordQuery selects snapshot records of one upload.
type RecordQuery struct {
	UploadID string
	FRL      manifest.FRLFilter
}

// MasterQuery selects master entries. Zero values do not filter.
type MasterQuery struct {
	Keys              []string // restrict to these keys; nil means all keys
	FRL               manifest.FRLFilter
	FirstSeenUpload   string
	LastUpdatedUpload string
}

// StorageError wraps a backend failure. It is distinct from a schema error
// so callers can retry the whole ingestion; batches are atomic.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap returns err as a *StorageError for op. nil, ErrNotFound and errors
// that already are storage errors pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
