package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/logging"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// DefaultIngestTimeout bounds a single ingestion, from parsing to commit.
const DefaultIngestTimeout = 10 * time.Minute

// DefaultMaxFileSize is the largest accepted manifest file.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// ErrFileTooLarge is returned when an input exceeds Options.MaxFileSize.
var ErrFileTooLarge = errors.New("file too large")

// Options tunes a Service. Zero values select defaults.
type Options struct {
	MaxFileSize   int64
	WriterWait    time.Duration
	IngestTimeout time.Duration
	InboxDir      string
}

// Service provides ingestion, reconciliation and querying of cargo
// manifests over a storage backend.
type Service struct {
	backend       store.Backend
	writer        *WriterLimiter
	maxFileSize   int64
	ingestTimeout time.Duration
	inboxDir      string

	now func() time.Time
}

// NewService creates a Service over backend.
func NewService(backend store.Backend, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = DefaultIngestTimeout
	}

	return &Service{
		backend:       backend,
		writer:        NewWriterLimiter(DefaultMaxWriters, opts.WriterWait),
		maxFileSize:   opts.MaxFileSize,
		ingestTimeout: opts.IngestTimeout,
		inboxDir:      opts.InboxDir,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// WriterStatus reports the single-writer slot state.
func (s *Service) WriterStatus() WriterStatus {
	return s.writer.Status()
}

// WaitForWriters blocks until in-flight writes finish or ctx is done.
func (s *Service) WaitForWriters(ctx context.Context) error {
	return s.writer.WaitForDrain(ctx)
}

// InboxDir returns the configured inbox directory, if any.
func (s *Service) InboxDir() string {
	return s.inboxDir
}

// write runs fn holding the writer slot, inside one backend transaction.
func (s *Service) write(ctx context.Context, fn func(tx store.Backend) error) error {
	if err := s.writer.Acquire(ctx); err != nil {
		return err
	}
	defer s.writer.Release()

	return s.backend.InTx(ctx, fn)
}

func (s *Service) logger(ctx context.Context, args ...any) *slog.Logger {
	return logging.WithFields(ctx, args...)
}
