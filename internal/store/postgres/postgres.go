// Package postgres implements store.Backend on PostgreSQL using pgx.
//
// Snapshot batches are written with the COPY protocol and master entries are
// upserted through a pipelined pgx.Batch, both inside the caller's
// transaction when one is open.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of pgx used by the store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Options configures the connection pool.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

var _ store.Backend = (*Store)(nil)

// Open migrates the database, connects a pool and verifies it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := Migrate(opts.URL); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return New(pool), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Migrate applies the embedded migrations.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// URL to the scheme golang-migrate's pgx
// driver registers.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// CreateUpload inserts an upload row with a fresh time-ordered id.
func (s *Store) CreateUpload(ctx context.Context, fileName string, recordCount int) (manifest.Upload, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return manifest.Upload{}, store.Wrap("create upload", err)
	}

	u := manifest.Upload{ID: id.String(), FileName: fileName, RecordCount: recordCount}
	err = s.db.QueryRow(ctx,
		`INSERT INTO uploads (id, file_name, record_count) VALUES ($1, $2, $3) RETURNING created_at`,
		pgtype.UUID{Bytes: id, Valid: true}, fileName, recordCount,
	).Scan(&u.CreatedAt)
	if err != nil {
		return manifest.Upload{}, store.Wrap("create upload", err)
	}
	return u, nil
}

const uploadColumns = `id::text, file_name, record_count, created_at`

func scanUpload(row pgx.Row) (manifest.Upload, error) {
	var u manifest.Upload
	err := row.Scan(&u.ID, &u.FileName, &u.RecordCount, &u.CreatedAt)
	return u, err
}

// GetUpload returns one upload or store.ErrNotFound.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (manifest.Upload, error) {
	id, ok := parseUUID(uploadID)
	if !ok {
		return manifest.Upload{}, store.ErrNotFound
	}

	u, err := scanUpload(s.db.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return manifest.Upload{}, store.ErrNotFound
	}
	if err != nil {
		return manifest.Upload{}, store.Wrap("get upload", err)
	}
	return u, nil
}

// ListUploads returns uploads newest first.
func (s *Store) ListUploads(ctx context.Context) ([]manifest.Upload, error) {
	rows, err := s.db.Query(ctx, `SELECT `+uploadColumns+` FROM uploads ORDER BY seq DESC`)
	if err != nil {
		return nil, store.Wrap("list uploads", err)
	}
	defer rows.Close()

	var out []manifest.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, store.Wrap("list uploads", err)
		}
		out = append(out, u)
	}
	return out, store.Wrap("list uploads", rows.Err())
}

// PreviousUpload returns the upload created immediately before uploadID.
func (s *Store) PreviousUpload(ctx context.Context, uploadID string) (manifest.Upload, bool, error) {
	if _, err := s.GetUpload(ctx, uploadID); err != nil {
		return manifest.Upload{}, false, err
	}

	id, _ := parseUUID(uploadID)
	u, err := scanUpload(s.db.QueryRow(ctx, `
		SELECT `+uploadColumns+` FROM uploads
		WHERE seq < (SELECT seq FROM uploads WHERE id = $1)
		ORDER BY seq DESC
		LIMIT 1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return manifest.Upload{}, false, nil
	}
	if err != nil {
		return manifest.Upload{}, false, store.Wrap("previous upload", err)
	}
	return u, true, nil
}

// DeleteUpload removes the upload; its records go with it via ON DELETE CASCADE.
func (s *Store) DeleteUpload(ctx context.Context, uploadID string) error {
	id, ok := parseUUID(uploadID)
	if !ok {
		return store.ErrNotFound
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	if err != nil {
		return store.Wrap("delete upload", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertRecords copies records into the snapshot table.
func (s *Store) InsertRecords(ctx context.Context, uploadID string, records []manifest.Fields) (int, error) {
	id, ok := parseUUID(uploadID)
	if !ok {
		return 0, store.ErrNotFound
	}
	if len(records) == 0 {
		return 0, nil
	}

	columns := append([]string{"upload_id", store.KeyColumn}, store.FieldColumns()...)
	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{store.RecordsTable},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			f := records[i]
			row := make([]any, 0, len(columns))
			row = append(row, id, manifest.KeyOf(f))
			for _, v := range f {
				row = append(row, v)
			}
			return row, nil
		}),
	)
	if err != nil {
		return 0, store.Wrap("insert records", err)
	}
	return int(n), nil
}

// QueryRecords returns the records of one upload in insertion order.
func (s *Store) QueryRecords(ctx context.Context, q store.RecordQuery) ([]manifest.Record, error) {
	id, ok := parseUUID(q.UploadID)
	if !ok {
		return nil, nil
	}

	query := `SELECT id, upload_id::text, ` + store.FieldColumnList("") + ` FROM snapshot_records WHERE upload_id = $1`
	if clause := store.FRLClause(q.FRL); clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, store.Wrap("query records", err)
	}
	defer rows.Close()

	var out []manifest.Record
	for rows.Next() {
		var r manifest.Record
		dest := make([]any, 0, 2+manifest.NumColumns)
		dest = append(dest, &r.ID, &r.UploadID)
		for i := range r.Fields {
			dest = append(dest, &r.Fields[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, store.Wrap("query records", err)
		}
		out = append(out, r)
	}
	return out, store.Wrap("query records", rows.Err())
}

var upsertMasterSQL = store.UpsertMasterSQL(func(n int) string { return fmt.Sprintf("$%d", n) })

// UpsertMasterEntries writes entries in one pipelined batch.
func (s *Store) UpsertMasterEntries(ctx context.Context, entries []manifest.MasterEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		args := make([]any, 0, 6+manifest.NumColumns)
		args = append(args, e.Key)
		for _, v := range e.Fields {
			args = append(args, v)
		}
		args = append(args, e.FirstSeenUpload, e.LastUpdatedUpload, e.CreatedAt, e.UpdatedAt, e.LastUpdateReason)
		batch.Queue(upsertMasterSQL, args...)
	}

	br := s.db.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return store.Wrap("upsert master entries", err)
		}
	}
	return store.Wrap("upsert master entries", br.Close())
}

// QueryMasterList returns master entries matching q ordered by key.
func (s *Store) QueryMasterList(ctx context.Context, q store.MasterQuery) ([]manifest.MasterEntry, error) {
	if q.Keys != nil && len(q.Keys) == 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	if q.Keys != nil {
		args = append(args, q.Keys)
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", store.MasterKeyCol, len(args)))
	}
	if clause := store.FRLClause(q.FRL); clause != "" {
		conds = append(conds, clause)
	}
	if q.FirstSeenUpload != "" {
		args = append(args, q.FirstSeenUpload)
		conds = append(conds, fmt.Sprintf("first_seen_upload = $%d", len(args)))
	}
	if q.LastUpdatedUpload != "" {
		args = append(args, q.LastUpdatedUpload)
		conds = append(conds, fmt.Sprintf("last_updated_upload = $%d", len(args)))
	}

	query := `SELECT ` + strings.Join(store.MasterColumns(), ", ") + ` FROM master_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + store.MasterKeyCol

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("query master list", err)
	}
	defer rows.Close()

	var out []manifest.MasterEntry
	for rows.Next() {
		var e manifest.MasterEntry
		dest := make([]any, 0, 6+manifest.NumColumns)
		dest = append(dest, &e.Key)
		for i := range e.Fields {
			dest = append(dest, &e.Fields[i])
		}
		dest = append(dest, &e.FirstSeenUpload, &e.LastUpdatedUpload, &e.CreatedAt, &e.UpdatedAt, &e.LastUpdateReason)
		if err := rows.Scan(dest...); err != nil {
			return nil, store.Wrap("query master list", err)
		}
		out = append(out, e)
	}
	return out, store.Wrap("query master list", rows.Err())
}

// InTx runs fn inside a transaction. Nested calls reuse the open transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Backend) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Wrap("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Wrap("commit", err)
	}
	return nil
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.pool.Ping(ctx))
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func parseUUID(s string) (pgtype.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: id, Valid: true}, true
}
