// Package sqlite implements store.Backend on an embedded SQLite file using
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timeLayout = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store is the SQLite backend.
type Store struct {
	conn *sql.DB
	db   querier
	inTx bool
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if needed) the database file at path and migrates it.
// SQLite allows a single writer, so the pool is limited to one connection.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrateUp(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Store{conn: conn, db: conn}, nil
}

// migrateUp applies the embedded migrations. The migrate instance is not
// closed because that would close conn.
func migrateUp(conn *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// CreateUpload inserts an upload row with a fresh time-ordered id.
func (s *Store) CreateUpload(ctx context.Context, fileName string, recordCount int) (manifest.Upload, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return manifest.Upload{}, store.Wrap("create upload", err)
	}

	u := manifest.Upload{
		ID:          id.String(),
		FileName:    fileName,
		RecordCount: recordCount,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, file_name, record_count, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.FileName, u.RecordCount, u.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return manifest.Upload{}, store.Wrap("create upload", err)
	}
	return u, nil
}

const uploadColumns = `id, file_name, record_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (manifest.Upload, error) {
	var (
		u       manifest.Upload
		created string
	)
	if err := row.Scan(&u.ID, &u.FileName, &u.RecordCount, &created); err != nil {
		return manifest.Upload{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return manifest.Upload{}, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// GetUpload returns one upload or store.ErrNotFound.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (manifest.Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return manifest.Upload{}, store.ErrNotFound
	}
	if err != nil {
		return manifest.Upload{}, store.Wrap("get upload", err)
	}
	return u, nil
}

// ListUploads returns uploads newest first.
func (s *Store) ListUploads(ctx context.Context) ([]manifest.Upload, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads ORDER BY seq DESC`)
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

	u, err := scanUpload(s.db.QueryRowContext(ctx, `
		SELECT `+uploadColumns+` FROM uploads
		WHERE seq < (SELECT seq FROM uploads WHERE id = ?)
		ORDER BY seq DESC
		LIMIT 1`, uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return manifest.Upload{}, false, nil
	}
	if err != nil {
		return manifest.Upload{}, false, store.Wrap("previous upload", err)
	}
	return u, true, nil
}

// DeleteUpload removes the upload and its records in one transaction.
func (s *Store) DeleteUpload(ctx context.Context, uploadID string) error {
	return s.InTx(ctx, func(b store.Backend) error {
		tx := b.(*Store)

		if _, err := tx.db.ExecContext(ctx, `DELETE FROM snapshot_records WHERE upload_id = ?`, uploadID); err != nil {
			return store.Wrap("delete upload", err)
		}

		res, err := tx.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID)
		if err != nil {
			return store.Wrap("delete upload", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return store.Wrap("delete upload", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// InsertRecords writes records with one prepared statement inside a
// transaction so a failed batch leaves nothing behind.
func (s *Store) InsertRecords(ctx context.Context, uploadID string, records []manifest.Fields) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	cols := append([]string{"upload_id", store.KeyColumn}, store.FieldColumns()...)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.RecordsTable,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	written := 0
	err := s.InTx(ctx, func(b store.Backend) error {
		tx := b.(*Store)

		stmt, err := tx.db.PrepareContext(ctx, query)
		if err != nil {
			return store.Wrap("insert records", err)
		}
		defer stmt.Close()

		args := make([]any, len(cols))
		for _, f := range records {
			args[0] = uploadID
			args[1] = manifest.KeyOf(f)
			for i, v := range f {
				args[2+i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return store.Wrap("insert records", err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// QueryRecords returns the records of one upload in insertion order.
func (s *Store) QueryRecords(ctx context.Context, q store.RecordQuery) ([]manifest.Record, error) {
	query := `SELECT id, upload_id, ` + store.FieldColumnList("") + ` FROM snapshot_records WHERE upload_id = ?`
	if clause := store.FRLClause(q.FRL); clause != "" {
		query += " AND " + clause
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, q.UploadID)
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

var upsertMasterSQL = store.UpsertMasterSQL(func(int) string { return "?" })

// UpsertMasterEntries writes entries with one prepared statement.
func (s *Store) UpsertMasterEntries(ctx context.Context, entries []manifest.MasterEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.InTx(ctx, func(b store.Backend) error {
		tx := b.(*Store)

		stmt, err := tx.db.PrepareContext(ctx, upsertMasterSQL)
		if err != nil {
			return store.Wrap("upsert master entries", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			args := make([]any, 0, 6+manifest.NumColumns)
			args = append(args, e.Key)
			for _, v := range e.Fields {
				args = append(args, v)
			}
			args = append(args,
				e.FirstSeenUpload,
				e.LastUpdatedUpload,
				e.CreatedAt.UTC().Format(timeLayout),
				e.UpdatedAt.UTC().Format(timeLayout),
				e.LastUpdateReason,
			)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return store.Wrap("upsert master entries", err)
			}
		}
		return nil
	})
}

// QueryMasterList returns master entries matching q ordered by key. Key
// lists are queried in chunks to stay under SQLite's bind variable limit.
func (s *Store) QueryMasterList(ctx context.Context, q store.MasterQuery) ([]manifest.MasterEntry, error) {
	if q.Keys == nil {
		return s.queryMaster(ctx, q, nil)
	}

	var out []manifest.MasterEntry
	for _, chunk := range store.ChunkKeys(q.Keys) {
		entries, err := s.queryMaster(ctx, q, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) queryMaster(ctx context.Context, q store.MasterQuery, keys []string) ([]manifest.MasterEntry, error) {
	var (
		conds []string
		args  []any
	)
	if len(keys) > 0 {
		conds = append(conds, fmt.Sprintf("%s IN (%s)", store.MasterKeyCol, strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")))
		for _, k := range keys {
			args = append(args, k)
		}
	}
	if clause := store.FRLClause(q.FRL); clause != "" {
		conds = append(conds, clause)
	}
	if q.FirstSeenUpload != "" {
		conds = append(conds, "first_seen_upload = ?")
		args = append(args, q.FirstSeenUpload)
	}
	if q.LastUpdatedUpload != "" {
		conds = append(conds, "last_updated_upload = ?")
		args = append(args, q.LastUpdatedUpload)
	}

	query := `SELECT ` + strings.Join(store.MasterColumns(), ", ") + ` FROM master_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + store.MasterKeyCol

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap("query master list", err)
	}
	defer rows.Close()

	var out []manifest.MasterEntry
	for rows.Next() {
		var (
			e                manifest.MasterEntry
			created, updated string
		)
		dest := make([]any, 0, 6+manifest.NumColumns)
		dest = append(dest, &e.Key)
		for i := range e.Fields {
			dest = append(dest, &e.Fields[i])
		}
		dest = append(dest, &e.FirstSeenUpload, &e.LastUpdatedUpload, &created, &updated, &e.LastUpdateReason)
		if err := rows.Scan(dest...); err != nil {
			return nil, store.Wrap("query master list", err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, store.Wrap("query master list", err)
		}
		if e.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
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

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{conn: s.conn, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return store.Wrap("commit", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.conn.PingContext(ctx))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}
