package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
	"github.com/JonMunkholm/manifestsync/internal/store/sqlite"
)

func newTestService(t *testing.T) (*Service, store.Backend) {
	t.Helper()
	backend, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return NewService(backend, Options{}), backend
}

// row builds Fields from header/value pairs.
func row(kv ...string) manifest.Fields {
	var f manifest.Fields
	for i := 0; i+1 < len(kv); i += 2 {
		col, ok := manifest.LookupColumn(kv[i])
		if !ok {
			panic("unknown column " + kv[i])
		}
		f[col] = kv[i+1]
	}
	return f
}

func manifestCSV(t *testing.T, rows ...manifest.Fields) *bytes.Buffer {
	t.Helper()
	records := make([]manifest.Record, len(rows))
	for i, f := range rows {
		records[i] = manifest.Record{Fields: f}
	}
	var buf bytes.Buffer
	if err := manifest.WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	return &buf
}

func ingest(t *testing.T, svc *Service, name string, rows ...manifest.Fields) IngestResult {
	t.Helper()
	res, err := svc.Ingest(context.Background(), name, manifestCSV(t, rows...))
	if err != nil {
		t.Fatalf("Ingest(%s) error = %v", name, err)
	}
	return res
}

func hbKeys(records []manifest.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Key())
	}
	sort.Strings(out)
	return out
}

func TestIngest_Counts(t *testing.T) {
	svc, _ := newTestService(t)

	res := ingest(t, svc, "a.csv",
		row("CONTAINER", "C1", "HB", "6.17E+08"),
		row("CONTAINER", "C2"),
		row("CARRIER", "MSC"),
		row("CONTAINER", "nan"),
	)

	if res.RowsRead != 4 || res.Written != 2 || res.Dropped != 2 {
		t.Errorf("rows read/written/dropped = %d/%d/%d, want 4/2/2", res.RowsRead, res.Written, res.Dropped)
	}
	if res.Added != 1 || res.Keyless != 1 {
		t.Errorf("added/keyless = %d/%d, want 1/1", res.Added, res.Keyless)
	}
	if res.Upload.RecordCount != 2 {
		t.Errorf("upload record count = %d, want 2", res.Upload.RecordCount)
	}

	master, err := svc.MasterList(context.Background(), manifest.FRLAny)
	if err != nil {
		t.Fatalf("MasterList() error = %v", err)
	}
	if len(master) != 1 || master[0].Key != "617000000" {
		t.Errorf("master = %+v, want single entry keyed 617000000", master)
	}
}

func TestIngest_SameRecordTwice(t *testing.T) {
	svc, _ := newTestService(t)
	r := row("CONTAINER", "C1", "HB", "H1")

	first := ingest(t, svc, "a.csv", r)
	if first.Added != 1 || first.Updated != 0 {
		t.Errorf("first ingest added/updated = %d/%d, want 1/0", first.Added, first.Updated)
	}

	second := ingest(t, svc, "b.csv", r)
	if second.Added != 0 || second.Updated != 1 {
		t.Errorf("second ingest added/updated = %d/%d, want 0/1", second.Added, second.Updated)
	}

	master, err := svc.MasterList(context.Background(), manifest.FRLAny)
	if err != nil {
		t.Fatalf("MasterList() error = %v", err)
	}
	if len(master) != 1 {
		t.Fatalf("catalog size = %d, want 1", len(master))
	}
	if master[0].FirstSeenUpload != first.Upload.ID || master[0].LastUpdatedUpload != second.Upload.ID {
		t.Errorf("provenance = %+v, want first %s last %s", master[0].Provenance, first.Upload.ID, second.Upload.ID)
	}
}

func TestIngest_SchemaErrorWritesNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	header := strings.Join(manifest.Headers()[:16], ",")
	_, err := svc.Ingest(ctx, "bad.csv", strings.NewReader(header+"\nC1\n"))

	var schemaErr *manifest.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Ingest() error = %v, want *manifest.SchemaError", err)
	}
	if len(schemaErr.Missing) != 1 || schemaErr.Missing[0] != "TDF" {
		t.Errorf("Missing = %v, want [TDF]", schemaErr.Missing)
	}

	uploads, err := svc.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if len(uploads) != 0 {
		t.Errorf("uploads after schema error = %d, want 0", len(uploads))
	}
}

func TestIngest_FileTooLarge(t *testing.T) {
	backend, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	defer backend.Close()
	svc := NewService(backend, Options{MaxFileSize: 64})

	_, err = svc.Ingest(context.Background(), "big.csv", manifestCSV(t, row("CONTAINER", "C1")))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Ingest() error = %v, want ErrFileTooLarge", err)
	}
}

// failingBackend fails every master-list upsert, inside transactions too.
type failingBackend struct {
	store.Backend
}

func (f *failingBackend) InTx(ctx context.Context, fn func(store.Backend) error) error {
	return f.Backend.InTx(ctx, func(tx store.Backend) error {
		return fn(&failingBackend{Backend: tx})
	})
}

func (f *failingBackend) UpsertMasterEntries(context.Context, []manifest.MasterEntry) error {
	return store.Wrap("upsert master entries", errors.New("disk full"))
}

func TestIngest_StorageFailureIsAtomic(t *testing.T) {
	_, backend := newTestService(t)
	svc := NewService(&failingBackend{Backend: backend}, Options{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "a.csv", manifestCSV(t, row("CONTAINER", "C1", "HB", "H1")))

	var se *store.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Ingest() error = %v, want *store.StorageError", err)
	}

	uploads, err := backend.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if len(uploads) != 0 {
		t.Errorf("uploads after failed ingest = %d, want 0", len(uploads))
	}
}

func TestReconcile_RepeatedKeyInBatch(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Reconcile(context.Background(), "u1", []manifest.Fields{
		row("HB", "H1", "CNEE", "first"),
		row("HB", "H1", "CNEE", "second", "FRL", "2024-05-01"),
		row("CONTAINER", "C1"),
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Added != 1 || res.Updated != 1 || res.Skipped != 1 {
		t.Errorf("Reconcile() = %+v, want added 1 updated 1 skipped 1", res)
	}

	master, err := svc.MasterList(context.Background(), manifest.FRLAny)
	if err != nil {
		t.Fatalf("MasterList() error = %v", err)
	}
	if len(master) != 1 || master[0].Fields[manifest.ColConsignee] != "second" {
		t.Fatalf("master = %+v, want last write to win", master)
	}
	if master[0].LastUpdateReason != "FRL populated" {
		t.Errorf("reason = %q, want FRL populated", master[0].LastUpdateReason)
	}
}

func TestDiff_Sequence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := ingest(t, svc, "a.csv", row("HB", "1"), row("HB", "2"), row("HB", "3"))
	b := ingest(t, svc, "b.csv", row("HB", "2"), row("HB", "3", "FRL", "2024-05-01"), row("HB", "4"), row("CONTAINER", "C9"))

	t.Run("first upload has everything new", func(t *testing.T) {
		added, err := svc.NewItems(ctx, a.Upload.ID)
		if err != nil {
			t.Fatalf("NewItems() error = %v", err)
		}
		if got := hbKeys(added); strings.Join(got, ",") != "1,2,3" {
			t.Errorf("NewItems(A) = %v, want [1 2 3]", got)
		}
		removed, err := svc.RemovedItems(ctx, a.Upload.ID)
		if err != nil {
			t.Fatalf("RemovedItems() error = %v", err)
		}
		if len(removed) != 0 {
			t.Errorf("RemovedItems(A) = %v, want empty", removed)
		}
	})

	t.Run("second upload against first", func(t *testing.T) {
		added, err := svc.NewItems(ctx, b.Upload.ID)
		if err != nil {
			t.Fatalf("NewItems() error = %v", err)
		}
		if got := hbKeys(added); strings.Join(got, ",") != "4" {
			t.Errorf("NewItems(B) = %v, want [4]", got)
		}
		removed, err := svc.RemovedItems(ctx, b.Upload.ID)
		if err != nil {
			t.Fatalf("RemovedItems() error = %v", err)
		}
		if got := hbKeys(removed); strings.Join(got, ",") != "1" {
			t.Errorf("RemovedItems(B) = %v, want [1]", got)
		}
		if removed[0].UploadID != a.Upload.ID {
			t.Errorf("removed record upload = %s, want %s", removed[0].UploadID, a.Upload.ID)
		}
		updated, err := svc.UpdatedItems(ctx, b.Upload.ID)
		if err != nil {
			t.Fatalf("UpdatedItems() error = %v", err)
		}
		if got := hbKeys(updated); strings.Join(got, ",") != "3" {
			t.Errorf("UpdatedItems(B) = %v, want [3]", got)
		}
	})

	t.Run("counts", func(t *testing.T) {
		c, err := svc.DiffCounts(ctx, b.Upload.ID)
		if err != nil {
			t.Fatalf("DiffCounts() error = %v", err)
		}
		want := DiffCounts{UploadID: b.Upload.ID, PreviousUploadID: a.Upload.ID, New: 1, Updated: 1, Removed: 1, Keyless: 1}
		if c != want {
			t.Errorf("DiffCounts() = %+v, want %+v", c, want)
		}
	})

	t.Run("unknown upload", func(t *testing.T) {
		if _, err := svc.DiffCounts(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("DiffCounts(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteUpload_KeepsMasterEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := ingest(t, svc, "a.csv", row("HB", "1"))
	if err := svc.DeleteUpload(ctx, a.Upload.ID); err != nil {
		t.Fatalf("DeleteUpload() error = %v", err)
	}

	if _, err := svc.GetSnapshot(ctx, a.Upload.ID, manifest.FRLAny); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSnapshot() after delete error = %v, want ErrNotFound", err)
	}
	master, err := svc.MasterList(ctx, manifest.FRLAny)
	if err != nil {
		t.Fatalf("MasterList() error = %v", err)
	}
	if len(master) != 1 || master[0].FirstSeenUpload != a.Upload.ID {
		t.Errorf("master after delete = %+v, want entry kept with dangling provenance", master)
	}
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)

	res := ingest(t, svc, "a.csv",
		row("HB", "1", "PCS", "10", "WT_LBS", "1,000.5", "FRL", "2024-01-01"),
		row("HB", "2", "PCS", "5", "VOLUME", "n/a"),
		row("CONTAINER", "C1", "PCS", "1"),
	)

	st, err := svc.Stats(context.Background(), res.Upload.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Records != 3 || st.WithFRL != 1 || st.WithoutFRL != 2 || st.Keyless != 1 || st.MasterSize != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.Totals.Pieces.String() != "16" || st.Totals.Weight.String() != "1000.5" || !st.Totals.Volume.IsZero() {
		t.Errorf("Totals = %+v", st.Totals)
	}
}

func TestIngestDir(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()

	good := manifestCSV(t, row("HB", "1"))
	if err := os.WriteFile(filepath.Join(dir, "good.csv"), good.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("CONTAINER\nC1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir() error = %v", err)
	}
	if len(res.Files) != 2 || res.Failed != 1 {
		t.Fatalf("IngestDir() = %+v, want 2 files with 1 failure", res)
	}

	if _, err := os.Stat(filepath.Join(dir, UploadedDirName, "good.csv")); err != nil {
		t.Errorf("good.csv not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.csv")); err != nil {
		t.Errorf("bad.csv should stay in the inbox: %v", err)
	}
}
