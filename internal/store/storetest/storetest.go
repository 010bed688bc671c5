// Package storetest holds the behavioral tests every store.Backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/manifest"
	"github.com/JonMunkholm/manifestsync/internal/store"
)

// Opener returns a fresh, empty backend for one test.
type Opener func(t *testing.T) store.Backend

// Run exercises b's contract.
func Run(t *testing.T, open Opener) {
	t.Run("uploads are ordered and previous resolves", func(t *testing.T) { testUploadOrder(t, open(t)) })
	t.Run("records round trip in order", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("delete removes records", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("unknown upload is not found", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("master upsert overwrites by key", func(t *testing.T) { testMasterUpsert(t, open(t)) })
	t.Run("master query filters", func(t *testing.T) { testMasterQuery(t, open(t)) })
	t.Run("failed transaction rolls back", func(t *testing.T) { testRollback(t, open(t)) })
}

func fields(container, hb, frl string) manifest.Fields {
	var f manifest.Fields
	f[manifest.ColContainer] = container
	f[manifest.ColHB] = hb
	f[manifest.ColFRL] = frl
	return f
}

func testUploadOrder(t *testing.T, b store.Backend) {
	ctx := context.Background()

	first, err := b.CreateUpload(ctx, "a.csv", 1)
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	second, err := b.CreateUpload(ctx, "b.csv", 2)
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if first.ID == second.ID || first.ID == "" {
		t.Fatalf("upload ids %q and %q are not unique", first.ID, second.ID)
	}

	list, err := b.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListUploads() = %v, want newest first", list)
	}

	if _, ok, err := b.PreviousUpload(ctx, first.ID); err != nil || ok {
		t.Errorf("PreviousUpload(first) = ok %v, err %v; want none", ok, err)
	}
	prev, ok, err := b.PreviousUpload(ctx, second.ID)
	if err != nil || !ok || prev.ID != first.ID {
		t.Errorf("PreviousUpload(second) = %v, %v, %v; want first", prev.ID, ok, err)
	}

	got, err := b.GetUpload(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if got.FileName != "b.csv" || got.RecordCount != 2 {
		t.Errorf("GetUpload() = %+v", got)
	}
}

func testRecords(t *testing.T, b store.Backend) {
	ctx := context.Background()

	u, err := b.CreateUpload(ctx, "a.csv", 3)
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	in := []manifest.Fields{
		fields("C1", "H1", ""),
		fields("C2", "H2", "2024-01-01"),
		fields("C3", "", "nan"),
	}
	n, err := b.InsertRecords(ctx, u.ID, in)
	if err != nil || n != 3 {
		t.Fatalf("InsertRecords() = %d, %v; want 3", n, err)
	}

	all, err := b.QueryRecords(ctx, store.RecordQuery{UploadID: u.ID})
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("QueryRecords() returned %d, want 3", len(all))
	}
	for i, r := range all {
		if r.Fields != in[i] || r.UploadID != u.ID {
			t.Errorf("record %d = %+v, want %v", i, r, in[i])
		}
	}

	with, err := b.QueryRecords(ctx, store.RecordQuery{UploadID: u.ID, FRL: manifest.FRLPresent})
	if err != nil {
		t.Fatalf("QueryRecords(with frl) error = %v", err)
	}
	if len(with) != 1 || with[0].Fields[manifest.ColContainer] != "C2" {
		t.Errorf("with-frl = %v, want only C2", with)
	}

	without, err := b.QueryRecords(ctx, store.RecordQuery{UploadID: u.ID, FRL: manifest.FRLAbsent})
	if err != nil {
		t.Fatalf("QueryRecords(without frl) error = %v", err)
	}
	if len(without) != 2 {
		t.Errorf("without-frl returned %d, want 2", len(without))
	}
}

func testDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()

	u, err := b.CreateUpload(ctx, "a.csv", 1)
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if _, err := b.InsertRecords(ctx, u.ID, []manifest.Fields{fields("C1", "H1", "")}); err != nil {
		t.Fatalf("InsertRecords() error = %v", err)
	}

	if err := b.DeleteUpload(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUpload() error = %v", err)
	}
	recs, err := b.QueryRecords(ctx, store.RecordQuery{UploadID: u.ID})
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("records after delete = %d, want 0", len(recs))
	}
	if err := b.DeleteUpload(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteUpload() error = %v, want ErrNotFound", err)
	}
}

func testNotFound(t *testing.T, b store.Backend) {
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "0190b7a4-0000-7000-8000-000000000000"} {
		if _, err := b.GetUpload(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetUpload(%q) error = %v, want ErrNotFound", id, err)
		}
		if _, _, err := b.PreviousUpload(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("PreviousUpload(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func entry(key, upload string, f manifest.Fields, at time.Time) manifest.MasterEntry {
	return manifest.MasterEntry{
		Key:    key,
		Fields: f,
		Provenance: manifest.Provenance{
			FirstSeenUpload:   upload,
			LastUpdatedUpload: upload,
			CreatedAt:         at,
			UpdatedAt:         at,
		},
	}
}

func testMasterUpsert(t *testing.T, b store.Backend) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := b.UpsertMasterEntries(ctx, []manifest.MasterEntry{entry("H1", "u1", fields("C1", "H1", ""), at)}); err != nil {
		t.Fatalf("UpsertMasterEntries() error = %v", err)
	}

	updated := entry("H1", "u1", fields("C9", "H1", "2024-06-01"), at)
	updated.LastUpdatedUpload = "u2"
	updated.UpdatedAt = at.Add(time.Hour)
	updated.LastUpdateReason = "FRL populated"
	if err := b.UpsertMasterEntries(ctx, []manifest.MasterEntry{updated}); err != nil {
		t.Fatalf("UpsertMasterEntries() error = %v", err)
	}

	got, err := b.QueryMasterList(ctx, store.MasterQuery{})
	if err != nil {
		t.Fatalf("QueryMasterList() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("QueryMasterList() returned %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Fields != updated.Fields || e.FirstSeenUpload != "u1" || e.LastUpdatedUpload != "u2" || e.LastUpdateReason != "FRL populated" {
		t.Errorf("entry = %+v, want %+v", e, updated)
	}
	if !e.CreatedAt.Equal(at) || !e.UpdatedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("times = %v / %v, want %v / %v", e.CreatedAt, e.UpdatedAt, at, at.Add(time.Hour))
	}
}

func testMasterQuery(t *testing.T, b store.Backend) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var entries []manifest.MasterEntry
	var keys []string
	for i := 0; i < store.KeyBatchLimit+20; i++ {
		key := fmt.Sprintf("K%04d", i)
		frl := ""
		if i%2 == 0 {
			frl = "2024-01-01"
		}
		upload := "u1"
		if i >= 10 {
			upload = "u2"
		}
		entries = append(entries, entry(key, upload, fields("C", key, frl), at))
		keys = append(keys, key)
	}
	if err := b.UpsertMasterEntries(ctx, entries); err != nil {
		t.Fatalf("UpsertMasterEntries() error = %v", err)
	}

	tests := []struct {
		name  string
		query store.MasterQuery
		want  int
	}{
		{name: "all", query: store.MasterQuery{}, want: len(entries)},
		{name: "chunked keys", query: store.MasterQuery{Keys: keys[5:]}, want: len(entries) - 5},
		{name: "empty key list", query: store.MasterQuery{Keys: []string{}}, want: 0},
		{name: "with frl", query: store.MasterQuery{FRL: manifest.FRLPresent}, want: len(entries) / 2},
		{name: "first seen", query: store.MasterQuery{FirstSeenUpload: "u1"}, want: 10},
		{name: "combined", query: store.MasterQuery{FirstSeenUpload: "u1", FRL: manifest.FRLAbsent}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.QueryMasterList(ctx, tt.query)
			if err != nil {
				t.Fatalf("QueryMasterList() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("QueryMasterList() returned %d, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].Key >= got[i].Key {
					t.Fatalf("entries not ordered by key at %d", i)
				}
			}
		})
	}
}

func testRollback(t *testing.T, b store.Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.InTx(ctx, func(tx store.Backend) error {
		u, err := tx.CreateUpload(ctx, "a.csv", 1)
		if err != nil {
			return err
		}
		if _, err := tx.InsertRecords(ctx, u.ID, []manifest.Fields{fields("C1", "H1", "")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	list, err := b.ListUploads(ctx)
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("uploads after rollback = %d, want 0", len(list))
	}
}
