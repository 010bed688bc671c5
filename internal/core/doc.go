// Package core provides the business logic for cargo manifest reconciliation.
//
// This package contains all domain orchestration independent of any
// transport layer. It can be used by web handlers, CLI tools, or tests
// without modification, over either storage backend.
//
// # Architecture
//
//   - Ingestion: [Service.Ingest] parses a CSV or XLSX manifest, validates
//     the header row, cleans rows, stores the snapshot and reconciles it into
//     the master list in a single transaction.
//   - Snapshot Store: immutable per-upload record sets ([Service.GetSnapshot],
//     [Service.ListUploads], [Service.DeleteUpload]).
//   - Master List: one entry per normalized HB key with provenance
//     ([Service.Reconcile], [Service.MasterList]).
//   - Diff Engine: compares an upload with its predecessor
//     ([Service.NewItems], [Service.RemovedItems], [Service.UpdatedItems]).
//   - Query Facade: [Service.Query] composes a mode, a named filter and an
//     optional search; [Service.Duplicates] runs over its result.
//
// # Writes
//
// Every write holds the single writer slot ([WriterLimiter]); a second
// ingestion waits up to the configured time and then fails with
// [ErrWriterBusy]. Reads never take the slot.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Schema errors (SCH), storage errors (STO), query errors (QRY), file errors
// (FILE) and upload errors (UPL) each have their own code range.
package core
