package manifest

import "time"

// Upload is one successful ingestion event.
type Upload struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	RecordCount int       `json:"recordCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Record is one cleaned row owned by exactly one Upload. Records are never
// edited after they are written; corrections arrive as a new Upload.
type Record struct {
	ID       int64  `json:"id"`
	UploadID string `json:"uploadId"`
	Fields   Fields `json:"-"`
}

// Key returns the normalized master-list key, or "" when the record has none.
func (r Record) Key() string { return KeyOf(r.Fields) }

// Provenance records which uploads created and last touched a master entry.
// Upload ids are weak references: deleting the upload leaves the entry alone.
type Provenance struct {
	FirstSeenUpload   string    `json:"firstSeenUpload"`
	LastUpdatedUpload string    `json:"lastUpdatedUpload"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	LastUpdateReason  string    `json:"lastUpdateReason,omitempty"`
}

// MasterEntry is the single catalog row for a key.
type MasterEntry struct {
	Key    string `json:"key"`
	Fields Fields `json:"-"`
	Provenance
}

// Record returns the entry as a Record owned by the upload that last updated it.
func (e MasterEntry) Record() Record {
	return Record{UploadID: e.LastUpdatedUpload, Fields: e.Fields}
}

// HasFRL reports whether the FRL date column carries a value.
func (f Fields) HasFRL() bool { return !IsBlank(f[ColFRL]) }
