package manifest

import (
	"strings"
	"time"
)

// MergeEntry applies one incoming record to the master list.
//
// With no existing entry a new one is created with the upload as both first
// and last touch, and added is true. Otherwise every field is overwritten by
// the incoming values (blank incoming values included), FirstSeenUpload and
// CreatedAt are kept, and LastUpdatedUpload moves to uploadID. When a tracked
// column goes from blank to filled the transition is recorded as the update
// reason; without such a transition the previous reason is kept.
func MergeEntry(existing *MasterEntry, key string, incoming Fields, uploadID string, now time.Time) (entry MasterEntry, added bool) {
	if existing == nil {
		return MasterEntry{
			Key:    key,
			Fields: incoming,
			Provenance: Provenance{
				FirstSeenUpload:   uploadID,
				LastUpdatedUpload: uploadID,
				CreatedAt:         now,
				UpdatedAt:         now,
			},
		}, true
	}

	entry = *existing
	entry.Key = key
	entry.Fields = incoming
	entry.LastUpdatedUpload = uploadID
	entry.UpdatedAt = now

	if reason := transitionReason(existing.Fields, incoming); reason != "" {
		entry.LastUpdateReason = reason
	}
	return entry, false
}

// transitionReason describes tracked columns that became populated.
func transitionReason(before, after Fields) string {
	var parts []string
	for i, c := range Columns {
		if c.Tracked && IsBlank(before[i]) && !IsBlank(after[i]) {
			parts = append(parts, c.Header+" populated")
		}
	}
	return strings.Join(parts, "; ")
}
