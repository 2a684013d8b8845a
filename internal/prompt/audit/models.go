package audit

import "time"

// Action classifies a version transition.
type Action string

const (
	// ActionCreate marks the first version of a business key.
	ActionCreate Action = "create"
	// ActionVersion marks every subsequent version.
	ActionVersion Action = "version"
	// ActionDelete marks the tombstone of a business key. Terminal.
	ActionDelete Action = "delete"
)

// Entry is one record in the append-only audit trail. Exactly one entry is
// written per version transition, correlated with the version through
// (BusinessKey, VersionID, Checksum). Entries are never updated or deleted.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor"`
	Action      Action    `json:"action"`
	BusinessKey string    `json:"business_key"`
	VersionID   int64     `json:"version_id"`
	Checksum    string    `json:"checksum"`
}
