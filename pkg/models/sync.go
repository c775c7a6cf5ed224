package models

import "time"

// SyncDirection identifies one of the two reconciliation flows.
type SyncDirection string

const (
	SyncToMirror   SyncDirection = "to_mirror"
	SyncFromMirror SyncDirection = "from_mirror"
)

// SyncCursor is the per-direction progress marker. It advances only after a
// batch fully succeeds; a partial failure leaves it untouched.
type SyncCursor struct {
	Direction SyncDirection `json:"direction"`

	// LastVersion is the highest substrate version fully reconciled
	// (to_mirror direction).
	LastVersion int64 `json:"last_version"`

	// LastTimestamp is the newest mirror change fully reconciled
	// (from_mirror direction).
	LastTimestamp time.Time `json:"last_timestamp"`

	// Checksum guards against cursor corruption across restarts.
	Checksum string `json:"checksum"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SyncReport summarizes one completed sync pass.
type SyncReport struct {
	Direction SyncDirection `json:"direction"`
	Scanned   int           `json:"scanned"`
	Applied   int           `json:"applied"`
	Skipped   int           `json:"skipped"` // Dedup hits and no-downgrade skips
	Failed    int           `json:"failed"`
}
