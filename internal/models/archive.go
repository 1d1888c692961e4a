package models

import "time"

// ArchiveEntry is a finalized recording in the archive directory.
type ArchiveEntry struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
