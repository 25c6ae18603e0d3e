package domain

import "time"

// Identity is a persisted person resolved by the matcher. The embedding is
// the one captured at registration time and is never serialised to clients.
type Identity struct {
	ID             string    `json:"id"`
	Embedding      []float64 `json:"-"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	DetectionCount int64     `json:"detection_count"`
}

// IdentityStats summarises the identity catalog.
type IdentityStats struct {
	TotalIdentities  int64      `json:"total_identities"`
	TotalDetections  int64      `json:"total_detections"`
	RecentIdentities []Identity `json:"recent_identities"`
}

// RecentIdentitiesLimit is how many identities Stats reports, newest last-seen first.
const RecentIdentitiesLimit = 10
