package domain

import "time"

// MatchResult is the outcome of resolving one embedding to an identity.
// Valid is false when the embedding was rejected or the identity could not
// be persisted; the remaining fields are then zero.
type MatchResult struct {
	Valid          bool      `json:"valid"`
	Matched        bool      `json:"matched"`
	IdentityID     string    `json:"identity_id"`
	Confidence     float64   `json:"confidence"`
	IsNewDetection bool      `json:"is_new_detection"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	DetectionCount int64     `json:"detection_count"`
}
