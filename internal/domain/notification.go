package domain

import "time"

const EventIdentityDetected = "identity.detected"

// NotificationEvent is fanned out to subscribers when an identity is
// (re)detected outside both cooldown windows.
type NotificationEvent struct {
	Type        string      `json:"type"`
	IdentityID  string      `json:"identity_id"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bbox"`
	Timestamp   time.Time   `json:"timestamp"`
}
