package model

import "time"

const (
	SessionEventSaved   = "session.saved"
	SessionEventDeleted = "session.deleted"
)

// SessionEvent is emitted after every committed write to a session.
type SessionEvent struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	UserID         uint      `json:"user_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// AffectsListing reports whether the public listing can differ after the
// event.
func (e SessionEvent) AffectsListing() bool {
	return e.Status == StatusPublished || e.PreviousStatus == StatusPublished
}
