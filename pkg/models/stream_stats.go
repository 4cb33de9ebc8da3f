package models

import "time"

// StreamStats is a point-in-time snapshot of a live log stream session.
type StreamStats struct {
	StartedAt    time.Time `json:"started_at"`
	Events       int       `json:"events"`
	Blocked      int       `json:"blocked"`
	CriticalHits int       `json:"critical_hits"`
	WatchHits    int       `json:"watch_hits"`
	LastEventID  string    `json:"last_event_id,omitempty"`
	LastEventAt  time.Time `json:"last_event_at,omitzero"`
}
