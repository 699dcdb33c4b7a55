package models

import "time"

type MatchStatus string

const (
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusLocked    MatchStatus = "locked"
	MatchStatusPlayed    MatchStatus = "played"
	MatchStatusCanceled  MatchStatus = "canceled"
)

// MatchDisplayStatus is what clients render. It is derived from the persisted
// status and the kick-off time, never stored.
type MatchDisplayStatus string

const (
	DisplayStatusUpcoming  MatchDisplayStatus = "UPCOMING"
	DisplayStatusPlayed    MatchDisplayStatus = "PLAYED"
	DisplayStatusCancelled MatchDisplayStatus = "CANCELLED"
)

// PlayedGracePeriod is how long after kick-off a match keeps showing as
// upcoming before it flips to played.
const PlayedGracePeriod = time.Hour

type Match struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	StartsAt    time.Time   `json:"starts_at"`
	Location    *string     `json:"location,omitempty"`
	Capacity    int         `json:"capacity"`
	Status      MatchStatus `json:"status"`
	Revision    int         `json:"revision"`
	IsLocked    bool        `json:"is_locked"`
	LockedAt    *time.Time  `json:"locked_at,omitempty"`
	LockedBy    *int        `json:"locked_by,omitempty"`
	CreatedByID int         `json:"created_by_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// DisplayStatus derives the client-facing status at the given instant.
// Cancellation wins over everything, including matches canceled in the past.
func (m *Match) DisplayStatus(now time.Time) MatchDisplayStatus {
	if m.Status == MatchStatusCanceled {
		return DisplayStatusCancelled
	}
	if !now.Before(m.StartsAt.Add(PlayedGracePeriod)) {
		return DisplayStatusPlayed
	}
	return DisplayStatusUpcoming
}
