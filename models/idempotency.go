package models

import "time"

// IdempotencyRecord stores the serialized outcome of a keyed mutating request
// so that client retries replay the original response instead of running the
// action again. Uniqueness is enforced on (key, actor_id, route, match_id).
type IdempotencyRecord struct {
	ID           int       `json:"id"`
	Key          string    `json:"key"`
	ActorID      int       `json:"actor_id"`
	Route        string    `json:"route"`
	MatchID      int       `json:"match_id"`
	RequestHash  string    `json:"request_hash"`
	ResponseJSON []byte    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
