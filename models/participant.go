package models

import "time"

type ParticipantStatus string

const (
	ParticipantInvited    ParticipantStatus = "INVITED"
	ParticipantConfirmed  ParticipantStatus = "CONFIRMED"
	ParticipantWaitlisted ParticipantStatus = "WAITLISTED"
	ParticipantDeclined   ParticipantStatus = "DECLINED"
	ParticipantWithdrawn  ParticipantStatus = "WITHDRAWN"
)

// Participant is one user's membership in one match. A row is created on the
// first invite or self-confirm and is only ever hard-deleted by Leave;
// Withdraw keeps the row for history.
type Participant struct {
	ID               int               `json:"id"`
	MatchID          int               `json:"match_id"`
	UserID           int               `json:"user_id"`
	Status           ParticipantStatus `json:"status"`
	WaitlistPosition *int              `json:"waitlist_position,omitempty"`
	IsMatchAdmin     bool              `json:"is_match_admin"`
	AdminGrantedAt   *time.Time        `json:"admin_granted_at,omitempty"`
	ConfirmedAt      *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`

	User *User `json:"user,omitempty"`
}

// IsActive reports whether the participant still takes part in the match in
// some form. Withdrawn and declined rows keep history but carry no authority.
func (p *Participant) IsActive() bool {
	return p.Status != ParticipantWithdrawn && p.Status != ParticipantDeclined
}
