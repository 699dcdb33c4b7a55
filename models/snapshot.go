package models

// MatchAction names an operation the viewer may currently perform on a match.
type MatchAction string

const (
	ActionConfirm      MatchAction = "confirm"
	ActionDecline      MatchAction = "decline"
	ActionWithdraw     MatchAction = "withdraw"
	ActionInvite       MatchAction = "invite"
	ActionLock         MatchAction = "lock"
	ActionUnlock       MatchAction = "unlock"
	ActionUpdate       MatchAction = "update"
	ActionCancel       MatchAction = "cancel"
	ActionManageAdmins MatchAction = "manage_admins"
)

// MatchSnapshot is the full client-facing view of a match, rebuilt from
// persisted rows after every mutation and for plain reads.
type MatchSnapshot struct {
	Match          *Match             `json:"match"`
	DisplayStatus  MatchDisplayStatus `json:"display_status"`
	ConfirmedCount int                `json:"confirmed_count"`
	Participants   []*Participant     `json:"participants"`
	Waitlist       []*Participant     `json:"waitlist"`
	YourStatus     *ParticipantStatus `json:"your_status,omitempty"`
	ActionsAllowed []MatchAction      `json:"actions_allowed"`
}
