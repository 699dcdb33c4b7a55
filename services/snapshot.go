package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

// SnapshotBuilder assembles the client-facing view of a match from persisted
// rows. It is read-only and is used both after mutations (inside the same
// transaction) and for plain reads (with a nil executor).
type SnapshotBuilder struct {
	matchRepo       repositories.MatchRepository
	participantRepo repositories.ParticipantRepository
	clock           Clock
}

func NewSnapshotBuilder(
	matchRepo repositories.MatchRepository,
	participantRepo repositories.ParticipantRepository,
	clock Clock,
) *SnapshotBuilder {
	return &SnapshotBuilder{
		matchRepo:       matchRepo,
		participantRepo: participantRepo,
		clock:           clock,
	}
}

func (b *SnapshotBuilder) Build(ctx context.Context, exec repositories.SQLExecutor, matchID, viewerID int) (*models.MatchSnapshot, error) {
	match, err := b.matchRepo.GetByID(ctx, exec, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to load match for snapshot: %w", err)
	}

	rows, err := b.participantRepo.ListByMatch(ctx, exec, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants for snapshot: %w", err)
	}

	snapshot := &models.MatchSnapshot{
		Match:         match,
		DisplayStatus: match.DisplayStatus(b.clock.Now()),
		Participants:  make([]*models.Participant, 0, len(rows)),
		Waitlist:      make([]*models.Participant, 0),
	}

	var viewer *models.Participant
	for _, p := range rows {
		if p.UserID == viewerID {
			viewer = p
			status := p.Status
			snapshot.YourStatus = &status
		}
		switch p.Status {
		case models.ParticipantConfirmed:
			snapshot.ConfirmedCount++
		case models.ParticipantWaitlisted:
			snapshot.Waitlist = append(snapshot.Waitlist, p)
		}
		if p.Status != models.ParticipantWithdrawn {
			snapshot.Participants = append(snapshot.Participants, p)
		}
	}

	// Waitlist ordered by stored position, then re-numbered 1..N for the
	// client regardless of gaps left by promotions.
	sort.SliceStable(snapshot.Waitlist, func(i, j int) bool {
		return waitlistPos(snapshot.Waitlist[i]) < waitlistPos(snapshot.Waitlist[j])
	})
	for i, p := range snapshot.Waitlist {
		renumbered := *p
		pos := i + 1
		renumbered.WaitlistPosition = &pos
		snapshot.Waitlist[i] = &renumbered
	}

	snapshot.ActionsAllowed = allowedActions(match, viewerID, viewer)
	return snapshot, nil
}

func waitlistPos(p *models.Participant) int {
	if p.WaitlistPosition == nil {
		return 0
	}
	return *p.WaitlistPosition
}

// allowedActions derives the viewer's permitted actions. The result is
// de-duplicated by construction and order-independent for clients.
func allowedActions(m *models.Match, viewerID int, viewer *models.Participant) []models.MatchAction {
	actions := make([]models.MatchAction, 0, 4)
	if m.Status == models.MatchStatusCanceled {
		return actions
	}

	if !m.IsLocked {
		if viewer == nil {
			actions = append(actions, models.ActionConfirm)
		} else {
			switch viewer.Status {
			case models.ParticipantDeclined, models.ParticipantWithdrawn:
				actions = append(actions, models.ActionConfirm)
			case models.ParticipantInvited:
				actions = append(actions, models.ActionConfirm, models.ActionDecline)
			}
		}
		if isCreatorOrAdmin(m, viewerID, viewer) {
			actions = append(actions, models.ActionInvite)
		}
	}

	// Withdrawing from a match must stay possible even when it is locked.
	if viewer != nil && (viewer.Status == models.ParticipantConfirmed || viewer.Status == models.ParticipantWaitlisted) {
		actions = append(actions, models.ActionWithdraw)
	}

	if isCreatorOrAdmin(m, viewerID, viewer) {
		if m.IsLocked {
			actions = append(actions, models.ActionUnlock)
		} else {
			actions = append(actions, models.ActionLock)
		}
	}

	if isCreator(m, viewerID) {
		actions = append(actions, models.ActionUpdate, models.ActionCancel, models.ActionManageAdmins)
	}

	return actions
}
