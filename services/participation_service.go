package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

// ParticipationService implements the match participation state machine:
// confirm, decline, withdraw, leave, invite and admin grants. Every mutating
// use-case follows the same skeleton: row lock, read, validate (existence,
// permission, blocking state, revision, lock), mutate, bump the revision by
// exactly one, rebuild the snapshot.
type ParticipationService struct {
	runner          TxRunner
	matchRepo       repositories.MatchRepository
	participantRepo repositories.ParticipantRepository
	userRepo        repositories.UserRepository
	snapshots       *SnapshotBuilder
	idem            *IdempotencyCoordinator
	clock           Clock
	broadcaster     SnapshotBroadcaster
	logger          *slog.Logger
}

func NewParticipationService(
	runner TxRunner,
	matchRepo repositories.MatchRepository,
	participantRepo repositories.ParticipantRepository,
	userRepo repositories.UserRepository,
	snapshots *SnapshotBuilder,
	idem *IdempotencyCoordinator,
	clock Clock,
	broadcaster SnapshotBroadcaster,
	logger *slog.Logger,
) *ParticipationService {
	return &ParticipationService{
		runner:          runner,
		matchRepo:       matchRepo,
		participantRepo: participantRepo,
		userRepo:        userRepo,
		snapshots:       snapshots,
		idem:            idem,
		clock:           clock,
		broadcaster:     broadcaster,
		logger:          logger,
	}
}

type ConfirmInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	IdempotencyKey   string `json:"-"`
}

type DeclineInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	IdempotencyKey   string `json:"-"`
}

type WithdrawInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	IdempotencyKey   string `json:"-"`
}

type LeaveInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	IdempotencyKey   string `json:"-"`
}

type InviteInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	TargetUserID     int    `json:"target_user_id"`
	IdempotencyKey   string `json:"-"`
}

type AdminChangeInput struct {
	MatchID          int `json:"match_id"`
	ActorID          int `json:"actor_id"`
	TargetUserID     int `json:"target_user_id"`
	ExpectedRevision int `json:"expected_revision"`
}

// Confirm registers the caller for the match, waitlisting them when the match
// is at capacity. Repeating the call while already confirmed or waitlisted is
// a no-op.
func (s *ParticipationService) Confirm(ctx context.Context, input ConfirmInput) (*models.MatchSnapshot, error) {
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.confirm",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.confirmTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *ParticipationService) confirmTx(ctx context.Context, exec repositories.SQLExecutor, input ConfirmInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}
	if match.IsLocked {
		return nil, ErrMatchLocked
	}

	participant, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if participant != nil &&
		(participant.Status == models.ParticipantConfirmed || participant.Status == models.ParticipantWaitlisted) {
		return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
	}

	rows, err := s.participantRepo.ListByMatch(ctx, exec, input.MatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	confirmed := 0
	for _, p := range rows {
		if p.Status == models.ParticipantConfirmed {
			confirmed++
		}
	}

	now := s.clock.Now()
	status := models.ParticipantConfirmed
	var waitlistPosition *int
	confirmedTime := &now
	if confirmed >= match.Capacity {
		status = models.ParticipantWaitlisted
		confirmedTime = nil
		maxPos, err := s.participantRepo.MaxWaitlistPosition(ctx, exec, input.MatchID)
		if err != nil {
			return nil, err
		}
		next := maxPos + 1
		waitlistPosition = &next
	}

	if participant == nil {
		participant = &models.Participant{
			MatchID:          input.MatchID,
			UserID:           input.ActorID,
			Status:           status,
			WaitlistPosition: waitlistPosition,
			ConfirmedAt:      confirmedTime,
		}
		if err := s.participantRepo.Create(ctx, exec, participant); err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
	} else {
		participant.Status = status
		participant.WaitlistPosition = waitlistPosition
		participant.ConfirmedAt = confirmedTime
		if err := s.participantRepo.Update(ctx, exec, participant); err != nil {
			return nil, fmt.Errorf("failed to update participant: %w", err)
		}
	}

	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// Decline turns down an invitation. Confirmed or waitlisted participants must
// withdraw instead; declining without a row or when already declined is a
// no-op.
func (s *ParticipationService) Decline(ctx context.Context, input DeclineInput) (*models.MatchSnapshot, error) {
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.decline",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.declineTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *ParticipationService) declineTx(ctx context.Context, exec repositories.SQLExecutor, input DeclineInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}
	if match.IsLocked {
		return nil, ErrMatchLocked
	}

	participant, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if participant == nil || participant.Status == models.ParticipantDeclined {
		return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
	}
	if participant.Status != models.ParticipantInvited {
		return nil, ErrMustWithdrawInstead
	}

	participant.Status = models.ParticipantDeclined
	participant.WaitlistPosition = nil
	participant.ConfirmedAt = nil
	if err := s.participantRepo.Update(ctx, exec, participant); err != nil {
		return nil, fmt.Errorf("failed to update participant: %w", err)
	}

	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// Withdraw takes a confirmed or waitlisted caller out of the match, keeping
// the row for history. Withdrawal from a confirmed spot promotes the earliest
// waitlisted participant. Allowed even on a locked match.
func (s *ParticipationService) Withdraw(ctx context.Context, input WithdrawInput) (*models.MatchSnapshot, error) {
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.withdraw",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.withdrawTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *ParticipationService) withdrawTx(ctx context.Context, exec repositories.SQLExecutor, input WithdrawInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}

	participant, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if participant == nil ||
		(participant.Status != models.ParticipantConfirmed && participant.Status != models.ParticipantWaitlisted) {
		return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
	}

	wasConfirmed := participant.Status == models.ParticipantConfirmed
	participant.Status = models.ParticipantWithdrawn
	participant.WaitlistPosition = nil
	participant.ConfirmedAt = nil
	if err := s.participantRepo.Update(ctx, exec, participant); err != nil {
		return nil, fmt.Errorf("failed to update participant: %w", err)
	}

	if wasConfirmed {
		if err := s.promoteEarliestWaitlisted(ctx, exec, match); err != nil {
			return nil, err
		}
	}

	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// Leave removes the caller's row entirely. A leaving creator must first hand
// the match to the earliest-promoted eligible admin; without one the request
// fails and nothing commits.
func (s *ParticipationService) Leave(ctx context.Context, input LeaveInput) (*models.MatchSnapshot, error) {
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.leave",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.leaveTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *ParticipationService) leaveTx(ctx context.Context, exec repositories.SQLExecutor, input LeaveInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}

	participant, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
	}

	if isCreator(match, input.ActorID) {
		if err := s.transferCreator(ctx, exec, match, input.ActorID); err != nil {
			return nil, err
		}
	}

	wasConfirmed := participant.Status == models.ParticipantConfirmed
	if err := s.participantRepo.Delete(ctx, exec, participant.ID); err != nil {
		return nil, fmt.Errorf("failed to delete participant: %w", err)
	}

	if wasConfirmed {
		if err := s.promoteEarliestWaitlisted(ctx, exec, match); err != nil {
			return nil, err
		}
	}

	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// transferCreator reassigns the match to the eligible admin with the earliest
// grant and forces the new creator's status to confirmed.
func (s *ParticipationService) transferCreator(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, leavingUserID int) error {
	rows, err := s.participantRepo.ListByMatch(ctx, exec, match.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	var successor *models.Participant
	for _, p := range rows {
		if p.UserID == leavingUserID || !p.IsMatchAdmin || !p.IsActive() {
			continue
		}
		if successor == nil {
			successor = p
			continue
		}
		if adminGrantBefore(p.AdminGrantedAt, successor.AdminGrantedAt) {
			successor = p
		}
	}
	if successor == nil {
		return ErrCreatorLeaveNoAdmin
	}

	match.CreatedByID = successor.UserID
	if successor.Status != models.ParticipantConfirmed {
		now := s.clock.Now()
		successor.Status = models.ParticipantConfirmed
		successor.WaitlistPosition = nil
		successor.ConfirmedAt = &now
		if err := s.participantRepo.Update(ctx, exec, successor); err != nil {
			return fmt.Errorf("failed to confirm new creator: %w", err)
		}
	}

	s.logger.Info("match creator transferred",
		slog.Int("match_id", match.ID),
		slog.Int("from_user_id", leavingUserID),
		slog.Int("to_user_id", successor.UserID),
	)
	return nil
}

// adminGrantBefore orders admin grant timestamps with nil sorting last, so an
// admin missing a grant time never beats one with a recorded grant.
func adminGrantBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

// Invite adds a user as invited. The target is resolved by id, @username,
// bare username or email before the idempotency boundary, since resolution
// has no side effects.
func (s *ParticipationService) Invite(ctx context.Context, matchID, actorID, expectedRevision int, identifier string, idempotencyKey string) (*models.MatchSnapshot, error) {
	ident, err := ParseUserIdentifier(identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid user identifier: %w", err)
	}
	target, err := ResolveUser(ctx, s.userRepo, ident)
	if err != nil {
		return nil, err
	}
	if target.ID == actorID {
		return nil, ErrSelfInvite
	}

	input := InviteInput{
		MatchID:          matchID,
		ActorID:          actorID,
		ExpectedRevision: expectedRevision,
		TargetUserID:     target.ID,
		IdempotencyKey:   idempotencyKey,
	}
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.invite",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.inviteTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *ParticipationService) inviteTx(ctx context.Context, exec repositories.SQLExecutor, input InviteInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}

	actor, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
	if err != nil {
		return nil, err
	}
	if !isCreatorOrAdmin(match, input.ActorID, actor) {
		return nil, ErrCreatorOrAdminOnly
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}
	if match.IsLocked {
		return nil, ErrMatchLocked
	}

	existing, err := s.findParticipant(ctx, exec, input.MatchID, input.TargetUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == models.ParticipantInvited {
			// Repeated invite of a pending target is idempotent.
			return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
		}
		return nil, ErrAlreadyParticipant
	}

	// Capacity is deliberately not checked here; it only matters at confirm.
	invited := &models.Participant{
		MatchID: input.MatchID,
		UserID:  input.TargetUserID,
		Status:  models.ParticipantInvited,
	}
	if err := s.participantRepo.Create(ctx, exec, invited); err != nil {
		if errors.Is(err, repositories.ErrParticipantConflict) {
			return nil, ErrAlreadyParticipant
		}
		return nil, fmt.Errorf("failed to create invited participant: %w", err)
	}

	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// PromoteAdmin grants match-admin rights. Creator only; promoting an existing
// admin is a no-op without a revision bump.
func (s *ParticipationService) PromoteAdmin(ctx context.Context, input AdminChangeInput) (*models.MatchSnapshot, error) {
	var snapshot *models.MatchSnapshot
	err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		match, target, err := s.loadAdminTarget(ctx, exec, input)
		if err != nil {
			return err
		}
		if target.IsMatchAdmin {
			snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
			return err
		}

		now := s.clock.Now()
		target.IsMatchAdmin = true
		target.AdminGrantedAt = &now
		if err := s.participantRepo.Update(ctx, exec, target); err != nil {
			return fmt.Errorf("failed to promote admin: %w", err)
		}
		if err := s.bumpRevision(ctx, exec, match); err != nil {
			return err
		}
		snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
		return err
	})
	return s.published(input.MatchID, snapshot, err)
}

// DemoteAdmin revokes match-admin rights. The creator cannot be demoted;
// demoting a non-admin is a no-op.
func (s *ParticipationService) DemoteAdmin(ctx context.Context, input AdminChangeInput) (*models.MatchSnapshot, error) {
	var snapshot *models.MatchSnapshot
	err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		match, target, err := s.loadAdminTarget(ctx, exec, input)
		if err != nil {
			return err
		}
		if target.UserID == match.CreatedByID {
			return ErrCannotDemoteCreator
		}
		if !target.IsMatchAdmin {
			snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
			return err
		}

		target.IsMatchAdmin = false
		target.AdminGrantedAt = nil
		if err := s.participantRepo.Update(ctx, exec, target); err != nil {
			return fmt.Errorf("failed to demote admin: %w", err)
		}
		if err := s.bumpRevision(ctx, exec, match); err != nil {
			return err
		}
		snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
		return err
	})
	return s.published(input.MatchID, snapshot, err)
}

// loadAdminTarget runs the shared preamble of both admin use-cases.
func (s *ParticipationService) loadAdminTarget(ctx context.Context, exec repositories.SQLExecutor, input AdminChangeInput) (*models.Match, *models.Participant, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, nil, err
	}
	if !isCreator(match, input.ActorID) {
		return nil, nil, ErrCreatorOnly
	}
	if match.Status == models.MatchStatusCanceled {
		return nil, nil, ErrMatchCanceled
	}
	if match.Revision != input.ExpectedRevision {
		return nil, nil, ErrRevisionConflict
	}

	target, err := s.findParticipant(ctx, exec, input.MatchID, input.TargetUserID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil || !target.IsActive() {
		return nil, nil, ErrNotActiveParticipant
	}
	return match, target, nil
}

func (s *ParticipationService) lockAndLoad(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Match, error) {
	if err := s.matchRepo.LockForUpdate(ctx, exec, matchID); err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	match, err := s.matchRepo.GetByID(ctx, exec, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (s *ParticipationService) findParticipant(ctx context.Context, exec repositories.SQLExecutor, matchID, userID int) (*models.Participant, error) {
	p, err := s.participantRepo.FindByMatchAndUser(ctx, exec, matchID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

// promoteEarliestWaitlisted fills a vacated confirmed slot with the lowest
// waitlist position. It re-counts confirmed seats first: a creator handoff may
// already have re-filled the slot (the transfer force-confirms the successor),
// in which case promoting would overshoot capacity.
func (s *ParticipationService) promoteEarliestWaitlisted(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	rows, err := s.participantRepo.ListByMatch(ctx, exec, match.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	confirmed := 0
	var next *models.Participant
	for _, p := range rows {
		if p.Status == models.ParticipantConfirmed {
			confirmed++
			continue
		}
		if p.Status != models.ParticipantWaitlisted {
			continue
		}
		if next == nil || waitlistPos(p) < waitlistPos(next) {
			next = p
		}
	}
	if next == nil || confirmed >= match.Capacity {
		return nil
	}

	now := s.clock.Now()
	next.Status = models.ParticipantConfirmed
	next.WaitlistPosition = nil
	next.ConfirmedAt = &now
	if err := s.participantRepo.Update(ctx, exec, next); err != nil {
		return fmt.Errorf("failed to promote waitlisted participant: %w", err)
	}
	return nil
}

func (s *ParticipationService) bumpRevision(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	match.Revision++
	if err := s.matchRepo.Update(ctx, exec, match); err != nil {
		return fmt.Errorf("failed to bump match revision: %w", err)
	}
	return nil
}

// published forwards the fresh snapshot to the live hub after a successful
// commit.
func (s *ParticipationService) published(matchID int, snapshot *models.MatchSnapshot, err error) (*models.MatchSnapshot, error) {
	if err != nil {
		return nil, err
	}
	if s.broadcaster != nil {
		s.broadcaster.MatchUpdated(matchID, snapshot)
	}
	return snapshot, nil
}
