package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

// MatchService owns the match lifecycle: create, read, update, lock/unlock
// and cancel. Mutations follow the same row-lock and revision discipline as
// the participation use-cases.
type MatchService struct {
	runner          TxRunner
	matchRepo       repositories.MatchRepository
	participantRepo repositories.ParticipantRepository
	snapshots       *SnapshotBuilder
	idem            *IdempotencyCoordinator
	clock           Clock
	broadcaster     SnapshotBroadcaster
	logger          *slog.Logger
}

func NewMatchService(
	runner TxRunner,
	matchRepo repositories.MatchRepository,
	participantRepo repositories.ParticipantRepository,
	snapshots *SnapshotBuilder,
	idem *IdempotencyCoordinator,
	clock Clock,
	broadcaster SnapshotBroadcaster,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		runner:          runner,
		matchRepo:       matchRepo,
		participantRepo: participantRepo,
		snapshots:       snapshots,
		idem:            idem,
		clock:           clock,
		broadcaster:     broadcaster,
		logger:          logger,
	}
}

type CreateMatchInput struct {
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	Location  *string   `json:"location,omitempty"`
	Capacity  int       `json:"capacity"`
	CreatorID int       `json:"-"`
}

type UpdateMatchInput struct {
	MatchID          int        `json:"-"`
	ActorID          int        `json:"-"`
	ExpectedRevision int        `json:"expected_revision"`
	Title            *string    `json:"title,omitempty"`
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	Location         *string    `json:"location,omitempty"`
	Capacity         *int       `json:"capacity,omitempty"`
}

type CancelMatchInput struct {
	MatchID          int    `json:"match_id"`
	ActorID          int    `json:"actor_id"`
	ExpectedRevision int    `json:"expected_revision"`
	IdempotencyKey   string `json:"-"`
}

type LockInput struct {
	MatchID          int `json:"-"`
	ActorID          int `json:"-"`
	ExpectedRevision int `json:"expected_revision"`
}

// CreateMatch creates a match at revision 1 with the creator confirmed.
func (s *MatchService) CreateMatch(ctx context.Context, input CreateMatchInput) (*models.MatchSnapshot, error) {
	if input.Title == "" {
		return nil, ErrTitleRequired
	}
	if input.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	var snapshot *models.MatchSnapshot
	err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		now := s.clock.Now()
		match := &models.Match{
			Title:       input.Title,
			StartsAt:    input.StartsAt,
			Location:    input.Location,
			Capacity:    input.Capacity,
			Status:      models.MatchStatusScheduled,
			Revision:    1,
			CreatedByID: input.CreatorID,
		}
		if err := s.matchRepo.Create(ctx, exec, match); err != nil {
			return err
		}

		creator := &models.Participant{
			MatchID:     match.ID,
			UserID:      input.CreatorID,
			Status:      models.ParticipantConfirmed,
			ConfirmedAt: &now,
		}
		if err := s.participantRepo.Create(ctx, exec, creator); err != nil {
			return fmt.Errorf("failed to create creator participant: %w", err)
		}

		var err error
		snapshot, err = s.snapshots.Build(ctx, exec, match.ID, input.CreatorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("match created",
		slog.Int("match_id", snapshot.Match.ID),
		slog.Int("creator_id", input.CreatorID),
		slog.Int("capacity", snapshot.Match.Capacity),
	)
	return snapshot, nil
}

// GetMatch returns the snapshot for the viewer. Plain reads never take the
// row lock.
func (s *MatchService) GetMatch(ctx context.Context, matchID, viewerID int) (*models.MatchSnapshot, error) {
	return s.snapshots.Build(ctx, nil, matchID, viewerID)
}

func (s *MatchService) ListMatches(ctx context.Context, limit, offset int) ([]*models.Match, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.matchRepo.List(ctx, nil, limit, offset)
}

// UpdateMatch applies a partial update. Only fields that actually differ
// count: an empty diff returns the snapshot without a revision bump. Changing
// the kick-off time or location is a major change that resets every confirmed
// participant except the creator back to invited; otherwise a capacity
// decrease moves the latest-confirmed overflow onto the waitlist.
func (s *MatchService) UpdateMatch(ctx context.Context, input UpdateMatchInput) (*models.MatchSnapshot, error) {
	var snapshot *models.MatchSnapshot
	err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		match, err := s.lockAndLoad(ctx, exec, input.MatchID)
		if err != nil {
			return err
		}
		if !isCreator(match, input.ActorID) {
			return ErrCreatorOnly
		}
		if match.Status == models.MatchStatusCanceled {
			return ErrMatchCanceled
		}
		if match.Revision != input.ExpectedRevision {
			return ErrRevisionConflict
		}
		if match.IsLocked {
			return ErrMatchLocked
		}

		titleChanged := input.Title != nil && *input.Title != match.Title
		startsAtChanged := input.StartsAt != nil && !input.StartsAt.Equal(match.StartsAt)
		locationChanged := input.Location != nil && !sameLocation(*input.Location, match.Location)
		capacityChanged := input.Capacity != nil && *input.Capacity != match.Capacity

		if !titleChanged && !startsAtChanged && !locationChanged && !capacityChanged {
			snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
			return err
		}

		if titleChanged {
			if *input.Title == "" {
				return ErrTitleRequired
			}
			match.Title = *input.Title
		}
		if startsAtChanged {
			match.StartsAt = *input.StartsAt
		}
		if locationChanged {
			if *input.Location == "" {
				match.Location = nil
			} else {
				match.Location = input.Location
			}
		}
		if capacityChanged {
			if *input.Capacity <= 0 {
				return ErrInvalidCapacity
			}
			match.Capacity = *input.Capacity
		}

		// Major change and capacity overflow are mutually exclusive per
		// update; a major change always wins when both apply.
		majorChange := startsAtChanged || locationChanged
		if majorChange {
			if err := s.resetConfirmations(ctx, exec, match); err != nil {
				return err
			}
		} else if capacityChanged {
			if err := s.handleCapacityOverflow(ctx, exec, match); err != nil {
				return err
			}
		}

		if err := s.bumpRevision(ctx, exec, match); err != nil {
			return err
		}
		snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
		return err
	})
	return s.published(input.MatchID, snapshot, err)
}

// resetConfirmations forces reconfirmation after a major change: every
// confirmed participant except the creator goes back to invited. The waitlist
// stays untouched.
func (s *MatchService) resetConfirmations(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	rows, err := s.participantRepo.ListByMatch(ctx, exec, match.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	for _, p := range rows {
		if p.Status != models.ParticipantConfirmed || p.UserID == match.CreatedByID {
			continue
		}
		p.Status = models.ParticipantInvited
		p.ConfirmedAt = nil
		if err := s.participantRepo.Update(ctx, exec, p); err != nil {
			return fmt.Errorf("failed to reset confirmation: %w", err)
		}
	}
	return nil
}

// handleCapacityOverflow moves confirmed participants beyond the new capacity
// to the end of the waitlist, keeping the earliest-confirmed in their spots.
func (s *MatchService) handleCapacityOverflow(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	rows, err := s.participantRepo.ListByMatch(ctx, exec, match.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	confirmed := make([]*models.Participant, 0)
	for _, p := range rows {
		if p.Status == models.ParticipantConfirmed {
			confirmed = append(confirmed, p)
		}
	}
	if len(confirmed) <= match.Capacity {
		return nil
	}

	sortByConfirmedAt(confirmed)

	maxPos, err := s.participantRepo.MaxWaitlistPosition(ctx, exec, match.ID)
	if err != nil {
		return err
	}
	for _, p := range confirmed[match.Capacity:] {
		maxPos++
		pos := maxPos
		p.Status = models.ParticipantWaitlisted
		p.WaitlistPosition = &pos
		p.ConfirmedAt = nil
		if err := s.participantRepo.Update(ctx, exec, p); err != nil {
			return fmt.Errorf("failed to waitlist overflow participant: %w", err)
		}
	}
	return nil
}

// CancelMatch cancels the match. Idempotent when already canceled;
// participant rows are left untouched.
func (s *MatchService) CancelMatch(ctx context.Context, input CancelMatchInput) (*models.MatchSnapshot, error) {
	snapshot, err := s.idem.Run(ctx, IdempotencyParams{
		Key:     input.IdempotencyKey,
		ActorID: input.ActorID,
		Route:   "match.cancel",
		MatchID: input.MatchID,
		Payload: input,
	}, func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error) {
		return s.cancelTx(ctx, exec, input)
	})
	return s.published(input.MatchID, snapshot, err)
}

func (s *MatchService) cancelTx(ctx context.Context, exec repositories.SQLExecutor, input CancelMatchInput) (*models.MatchSnapshot, error) {
	match, err := s.lockAndLoad(ctx, exec, input.MatchID)
	if err != nil {
		return nil, err
	}
	if !isCreator(match, input.ActorID) {
		return nil, ErrCreatorOnly
	}
	if match.Status == models.MatchStatusCanceled {
		return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
	}
	if match.Revision != input.ExpectedRevision {
		return nil, ErrRevisionConflict
	}

	match.Status = models.MatchStatusCanceled
	if err := s.bumpRevision(ctx, exec, match); err != nil {
		return nil, err
	}

	s.logger.Info("match canceled", slog.Int("match_id", match.ID), slog.Int("actor_id", input.ActorID))
	return s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
}

// LockMatch closes the roster. Idempotent when already locked.
func (s *MatchService) LockMatch(ctx context.Context, input LockInput) (*models.MatchSnapshot, error) {
	return s.setLocked(ctx, input, true)
}

// UnlockMatch reopens the roster. Idempotent when already unlocked.
func (s *MatchService) UnlockMatch(ctx context.Context, input LockInput) (*models.MatchSnapshot, error) {
	return s.setLocked(ctx, input, false)
}

func (s *MatchService) setLocked(ctx context.Context, input LockInput, locked bool) (*models.MatchSnapshot, error) {
	var snapshot *models.MatchSnapshot
	err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		match, err := s.lockAndLoad(ctx, exec, input.MatchID)
		if err != nil {
			return err
		}
		actor, err := s.findParticipant(ctx, exec, input.MatchID, input.ActorID)
		if err != nil {
			return err
		}
		if !isCreatorOrAdmin(match, input.ActorID, actor) {
			return ErrCreatorOrAdminOnly
		}
		if match.Status == models.MatchStatusCanceled {
			return ErrMatchCanceled
		}
		if match.Revision != input.ExpectedRevision {
			return ErrRevisionConflict
		}
		if match.IsLocked == locked {
			snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
			return err
		}

		if locked {
			now := s.clock.Now()
			actorID := input.ActorID
			match.IsLocked = true
			match.LockedAt = &now
			match.LockedBy = &actorID
			match.Status = models.MatchStatusLocked
		} else {
			match.IsLocked = false
			match.LockedAt = nil
			match.LockedBy = nil
			if match.Status == models.MatchStatusLocked {
				match.Status = models.MatchStatusScheduled
			}
		}

		if err := s.bumpRevision(ctx, exec, match); err != nil {
			return err
		}
		snapshot, err = s.snapshots.Build(ctx, exec, input.MatchID, input.ActorID)
		return err
	})
	return s.published(input.MatchID, snapshot, err)
}

// AutoMarkPlayedMatches flips scheduled matches past their grace window to
// played. Runs from the background scheduler.
func (s *MatchService) AutoMarkPlayedMatches(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-models.PlayedGracePeriod)
	matches, err := s.matchRepo.ListScheduledBefore(ctx, nil, cutoff)
	if err != nil {
		return err
	}
	for _, match := range matches {
		err := s.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
			m, err := s.lockAndLoad(ctx, exec, match.ID)
			if err != nil {
				return err
			}
			if m.Status != models.MatchStatusScheduled || m.StartsAt.After(cutoff) {
				return nil
			}
			m.Status = models.MatchStatusPlayed
			return s.bumpRevision(ctx, exec, m)
		})
		if err != nil {
			s.logger.Error("failed to mark match as played", slog.Int("match_id", match.ID), slog.Any("error", err))
			continue
		}
	}
	return nil
}

func (s *MatchService) lockAndLoad(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Match, error) {
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

func (s *MatchService) findParticipant(ctx context.Context, exec repositories.SQLExecutor, matchID, userID int) (*models.Participant, error) {
	p, err := s.participantRepo.FindByMatchAndUser(ctx, exec, matchID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

func (s *MatchService) bumpRevision(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	match.Revision++
	if err := s.matchRepo.Update(ctx, exec, match); err != nil {
		return fmt.Errorf("failed to bump match revision: %w", err)
	}
	return nil
}

func (s *MatchService) published(matchID int, snapshot *models.MatchSnapshot, err error) (*models.MatchSnapshot, error) {
	if err != nil {
		return nil, err
	}
	if s.broadcaster != nil {
		s.broadcaster.MatchUpdated(matchID, snapshot)
	}
	return snapshot, nil
}

// sameLocation treats an empty string as "no location".
func sameLocation(newVal string, current *string) bool {
	if newVal == "" {
		return current == nil
	}
	return current != nil && *current == newVal
}

func sortByConfirmedAt(participants []*models.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		a, b := participants[i].ConfirmedAt, participants[j].ConfirmedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
}
