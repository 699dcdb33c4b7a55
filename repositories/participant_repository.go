package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/lib/pq"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantConflict = errors.New("participant conflict: user already has a row for this match")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error
	Update(ctx context.Context, exec SQLExecutor, p *models.Participant) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	FindByMatchAndUser(ctx context.Context, exec SQLExecutor, matchID, userID int) (*models.Participant, error)
	// ListByMatch returns every row of the match in creation order, with the
	// participant's user joined for display.
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Participant, error)
	MaxWaitlistPosition(ctx context.Context, exec SQLExecutor, matchID int) (int, error)
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO participants (match_id, user_id, status, waitlist_position, is_match_admin, admin_granted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		p.MatchID,
		p.UserID,
		p.Status,
		p.WaitlistPosition,
		p.IsMatchAdmin,
		p.AdminGrantedAt,
		p.ConfirmedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "participants_match_id_user_id_key" {
				return ErrParticipantConflict
			}
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func (r *postgresParticipantRepository) Update(ctx context.Context, exec SQLExecutor, p *models.Participant) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE participants
		SET status = $1, waitlist_position = $2, is_match_admin = $3, admin_granted_at = $4, confirmed_at = $5
		WHERE id = $6`

	result, err := executor.ExecContext(ctx, query,
		p.Status,
		p.WaitlistPosition,
		p.IsMatchAdmin,
		p.AdminGrantedAt,
		p.ConfirmedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresParticipantRepository) FindByMatchAndUser(ctx context.Context, exec SQLExecutor, matchID, userID int) (*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, match_id, user_id, status, waitlist_position, is_match_admin, admin_granted_at, confirmed_at, created_at
		FROM participants
		WHERE match_id = $1 AND user_id = $2`

	p := &models.Participant{}
	err := executor.QueryRowContext(ctx, query, matchID, userID).Scan(
		&p.ID,
		&p.MatchID,
		&p.UserID,
		&p.Status,
		&p.WaitlistPosition,
		&p.IsMatchAdmin,
		&p.AdminGrantedAt,
		&p.ConfirmedAt,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Participant, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT
			p.id, p.match_id, p.user_id, p.status, p.waitlist_position, p.is_match_admin, p.admin_granted_at, p.confirmed_at, p.created_at,
			u.id, u.first_name, u.last_name, u.username, u.email, u.avatar_key, u.created_at
		FROM participants p
		JOIN users u ON p.user_id = u.id
		WHERE p.match_id = $1
		ORDER BY p.created_at ASC, p.id ASC`

	rows, err := executor.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants by match: %w", err)
	}
	defer rows.Close()

	participants := make([]*models.Participant, 0)
	for rows.Next() {
		p := &models.Participant{}
		u := &models.User{}
		if err := rows.Scan(
			&p.ID, &p.MatchID, &p.UserID, &p.Status, &p.WaitlistPosition, &p.IsMatchAdmin, &p.AdminGrantedAt, &p.ConfirmedAt, &p.CreatedAt,
			&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email, &u.AvatarKey, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		p.User = u
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) MaxWaitlistPosition(ctx context.Context, exec SQLExecutor, matchID int) (int, error) {
	executor := r.getExecutor(exec)
	var max int
	err := executor.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(waitlist_position), 0) FROM participants WHERE match_id = $1`,
		matchID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max waitlist position: %w", err)
	}
	return max, nil
}
