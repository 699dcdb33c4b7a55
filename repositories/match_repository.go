package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
)

var ErrMatchNotFound = errors.New("match not found")

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	// LockForUpdate takes the exclusive row lock that serializes all mutating
	// use-cases on one match. Must be called before the first read inside a
	// transaction that will write. Returns ErrMatchNotFound for missing rows.
	LockForUpdate(ctx context.Context, exec SQLExecutor, id int) error
	Update(ctx context.Context, exec SQLExecutor, match *models.Match) error
	List(ctx context.Context, exec SQLExecutor, limit, offset int) ([]*models.Match, error)
	ListScheduledBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `id, title, starts_at, location, capacity, status, revision, is_locked, locked_at, locked_by, created_by_id, created_at`

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO matches (title, starts_at, location, capacity, status, revision, is_locked, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		match.Title,
		match.StartsAt,
		match.Location,
		match.Capacity,
		match.Status,
		match.Revision,
		match.IsLocked,
		match.CreatedByID,
	).Scan(&match.ID, &match.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) scanMatch(row *sql.Row) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.StartsAt,
		&m.Location,
		&m.Capacity,
		&m.Status,
		&m.Revision,
		&m.IsLocked,
		&m.LockedAt,
		&m.LockedBy,
		&m.CreatedByID,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return r.scanMatch(executor.QueryRowContext(ctx, query, id))
}

func (r *postgresMatchRepository) LockForUpdate(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	var lockedID int
	err := executor.QueryRowContext(ctx, `SELECT id FROM matches WHERE id = $1 FOR UPDATE`, id).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMatchNotFound
		}
		return fmt.Errorf("failed to lock match %d: %w", id, err)
	}
	return nil
}

func (r *postgresMatchRepository) Update(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE matches
		SET title = $1, starts_at = $2, location = $3, capacity = $4, status = $5,
		    revision = $6, is_locked = $7, locked_at = $8, locked_by = $9, created_by_id = $10
		WHERE id = $11`

	result, err := executor.ExecContext(ctx, query,
		match.Title,
		match.StartsAt,
		match.Location,
		match.Capacity,
		match.Status,
		match.Revision,
		match.IsLocked,
		match.LockedAt,
		match.LockedBy,
		match.CreatedByID,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) List(ctx context.Context, exec SQLExecutor, limit, offset int) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches ORDER BY starts_at ASC LIMIT $1 OFFSET $2`

	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

// ListScheduledBefore returns scheduled matches whose kick-off is at or before
// the cutoff. Used by the background scheduler that flips them to played.
func (r *postgresMatchRepository) ListScheduledBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE status = $1 AND starts_at <= $2 ORDER BY starts_at ASC`

	rows, err := executor.QueryContext(ctx, query, models.MatchStatusScheduled, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled matches: %w", err)
	}
	defer rows.Close()

	return collectMatches(rows)
}

func collectMatches(rows *sql.Rows) ([]*models.Match, error) {
	matches := make([]*models.Match, 0)
	for rows.Next() {
		m := &models.Match{}
		if err := rows.Scan(
			&m.ID,
			&m.Title,
			&m.StartsAt,
			&m.Location,
			&m.Capacity,
			&m.Status,
			&m.Revision,
			&m.IsLocked,
			&m.LockedAt,
			&m.LockedBy,
			&m.CreatedByID,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return matches, nil
}
