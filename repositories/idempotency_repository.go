package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/lib/pq"
)

var (
	ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")
	// ErrIdempotencyRecordConflict signals that a concurrent request with the
	// same key tuple committed first. The coordinator falls back to the replay
	// path instead of surfacing this.
	ErrIdempotencyRecordConflict = errors.New("idempotency record already exists")
)

type IdempotencyRepository interface {
	Find(ctx context.Context, exec SQLExecutor, key string, actorID int, route string, matchID int) (*models.IdempotencyRecord, error)
	Insert(ctx context.Context, exec SQLExecutor, record *models.IdempotencyRecord) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	DeleteExpired(ctx context.Context, exec SQLExecutor, now time.Time) (int64, error)
}

type postgresIdempotencyRepository struct {
	db *sql.DB
}

func NewPostgresIdempotencyRepository(db *sql.DB) IdempotencyRepository {
	return &postgresIdempotencyRepository{db: db}
}

func (r *postgresIdempotencyRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresIdempotencyRepository) Find(ctx context.Context, exec SQLExecutor, key string, actorID int, route string, matchID int) (*models.IdempotencyRecord, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT id, key, actor_id, route, match_id, request_hash, response_json, expires_at, created_at
		FROM idempotency_records
		WHERE key = $1 AND actor_id = $2 AND route = $3 AND match_id = $4`

	rec := &models.IdempotencyRecord{}
	err := executor.QueryRowContext(ctx, query, key, actorID, route, matchID).Scan(
		&rec.ID,
		&rec.Key,
		&rec.ActorID,
		&rec.Route,
		&rec.MatchID,
		&rec.RequestHash,
		&rec.ResponseJSON,
		&rec.ExpiresAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdempotencyRecordNotFound
		}
		return nil, fmt.Errorf("failed to find idempotency record: %w", err)
	}
	return rec, nil
}

func (r *postgresIdempotencyRepository) Insert(ctx context.Context, exec SQLExecutor, record *models.IdempotencyRecord) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO idempotency_records (key, actor_id, route, match_id, request_hash, response_json, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		record.Key,
		record.ActorID,
		record.Route,
		record.MatchID,
		record.RequestHash,
		record.ResponseJSON,
		record.ExpiresAt,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrIdempotencyRecordConflict
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

func (r *postgresIdempotencyRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM idempotency_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete idempotency record: %w", err)
	}
	return checkAffectedRows(result, ErrIdempotencyRecordNotFound)
}

func (r *postgresIdempotencyRepository) DeleteExpired(ctx context.Context, exec SQLExecutor, now time.Time) (int64, error) {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted idempotency records: %w", err)
	}
	return deleted, nil
}
