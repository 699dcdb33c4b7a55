package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

// DefaultIdempotencyTTL bounds how long a stored response stays replayable.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyCoordinator guarantees at-most-once execution of keyed mutating
// actions. The action runs inside a transaction and the record insert commits
// with it, so a concurrent duplicate either replays the stored response or
// loses the insert race and is answered from the winner's record.
type IdempotencyCoordinator struct {
	runner TxRunner
	repo   repositories.IdempotencyRepository
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger
}

func NewIdempotencyCoordinator(
	runner TxRunner,
	repo repositories.IdempotencyRepository,
	clock Clock,
	ttl time.Duration,
	logger *slog.Logger,
) *IdempotencyCoordinator {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyCoordinator{
		runner: runner,
		repo:   repo,
		clock:  clock,
		ttl:    ttl,
		logger: logger,
	}
}

// IdempotencyParams identifies one keyed submission. Payload is the
// semantically relevant request body used for the digest.
type IdempotencyParams struct {
	Key     string
	ActorID int
	Route   string
	MatchID int
	Payload interface{}
}

// Run executes the action at most once for the given key tuple.
func (c *IdempotencyCoordinator) Run(
	ctx context.Context,
	params IdempotencyParams,
	execute func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error),
) (*models.MatchSnapshot, error) {
	if params.Key == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	digest, err := requestDigest(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to digest request payload: %w", err)
	}

	if snapshot, done, err := c.tryReplay(ctx, params, digest); done {
		return snapshot, err
	}

	snapshot, err := c.executeAndRecord(ctx, params, digest, execute)
	if err != nil {
		if errors.Is(err, repositories.ErrIdempotencyRecordConflict) {
			// Lost the first-insert race: the duplicate already committed,
			// answer from its record.
			c.logger.Info("idempotency insert race lost, replaying winner's response",
				slog.String("route", params.Route),
				slog.Int("match_id", params.MatchID),
				slog.Int("actor_id", params.ActorID),
			)
			if replayed, done, replayErr := c.tryReplay(ctx, params, digest); done {
				return replayed, replayErr
			}
			return nil, ErrIdempotencyKeyReuse
		}
		return nil, err
	}
	return snapshot, nil
}

// tryReplay reports done=true when an existing record settles the request:
// either a verbatim replay or a key-reuse conflict.
func (c *IdempotencyCoordinator) tryReplay(ctx context.Context, params IdempotencyParams, digest string) (*models.MatchSnapshot, bool, error) {
	record, err := c.repo.Find(ctx, nil, params.Key, params.ActorID, params.Route, params.MatchID)
	if err != nil {
		if errors.Is(err, repositories.ErrIdempotencyRecordNotFound) {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("failed to look up idempotency record: %w", err)
	}

	if record.Expired(c.clock.Now()) {
		if err := c.repo.Delete(ctx, nil, record.ID); err != nil && !errors.Is(err, repositories.ErrIdempotencyRecordNotFound) {
			return nil, true, fmt.Errorf("failed to delete expired idempotency record: %w", err)
		}
		return nil, false, nil
	}

	if record.RequestHash != digest {
		return nil, true, ErrIdempotencyKeyReuse
	}

	snapshot := &models.MatchSnapshot{}
	if err := json.Unmarshal(record.ResponseJSON, snapshot); err != nil {
		return nil, true, fmt.Errorf("failed to decode stored idempotent response: %w", err)
	}
	return snapshot, true, nil
}

func (c *IdempotencyCoordinator) executeAndRecord(
	ctx context.Context,
	params IdempotencyParams,
	digest string,
	execute func(exec repositories.SQLExecutor) (*models.MatchSnapshot, error),
) (*models.MatchSnapshot, error) {
	var snapshot *models.MatchSnapshot
	err := c.runner.InTx(ctx, func(exec repositories.SQLExecutor) error {
		result, err := execute(exec)
		if err != nil {
			return err
		}

		responseJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to serialize response for idempotency record: %w", err)
		}

		record := &models.IdempotencyRecord{
			Key:          params.Key,
			ActorID:      params.ActorID,
			Route:        params.Route,
			MatchID:      params.MatchID,
			RequestHash:  digest,
			ResponseJSON: responseJSON,
			ExpiresAt:    c.clock.Now().Add(c.ttl),
		}
		if err := c.repo.Insert(ctx, exec, record); err != nil {
			return err
		}

		snapshot = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Sweep garbage-collects expired records. Driven by a background ticker;
// without it the table grows without bound.
func (c *IdempotencyCoordinator) Sweep(ctx context.Context) error {
	deleted, err := c.repo.DeleteExpired(ctx, nil, c.clock.Now())
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.logger.Info("swept expired idempotency records", slog.Int64("deleted", deleted))
	}
	return nil
}

// requestDigest hashes the payload through a marshal/unmarshal round trip so
// that logically equal objects digest identically regardless of field order
// (encoding/json writes map keys sorted).
func requestDigest(payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
