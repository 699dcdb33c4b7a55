package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/repositories"
)

type IdentifierKind string

const (
	IdentifierByID       IdentifierKind = "id"
	IdentifierByUsername IdentifierKind = "username"
	IdentifierByEmail    IdentifierKind = "email"
)

// UserIdentifier is the parsed form of a user reference supplied by a client:
// a numeric id, "@name", a bare username, or an email address. Parsing happens
// once at the boundary; everything downstream switches on Kind.
type UserIdentifier struct {
	Kind     IdentifierKind
	ID       int
	Username string
	Email    string
}

// ParseUserIdentifier classifies a raw identifier string by shape.
func ParseUserIdentifier(raw string) (UserIdentifier, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserIdentifier{}, errors.New("user identifier is empty")
	}

	if rest, ok := strings.CutPrefix(trimmed, "@"); ok {
		if rest == "" {
			return UserIdentifier{}, errors.New("username after '@' is empty")
		}
		return UserIdentifier{Kind: IdentifierByUsername, Username: rest}, nil
	}

	if strings.Contains(trimmed, "@") {
		return UserIdentifier{Kind: IdentifierByEmail, Email: trimmed}, nil
	}

	if id, err := strconv.Atoi(trimmed); err == nil && id > 0 {
		return UserIdentifier{Kind: IdentifierByID, ID: id}, nil
	}

	return UserIdentifier{Kind: IdentifierByUsername, Username: trimmed}, nil
}

// ResolveUser looks the identifier up in the user directory and returns the
// stable user. Resolution is side-effect free, so invite runs it before the
// idempotency and transaction boundary.
func ResolveUser(ctx context.Context, userRepo repositories.UserRepository, ident UserIdentifier) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	switch ident.Kind {
	case IdentifierByID:
		user, err = userRepo.GetByID(ctx, ident.ID)
	case IdentifierByUsername:
		user, err = userRepo.GetByUsername(ctx, ident.Username)
	case IdentifierByEmail:
		user, err = userRepo.GetByEmail(ctx, ident.Email)
	default:
		return nil, fmt.Errorf("unknown identifier kind %q", ident.Kind)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}
