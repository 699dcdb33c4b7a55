package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserIdentifier(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want UserIdentifier
	}{
		{"numeric id", "42", UserIdentifier{Kind: IdentifierByID, ID: 42}},
		{"at-username", "@diego", UserIdentifier{Kind: IdentifierByUsername, Username: "diego"}},
		{"bare username", "diego", UserIdentifier{Kind: IdentifierByUsername, Username: "diego"}},
		{"email", "diego@example.com", UserIdentifier{Kind: IdentifierByEmail, Email: "diego@example.com"}},
		{"numeric-looking username", "4real", UserIdentifier{Kind: IdentifierByUsername, Username: "4real"}},
		{"whitespace trimmed", "  @diego  ", UserIdentifier{Kind: IdentifierByUsername, Username: "diego"}},
		{"negative number is a username", "-3", UserIdentifier{Kind: IdentifierByUsername, Username: "-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserIdentifier(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUserIdentifierRejectsEmpty(t *testing.T) {
	_, err := ParseUserIdentifier("")
	assert.Error(t, err)

	_, err = ParseUserIdentifier("   ")
	assert.Error(t, err)

	_, err = ParseUserIdentifier("@")
	assert.Error(t, err)
}

func TestResolveUser(t *testing.T) {
	store := newMemStore()
	repo := &memUserRepo{store: store}
	diego := store.addUser("diego")
	ctx := context.Background()

	byID, err := ResolveUser(ctx, repo, UserIdentifier{Kind: IdentifierByID, ID: diego.ID})
	require.NoError(t, err)
	assert.Equal(t, diego.ID, byID.ID)

	byName, err := ResolveUser(ctx, repo, UserIdentifier{Kind: IdentifierByUsername, Username: "diego"})
	require.NoError(t, err)
	assert.Equal(t, diego.ID, byName.ID)

	byEmail, err := ResolveUser(ctx, repo, UserIdentifier{Kind: IdentifierByEmail, Email: "diego@example.com"})
	require.NoError(t, err)
	assert.Equal(t, diego.ID, byEmail.ID)

	_, err = ResolveUser(ctx, repo, UserIdentifier{Kind: IdentifierByUsername, Username: "ghost"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}
