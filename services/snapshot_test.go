package services

import (
	"context"
	"testing"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotHidesWithdrawnAndCountsConfirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 5)

	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantWithdrawn,
	})
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: bob.ID, Status: models.ParticipantInvited,
	})

	snap, err := env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ConfirmedCount)
	require.Len(t, snap.Participants, 2)
	for _, p := range snap.Participants {
		assert.NotEqual(t, alice.ID, p.UserID)
	}
}

func TestSnapshotRenumbersWaitlistWithGaps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	match := env.seedMatch(creator, 1)

	// Stored positions have gaps left by earlier promotions.
	for i, pos := range []int{4, 9, 2} {
		u := env.store.addUser([]string{"dana", "eli", "fern"}[i])
		p := pos
		env.store.addParticipant(&models.Participant{
			MatchID: match.ID, UserID: u.ID, Status: models.ParticipantWaitlisted, WaitlistPosition: &p,
		})
	}

	snap, err := env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)

	require.Len(t, snap.Waitlist, 3)
	assert.Equal(t, "fern", snap.Waitlist[0].User.Username)
	assert.Equal(t, "dana", snap.Waitlist[1].User.Username)
	assert.Equal(t, "eli", snap.Waitlist[2].User.Username)
	for i, p := range snap.Waitlist {
		assert.Equal(t, i+1, *p.WaitlistPosition)
	}
}

func TestAllowedActionsForViewers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	stranger := env.store.addUser("stranger")
	invited := env.store.addUser("invited")
	match := env.seedMatch(creator, 5)

	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: invited.ID, Status: models.ParticipantInvited,
	})

	snap, err := env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MatchAction{
		models.ActionInvite, models.ActionWithdraw, models.ActionLock,
		models.ActionUpdate, models.ActionCancel, models.ActionManageAdmins,
	}, snap.ActionsAllowed)

	snap, err = env.matches.GetMatch(ctx, match.ID, stranger.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MatchAction{models.ActionConfirm}, snap.ActionsAllowed)
	assert.Nil(t, snap.YourStatus)

	snap, err = env.matches.GetMatch(ctx, match.ID, invited.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MatchAction{
		models.ActionConfirm, models.ActionDecline,
	}, snap.ActionsAllowed)
}

func TestAllowedActionsOnLockedMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	_, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	_, err = env.matches.LockMatch(ctx, LockInput{MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 2})
	require.NoError(t, err)

	// Confirmed non-admins can still withdraw, nothing else.
	snap, err := env.matches.GetMatch(ctx, match.ID, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MatchAction{models.ActionWithdraw}, snap.ActionsAllowed)

	// The creator sees unlock instead of lock and loses invite.
	snap, err = env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MatchAction{
		models.ActionWithdraw, models.ActionUnlock,
		models.ActionUpdate, models.ActionCancel, models.ActionManageAdmins,
	}, snap.ActionsAllowed)
}

func TestSnapshotDisplayStatusFollowsClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	match := env.seedMatch(creator, 5)

	snap, err := env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusUpcoming, snap.DisplayStatus)

	// Past kick-off plus the grace hour the same row reads as played.
	env.clock.Advance(48*time.Hour + models.PlayedGracePeriod)
	snap, err = env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusPlayed, snap.DisplayStatus)
}
