package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConfirmFillsCapacityThenWaitlists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	carol := env.store.addUser("carol")
	match := env.seedMatch(creator, 2)

	snap, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k-alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ConfirmedCount)
	assert.Equal(t, 2, snap.Match.Revision)
	require.NotNil(t, snap.YourStatus)
	assert.Equal(t, models.ParticipantConfirmed, *snap.YourStatus)

	snap, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: bob.ID, ExpectedRevision: 2, IdempotencyKey: "k-bob",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ConfirmedCount)
	require.NotNil(t, snap.YourStatus)
	assert.Equal(t, models.ParticipantWaitlisted, *snap.YourStatus)
	require.Len(t, snap.Waitlist, 1)
	assert.Equal(t, bob.ID, snap.Waitlist[0].UserID)
	assert.Equal(t, 1, *snap.Waitlist[0].WaitlistPosition)

	snap, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: carol.ID, ExpectedRevision: 3, IdempotencyKey: "k-carol",
	})
	require.NoError(t, err)
	require.Len(t, snap.Waitlist, 2)
	assert.Equal(t, bob.ID, snap.Waitlist[0].UserID)
	assert.Equal(t, carol.ID, snap.Waitlist[1].UserID)
	assert.Equal(t, 2, *snap.Waitlist[1].WaitlistPosition)
}

func TestConfirmWhileConfirmedIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	snap, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, snap.Match.Revision)

	// Fresh key, same intent: already confirmed, revision must not move.
	snap, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 2, IdempotencyKey: "k2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Match.Revision)
	assert.Equal(t, 2, snap.ConfirmedCount)
}

func TestConfirmRevisionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	_, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 7, IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestConcurrentConfirmsOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	match := env.seedMatch(creator, 10)

	users := make([]*models.User, 5)
	for i := range users {
		users[i] = env.store.addUser("user" + string(rune('a'+i)))
	}

	var mu sync.Mutex
	var conflicts, successes int

	g := new(errgroup.Group)
	for _, u := range users {
		g.Go(func() error {
			_, err := env.participate.Confirm(ctx, ConfirmInput{
				MatchID:          match.ID,
				ActorID:          u.ID,
				ExpectedRevision: 1,
				IdempotencyKey:   "k-" + u.Username,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrRevisionConflict):
				conflicts++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, successes)
	assert.Equal(t, 4, conflicts)
	assert.Equal(t, 2, env.store.matchByID(match.ID).Revision)

	// Only the winner joined: creator plus exactly one racer.
	snap, err := env.matches.GetMatch(ctx, match.ID, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ConfirmedCount)
}

func TestDeclineOnlyFromInvited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 5)

	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantInvited,
	})

	snap, err := env.participate.Decline(ctx, DeclineInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.NotNil(t, snap.YourStatus)
	assert.Equal(t, models.ParticipantDeclined, *snap.YourStatus)
	assert.Equal(t, 2, snap.Match.Revision)

	// No participant row at all: declining is a polite no-op.
	snap, err = env.participate.Decline(ctx, DeclineInput{
		MatchID: match.ID, ActorID: bob.ID, ExpectedRevision: 2, IdempotencyKey: "k2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Match.Revision)

	// A confirmed participant has to withdraw, not decline.
	_, err = env.participate.Decline(ctx, DeclineInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 2, IdempotencyKey: "k3",
	})
	assert.ErrorIs(t, err, ErrMustWithdrawInstead)
}

func TestWithdrawPromotesEarliestWaitlisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	carol := env.store.addUser("carol")
	match := env.seedMatch(creator, 2)

	rev := 1
	for i, u := range []*models.User{alice, bob, carol} {
		_, err := env.participate.Confirm(ctx, ConfirmInput{
			MatchID: match.ID, ActorID: u.ID, ExpectedRevision: rev, IdempotencyKey: "seed-" + u.Username,
		})
		require.NoError(t, err, "confirm %d", i)
		rev++
	}

	// alice holds a confirmed spot; bob is waitlist #1, carol #2.
	snap, err := env.participate.Withdraw(ctx, WithdrawInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: rev, IdempotencyKey: "k-withdraw",
	})
	require.NoError(t, err)

	bobRow := env.store.participantOf(match.ID, bob.ID)
	require.NotNil(t, bobRow)
	assert.Equal(t, models.ParticipantConfirmed, bobRow.Status)
	assert.Nil(t, bobRow.WaitlistPosition)

	require.Len(t, snap.Waitlist, 1)
	assert.Equal(t, carol.ID, snap.Waitlist[0].UserID)
	assert.Equal(t, 1, *snap.Waitlist[0].WaitlistPosition)
	assert.Equal(t, 2, snap.ConfirmedCount)

	// The withdrawn row stays for history.
	aliceRow := env.store.participantOf(match.ID, alice.ID)
	require.NotNil(t, aliceRow)
	assert.Equal(t, models.ParticipantWithdrawn, aliceRow.Status)
}

func TestWithdrawAllowedOnLockedMatch(t *testing.T) {
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

	// Confirm is blocked by the lock, withdraw is not.
	_, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: env.store.addUser("late").ID, ExpectedRevision: 3, IdempotencyKey: "k2",
	})
	assert.ErrorIs(t, err, ErrMatchLocked)

	snap, err := env.participate.Withdraw(ctx, WithdrawInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 3, IdempotencyKey: "k3",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantWithdrawn, *snap.YourStatus)
}

func TestLeaveDeletesRowAndPromotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 2)

	_, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	_, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: bob.ID, ExpectedRevision: 2, IdempotencyKey: "k2",
	})
	require.NoError(t, err)

	snap, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 3, IdempotencyKey: "k3",
	})
	require.NoError(t, err)

	assert.Nil(t, env.store.participantOf(match.ID, alice.ID))
	assert.Nil(t, snap.YourStatus)
	bobRow := env.store.participantOf(match.ID, bob.ID)
	assert.Equal(t, models.ParticipantConfirmed, bobRow.Status)
}

func TestCreatorLeaveTransfersToEarliestAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 5)

	earlier := env.clock.Now().Add(-2 * time.Hour)
	later := env.clock.Now().Add(-1 * time.Hour)
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: bob.ID, Status: models.ParticipantWaitlisted,
		IsMatchAdmin: true, AdminGrantedAt: &later,
	})
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantConfirmed,
		IsMatchAdmin: true, AdminGrantedAt: &earlier,
	})

	_, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	updated := env.store.matchByID(match.ID)
	assert.Equal(t, alice.ID, updated.CreatedByID)
	assert.Nil(t, env.store.participantOf(match.ID, creator.ID))
}

func TestCreatorLeaveWithoutAdminFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	match := env.seedMatch(creator, 5)

	_, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrCreatorLeaveNoAdmin)

	// Nothing committed: the creator row and revision are untouched.
	assert.NotNil(t, env.store.participantOf(match.ID, creator.ID))
	assert.Equal(t, 1, env.store.matchByID(match.ID).Revision)
}

func TestCreatorLeaveConfirmsWaitlistedSuccessor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 5)

	granted := env.clock.Now().Add(-time.Hour)
	pos := 1
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: bob.ID, Status: models.ParticipantWaitlisted,
		WaitlistPosition: &pos, IsMatchAdmin: true, AdminGrantedAt: &granted,
	})

	_, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	assert.Equal(t, bob.ID, env.store.matchByID(match.ID).CreatedByID)
	bobRow := env.store.participantOf(match.ID, bob.ID)
	require.NotNil(t, bobRow)
	assert.Equal(t, models.ParticipantConfirmed, bobRow.Status)
	assert.Nil(t, bobRow.WaitlistPosition)
	require.NotNil(t, bobRow.ConfirmedAt)
	assert.Equal(t, env.clock.Now(), *bobRow.ConfirmedAt)
}

func TestCreatorLeaveDoesNotPromoteOverCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	carol := env.store.addUser("carol")
	match := env.seedMatch(creator, 2)

	now := env.clock.Now()
	granted := now.Add(-time.Hour)
	pos1, pos2 := 1, 2
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantConfirmed,
		ConfirmedAt: &now,
	})
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: carol.ID, Status: models.ParticipantWaitlisted,
		WaitlistPosition: &pos1,
	})
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: bob.ID, Status: models.ParticipantWaitlisted,
		WaitlistPosition: &pos2, IsMatchAdmin: true, AdminGrantedAt: &granted,
	})

	// The handoff confirms bob, so the seat freed by the creator is already
	// taken and carol must stay on the waitlist.
	_, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	assert.Equal(t, bob.ID, env.store.matchByID(match.ID).CreatedByID)
	assert.Equal(t, models.ParticipantConfirmed, env.store.participantOf(match.ID, bob.ID).Status)
	assert.Equal(t, models.ParticipantWaitlisted, env.store.participantOf(match.ID, carol.ID).Status)

	snap, err := env.matches.GetMatch(ctx, match.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ConfirmedCount)
}

func TestCreatorLeavePrefersDatedAdminGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	bob := env.store.addUser("bob")
	match := env.seedMatch(creator, 5)

	granted := env.clock.Now().Add(-time.Hour)
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantConfirmed,
		IsMatchAdmin: true,
	})
	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: bob.ID, Status: models.ParticipantConfirmed,
		IsMatchAdmin: true, AdminGrantedAt: &granted,
	})

	// Alice has no recorded grant time, so bob's dated grant wins.
	_, err := env.participate.Leave(ctx, LeaveInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, env.store.matchByID(match.ID).CreatedByID)
}

func TestInviteByUsernameAndConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	snap, err := env.participate.Invite(ctx, match.ID, creator.ID, 1, "@alice", "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Match.Revision)
	row := env.store.participantOf(match.ID, alice.ID)
	require.NotNil(t, row)
	assert.Equal(t, models.ParticipantInvited, row.Status)

	// Re-inviting a pending target is a no-op without a bump.
	snap, err = env.participate.Invite(ctx, match.ID, creator.ID, 2, "alice", "k2")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Match.Revision)

	_, err = env.participate.Invite(ctx, match.ID, creator.ID, 2, "@creator", "k3")
	assert.ErrorIs(t, err, ErrSelfInvite)

	_, err = env.participate.Invite(ctx, match.ID, creator.ID, 2, "@nobody", "k4")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Only the creator or an admin can invite.
	_, err = env.participate.Invite(ctx, match.ID, alice.ID, 2, "@creator", "k5")
	assert.ErrorIs(t, err, ErrCreatorOrAdminOnly)
}

func TestInviteConfirmedUserConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	_, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	_, err = env.participate.Invite(ctx, match.ID, creator.ID, 2, "@alice", "k2")
	assert.ErrorIs(t, err, ErrAlreadyParticipant)
}

func TestPromoteAndDemoteAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	_, err := env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	snap, err := env.participate.PromoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: creator.ID, TargetUserID: alice.ID, ExpectedRevision: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Match.Revision)
	row := env.store.participantOf(match.ID, alice.ID)
	assert.True(t, row.IsMatchAdmin)
	assert.NotNil(t, row.AdminGrantedAt)

	// Promoting again does not bump the revision.
	snap, err = env.participate.PromoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: creator.ID, TargetUserID: alice.ID, ExpectedRevision: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Match.Revision)

	// Only the creator can manage admins, even an admin cannot.
	_, err = env.participate.PromoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: alice.ID, TargetUserID: creator.ID, ExpectedRevision: 3,
	})
	assert.ErrorIs(t, err, ErrCreatorOnly)

	_, err = env.participate.DemoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: creator.ID, TargetUserID: creator.ID, ExpectedRevision: 3,
	})
	assert.ErrorIs(t, err, ErrCannotDemoteCreator)

	snap, err = env.participate.DemoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: creator.ID, TargetUserID: alice.ID, ExpectedRevision: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Match.Revision)
	row = env.store.participantOf(match.ID, alice.ID)
	assert.False(t, row.IsMatchAdmin)
	assert.Nil(t, row.AdminGrantedAt)
}

func TestPromoteAdminRequiresActiveTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	env.store.addParticipant(&models.Participant{
		MatchID: match.ID, UserID: alice.ID, Status: models.ParticipantWithdrawn,
	})

	_, err := env.participate.PromoteAdmin(ctx, AdminChangeInput{
		MatchID: match.ID, ActorID: creator.ID, TargetUserID: alice.ID, ExpectedRevision: 1,
	})
	assert.ErrorIs(t, err, ErrNotActiveParticipant)
}

func TestActionsBlockedOnCanceledMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	creator := env.store.addUser("creator")
	alice := env.store.addUser("alice")
	match := env.seedMatch(creator, 5)

	_, err := env.matches.CancelMatch(ctx, CancelMatchInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 1, IdempotencyKey: "k-cancel",
	})
	require.NoError(t, err)

	_, err = env.participate.Confirm(ctx, ConfirmInput{
		MatchID: match.ID, ActorID: alice.ID, ExpectedRevision: 2, IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrMatchCanceled)

	_, err = env.participate.Withdraw(ctx, WithdrawInput{
		MatchID: match.ID, ActorID: creator.ID, ExpectedRevision: 2, IdempotencyKey: "k2",
	})
	assert.ErrorIs(t, err, ErrMatchCanceled)
}

func TestConfirmMissingMatch(t *testing.T) {
	env := newTestEnv(t)
	alice := env.store.addUser("alice")

	_, err := env.participate.Confirm(context.Background(), ConfirmInput{
		MatchID: 999, ActorID: alice.ID, ExpectedRevision: 1, IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrMatchNotFound)
}
