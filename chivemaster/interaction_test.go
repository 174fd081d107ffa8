package chivemaster

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestChiveMaster wires a bot around the same mocks the updater tests
// use, for exercising the slash-command handlers directly.
func newTestChiveMaster(t testing.TB) (
	*ChiveMaster,
	DBI,
	*mockDiscordSession,
	*mockProfileClient,
) {
	t.Helper()

	updater, db, session, profile := newTestUpdater(t)

	config := DefaultConfig()
	config.Updater = updater.config

	cm := &ChiveMaster{
		config:  config,
		logger:  testLogger(t).With(loggerNameKey, "chivemaster"),
		db:      db,
		discord: updater.discord,
		profile: profile,
		updater: updater,
	}
	return cm, db, session, profile
}

func uidOption(
	externalID int64,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	return map[string]*discordgo.ApplicationCommandInteractionDataOption{
		commandOptionUID: {
			Name:  commandOptionUID,
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(externalID),
		},
	}
}

func TestCommandRegisterIssuesCode(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()
	alice := &discordgo.User{ID: "alice", Username: "alice"}

	reply, err := cm.commandRegister(ctx, alice, uidOption(600000001))
	require.NoError(t, err)

	request, err := db.VerificationRequestByID(ctx, 600000001)
	require.NoError(t, err)
	require.NotNil(t, request)
	assert.Equal(t, "alice", request.UserID)
	assert.Len(t, request.OTP, otpLength)
	assert.Contains(t, reply, request.OTP)
	assert.Contains(t, reply, "bio")

	// re-registering re-shows the same code instead of rotating it
	again, err := cm.commandRegister(ctx, alice, uidOption(600000001))
	require.NoError(t, err)
	assert.Contains(t, again, request.OTP)

	requests, err := db.VerificationRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestCommandRegisterRejectsClaimedAccounts(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()
	alice := &discordgo.User{ID: "alice", Username: "alice"}

	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 1, UserID: "bob"}),
	)
	reply, err := cm.commandRegister(ctx, alice, uidOption(1))
	require.NoError(t, err)
	assert.Contains(t, reply, "already linked to another user")

	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 2, UserID: "alice"}),
	)
	reply, err = cm.commandRegister(ctx, alice, uidOption(2))
	require.NoError(t, err)
	assert.Contains(t, reply, "already verified")

	require.NoError(
		t,
		db.SaveVerificationRequest(
			ctx,
			&VerificationRequest{ExternalID: 3, UserID: "bob", OTP: "zzzzzz"},
		),
	)
	reply, err = cm.commandRegister(ctx, alice, uidOption(3))
	require.NoError(t, err)
	assert.Contains(t, reply, "pending verification by another user")
}

func TestCommandMatchRequiresVerifiedAccount(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()
	alice := &discordgo.User{ID: "alice", Username: "alice"}

	reply, err := cm.commandMatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "/register")

	candidate, err := db.CandidateByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestCommandMatchQueueChecks(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()
	alice := &discordgo.User{ID: "alice", Username: "alice"}

	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 600000001, UserID: "alice"}),
	)

	reply, err := cm.commandMatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "in the queue")

	candidate, err := db.CandidateByUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, candidate)

	// queueing twice is a no-op
	reply, err = cm.commandMatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "already in the queue")

	// an active match blocks re-queueing entirely
	require.NoError(t, db.DeleteCandidate(ctx, "alice"))
	require.NoError(
		t,
		db.SaveMatch(ctx, &Match{ChannelID: "m1", UserA: "alice", UserB: "bob"}),
	)
	reply, err = cm.commandMatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "active match")
	assert.Contains(t, reply, "m1")
}

func TestCommandUnmatch(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()
	alice := &discordgo.User{ID: "alice", Username: "alice"}

	reply, err := cm.commandUnmatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "not in the queue")

	require.NoError(t, db.SaveCandidate(ctx, &Candidate{UserID: "alice"}))
	reply, err = cm.commandUnmatch(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "Removed you from the queue")

	candidate, err := db.CandidateByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, candidate)
}

func TestCommandDisbandGating(t *testing.T) {
	t.Parallel()

	cm, db, session, _ := newTestChiveMaster(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveMatch(ctx, &Match{ChannelID: "m1", UserA: "alice", UserB: "bob"}),
	)

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{ChannelID: "m1"},
	}

	// outside a match channel
	elsewhere := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{ChannelID: "general"},
	}
	reply, err := cm.commandDisband(
		ctx,
		elsewhere,
		&discordgo.User{ID: "alice"},
	)
	require.NoError(t, err)
	assert.Contains(t, reply, "isn't a match channel")

	// a bystander without manage-server permission is refused
	reply, err = cm.commandDisband(ctx, interaction, &discordgo.User{ID: "carol"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Only the matched users")

	still, err := db.MatchByChannel(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, still)

	// a participant may disband; teardown runs in the background
	reply, err = cm.commandDisband(ctx, interaction, &discordgo.User{ID: "alice"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Disbanding")

	assert.Eventually(
		t, func() bool {
			match, matchErr := db.MatchByChannel(context.Background(), "m1")
			return matchErr == nil && match == nil
		},
		time.Second,
		5*time.Millisecond,
	)
	assert.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.deletedChannels) == 1
		},
		time.Second,
		5*time.Millisecond,
	)
}

func TestCommandDisbandAllowsManager(t *testing.T) {
	t.Parallel()

	cm, db, _, _ := newTestChiveMaster(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveMatch(ctx, &Match{ChannelID: "m2", UserA: "alice", UserB: "bob"}),
	)

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ChannelID: "m2",
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: "carol"},
				Permissions: discordgo.PermissionManageServer,
			},
		},
	}

	reply, err := cm.commandDisband(ctx, interaction, &discordgo.User{ID: "carol"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Disbanding")

	assert.Eventually(
		t, func() bool {
			match, matchErr := db.MatchByChannel(context.Background(), "m2")
			return matchErr == nil && match == nil
		},
		time.Second,
		5*time.Millisecond,
	)
}

func TestHandleApplicationCommandDispatch(t *testing.T) {
	t.Parallel()

	cm, _, session, _ := newTestChiveMaster(t)

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandUIDs,
			},
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "alice", Username: "alice"},
			},
		},
	}

	cm.handleApplicationCommand(interaction)

	followups := session.sentTo("followup")
	require.Len(t, followups, 1)
	assert.Contains(t, followups[0], "no verified accounts")
}
