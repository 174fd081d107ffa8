package chivemaster

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVerificationsPromotesMatchingSignature(t *testing.T) {
	t.Parallel()

	updater, db, session, profile := newTestUpdater(t)
	ctx := context.Background()

	request := &VerificationRequest{
		ExternalID:  600000001,
		UserID:      "alice",
		DisplayName: "alice",
		OTP:         "Xy2Kp9",
	}
	require.NoError(t, db.SaveVerificationRequest(ctx, request))

	profile.scores[600000001] = &ProfileScore{
		AchievementCount: 42,
		Name:             "AliceInGame",
		Signature:        "hello there Xy2Kp9",
	}
	session.members["alice"] = &discordgo.Member{
		User: &discordgo.User{ID: "alice", Username: "alice"},
	}

	require.NoError(t, updater.checkVerifications(ctx))

	// the signature check always refreshes the profile
	assert.Contains(t, profile.putCalls, int64(600000001))

	connection, err := db.ConnectionByID(ctx, 600000001)
	require.NoError(t, err)
	require.NotNil(t, connection)
	assert.Equal(t, "alice", connection.UserID)

	remaining, err := db.VerificationRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	dms := session.sentTo("dm-alice")
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0], "AliceInGame")
	assert.Contains(t, dms[0], "600000001")
}

func TestCheckVerificationsIgnoresMismatchedSignature(t *testing.T) {
	t.Parallel()

	updater, db, _, profile := newTestUpdater(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveVerificationRequest(
			ctx,
			&VerificationRequest{
				ExternalID: 600000001,
				UserID:     "alice",
				OTP:        "Xy2Kp9",
			},
		),
	)
	profile.scores[600000001] = &ProfileScore{
		Name: "AliceInGame",
		// the code appears, but not as a suffix
		Signature: "Xy2Kp9 is my code",
	}

	require.NoError(t, updater.checkVerifications(ctx))

	connection, err := db.ConnectionByID(ctx, 600000001)
	require.NoError(t, err)
	assert.Nil(t, connection)

	remaining, err := db.VerificationRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestCheckVerificationsSignatureMatchIsCaseSensitive(t *testing.T) {
	t.Parallel()

	updater, db, _, profile := newTestUpdater(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveVerificationRequest(
			ctx,
			&VerificationRequest{
				ExternalID: 600000001,
				UserID:     "alice",
				OTP:        "Xy2Kp9",
			},
		),
	)
	profile.scores[600000001] = &ProfileScore{
		Name:      "AliceInGame",
		Signature: "hello xy2kp9",
	}

	require.NoError(t, updater.checkVerifications(ctx))

	connection, err := db.ConnectionByID(ctx, 600000001)
	require.NoError(t, err)
	assert.Nil(t, connection)
}

func TestCheckVerificationsExpiresOldRequests(t *testing.T) {
	t.Parallel()

	updater, db, session, profile := newTestUpdater(t)
	ctx := context.Background()

	expired := &VerificationRequest{
		ExternalID: 600000001,
		UserID:     "alice",
		OTP:        "Xy2Kp9",
		ModelUnixTime: ModelUnixTime{
			CreatedAt: time.Now().Add(-25 * time.Hour).UnixMilli(),
		},
	}
	require.NoError(t, db.SaveVerificationRequest(ctx, expired))

	require.NoError(t, updater.checkVerifications(ctx))

	// an expired request is discarded without a profile check
	assert.Empty(t, profile.putCalls)

	remaining, err := db.VerificationRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	dms := session.sentTo("dm-alice")
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0], "expired")
}
