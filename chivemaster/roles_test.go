package chivemaster

import (
	"context"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareRoleIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, compareRoleIDs("999", "1000"))
	assert.Equal(t, 1, compareRoleIDs("1000", "999"))
	assert.Equal(t, -1, compareRoleIDs("1000", "1001"))
	assert.Equal(t, 0, compareRoleIDs("1000", "1000"))
}

func TestResolveRoles(t *testing.T) {
	t.Parallel()

	thresholds := []RoleThreshold{
		{RoleID: "10", MinScore: 100, Permanent: true},
		{RoleID: "11", MinScore: 500, Permanent: true},
		{RoleID: "20", MinScore: 100},
		{RoleID: "21", MinScore: 200},
		{RoleID: "22", MinScore: 300},
	}

	tests := []struct {
		name    string
		score   int64
		current []string
		want    RoleDelta
	}{
		{
			name:    "no qualifying roles",
			score:   50,
			current: nil,
			want:    RoleDelta{},
		},
		{
			name:    "first tier and first permanent",
			score:   150,
			current: nil,
			want:    RoleDelta{Add: []string{"10", "20"}},
		},
		{
			name:    "tier upgrade removes previous tier",
			score:   250,
			current: []string{"10", "20"},
			want:    RoleDelta{Add: []string{"21"}, Remove: []string{"20"}},
		},
		{
			name:    "only highest tier held",
			score:   1000,
			current: nil,
			want:    RoleDelta{Add: []string{"10", "11", "22"}},
		},
		{
			name:    "permanents never revoked",
			score:   50,
			current: []string{"10", "11", "22"},
			want:    RoleDelta{Remove: []string{"22"}},
		},
		{
			name:    "unrelated roles untouched",
			score:   150,
			current: []string{"somerole", "10", "20"},
			want:    RoleDelta{},
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				got := resolveRoles(thresholds, tt.score, tt.current)
				assert.Equal(t, tt.want.Add, got.Add)
				assert.Equal(t, tt.want.Remove, got.Remove)
			},
		)
	}
}

func TestResolveRolesIdempotent(t *testing.T) {
	t.Parallel()

	thresholds := []RoleThreshold{
		{RoleID: "10", MinScore: 100, Permanent: true},
		{RoleID: "20", MinScore: 100},
		{RoleID: "21", MinScore: 200},
	}

	current := []string{"20"}
	delta := resolveRoles(thresholds, 250, current)
	assert.Equal(t, []string{"10", "21"}, delta.Add)
	assert.Equal(t, []string{"20"}, delta.Remove)

	// applying the delta and resolving again yields nothing
	after := []string{"10", "21"}
	assert.True(t, resolveRoles(thresholds, 250, after).Empty())
}

func TestResolveRolesTieBreak(t *testing.T) {
	t.Parallel()

	// equal MinScore: the higher role ID wins
	thresholds := []RoleThreshold{
		{RoleID: "999", MinScore: 100},
		{RoleID: "1000", MinScore: 100},
	}

	delta := resolveRoles(thresholds, 150, nil)
	assert.Equal(t, []string{"1000"}, delta.Add)
	assert.Empty(t, delta.Remove)

	// order of the input shouldn't matter
	delta = resolveRoles(
		[]RoleThreshold{thresholds[1], thresholds[0]},
		150,
		nil,
	)
	assert.Equal(t, []string{"1000"}, delta.Add)
}

func TestSweepRolesAppliesDelta(t *testing.T) {
	t.Parallel()

	updater, db, session, profile := newTestUpdater(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveRoleThreshold(ctx, &RoleThreshold{RoleID: "20", MinScore: 100}),
	)
	require.NoError(
		t,
		db.SaveRoleThreshold(ctx, &RoleThreshold{RoleID: "21", MinScore: 200}),
	)
	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 600000001, UserID: "alice"}),
	)
	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 700000002, UserID: "alice"}),
	)

	// role resolution uses the best score across connections
	profile.scores[600000001] = &ProfileScore{AchievementCount: 150, Name: "a1"}
	profile.scores[700000002] = &ProfileScore{AchievementCount: 250, Name: "a2"}

	session.members["alice"] = &discordgo.Member{
		User:  &discordgo.User{ID: "alice", Username: "alice"},
		Roles: []string{"20"},
	}

	require.NoError(t, updater.sweepRoles(ctx))

	assert.Equal(t, []string{"alice:21"}, session.roleAdds)
	assert.Equal(t, []string{"alice:20"}, session.roleRemoves)
}

func TestSweepRolesHealsDeletedRole(t *testing.T) {
	t.Parallel()

	updater, db, session, profile := newTestUpdater(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveRoleThreshold(ctx, &RoleThreshold{RoleID: "gone", MinScore: 0}),
	)
	require.NoError(
		t,
		db.SaveConnection(ctx, &Connection{ExternalID: 600000001, UserID: "alice"}),
	)
	profile.scores[600000001] = &ProfileScore{AchievementCount: 10, Name: "a"}
	session.members["alice"] = &discordgo.Member{
		User: &discordgo.User{ID: "alice", Username: "alice"},
	}
	session.roleAddErr["gone"] = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownRole},
	}

	require.NoError(t, updater.sweepRoles(ctx))

	// the unusable threshold should be gone
	thresholds, err := db.RoleThresholds(ctx)
	require.NoError(t, err)
	assert.Empty(t, thresholds)

	// and the operator warned
	alerts := session.sentTo("ops")
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "Removed role threshold")
	assert.Contains(t, alerts[0], "<@operator>")
}

func TestRefreshMemberRolesWithdrawsTierRoles(t *testing.T) {
	t.Parallel()

	updater, db, session, _ := newTestUpdater(t)
	ctx := context.Background()

	require.NoError(
		t,
		db.SaveRoleThreshold(
			ctx,
			&RoleThreshold{RoleID: "10", MinScore: 100, Permanent: true},
		),
	)
	require.NoError(
		t,
		db.SaveRoleThreshold(ctx, &RoleThreshold{RoleID: "20", MinScore: 100}),
	)

	// alice unlinked her last account but still holds both roles
	session.members["alice"] = &discordgo.Member{
		User:  &discordgo.User{ID: "alice", Username: "alice"},
		Roles: []string{"10", "20"},
	}

	require.NoError(t, updater.refreshMemberRoles(ctx, "alice"))

	// the tier role goes, the permanent one stays
	assert.Empty(t, session.roleAdds)
	assert.Equal(t, []string{"alice:20"}, session.roleRemoves)
}

func TestMutateMemberRoleRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	updater, _, session, _ := newTestUpdater(t)
	ctx := context.Background()

	// transient errors are retried up to the attempt limit
	session.roleAddErr["r1"] = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusInternalServerError},
	}
	err := updater.mutateMemberRole(ctx, "alice", "r1", true, map[string]bool{})
	assert.Error(t, err)

	// the threshold should not have been deleted for a transient failure
	alerts := session.sentTo("ops")
	assert.Empty(t, alerts)
}
