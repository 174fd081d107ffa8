package chivemaster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lmittmann/tint"
)

// RoleDelta is the set of role mutations needed to bring a member's guild
// roles in line with their achievement score. Applying the delta to the
// same member twice is a no-op the second time.
type RoleDelta struct {
	Add    []string
	Remove []string
}

// Empty reports whether the delta requires no mutations.
func (r RoleDelta) Empty() bool {
	return len(r.Add) == 0 && len(r.Remove) == 0
}

func (r RoleDelta) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("add", r.Add),
		slog.Any("remove", r.Remove),
	)
}

// compareRoleIDs orders Discord snowflake IDs numerically. Snowflakes are
// decimal strings without leading zeros, so a longer string is always the
// larger ID.
func compareRoleIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// resolveRoles computes the role mutations for a member with the given
// achievement score, relative to the roles they currently hold.
//
// Permanent thresholds are additive: every one the score meets is granted,
// and none are ever revoked. Non-permanent thresholds form an exclusive
// ladder: only the single threshold with the highest qualifying MinScore is
// held, and any other ladder role currently held is removed. When two
// ladder thresholds share a MinScore, the higher role ID wins.
func resolveRoles(
	thresholds []RoleThreshold,
	score int64,
	currentRoleIDs []string,
) RoleDelta {
	current := make(map[string]bool, len(currentRoleIDs))
	for _, id := range currentRoleIDs {
		current[id] = true
	}

	var delta RoleDelta
	var best *RoleThreshold
	var ladder []string

	for i := range thresholds {
		t := thresholds[i]
		if t.Permanent {
			if score >= t.MinScore && !current[t.RoleID] {
				delta.Add = append(delta.Add, t.RoleID)
			}
			continue
		}
		ladder = append(ladder, t.RoleID)
		if score < t.MinScore {
			continue
		}
		if best == nil ||
			t.MinScore > best.MinScore ||
			(t.MinScore == best.MinScore &&
				compareRoleIDs(t.RoleID, best.RoleID) > 0) {
			best = &thresholds[i]
		}
	}

	var target string
	if best != nil {
		target = best.RoleID
		if !current[target] {
			delta.Add = append(delta.Add, target)
		}
	}
	for _, id := range ladder {
		if id != target && current[id] {
			delta.Remove = append(delta.Remove, id)
		}
	}

	sort.Strings(delta.Add)
	sort.Strings(delta.Remove)
	return delta
}

// sweepRoles runs one full pass over every user with at least one verified
// connection, reconciling their guild roles against the configured
// thresholds. Errors for individual users are logged and skipped so one
// departed member doesn't stall the sweep.
func (u *Updater) sweepRoles(ctx context.Context) error {
	thresholds, err := u.db.RoleThresholds(ctx)
	if err != nil {
		return fmt.Errorf("error loading role thresholds: %w", err)
	}
	if len(thresholds) == 0 {
		return nil
	}

	userIDs, err := u.db.ConnectedUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("error loading connected users: %w", err)
	}

	warned := map[string]bool{}
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err = u.updateMemberRoles(ctx, userID, thresholds, warned); err != nil {
			u.logger.Warn(
				"unable to update member roles",
				tint.Err(err),
				"user_id", userID,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.config.RoleSweepDelay):
		}
	}
	return nil
}

// bestScore returns the highest achievement count across all of the user's
// verified connections, or zero for a user with none left.
func (u *Updater) bestScore(ctx context.Context, userID string) (int64, error) {
	connections, err := u.db.ConnectionsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(connections) == 0 {
		return 0, nil
	}
	var best int64 = -1
	for _, c := range connections {
		score, err := u.profile.Get(ctx, c.ExternalID)
		if err != nil {
			return 0, fmt.Errorf(
				"error fetching score for %d: %w",
				c.ExternalID,
				err,
			)
		}
		if score.AchievementCount > best {
			best = score.AchievementCount
		}
	}
	return best, nil
}

// updateMemberRoles reconciles a single member's roles against the given
// thresholds.
func (u *Updater) updateMemberRoles(
	ctx context.Context,
	userID string,
	thresholds []RoleThreshold,
	warned map[string]bool,
) error {
	score, err := u.bestScore(ctx, userID)
	if err != nil {
		return err
	}

	member, err := u.discord.session.GuildMember(u.guildID, userID)
	if err != nil {
		return fmt.Errorf("error fetching guild member %s: %w", userID, err)
	}

	delta := resolveRoles(thresholds, score, member.Roles)
	if delta.Empty() {
		return nil
	}
	u.logger.Info(
		"updating member roles",
		"user_id", userID,
		"score", score,
		"delta", delta,
	)

	for _, roleID := range delta.Add {
		if err = u.mutateMemberRole(ctx, userID, roleID, true, warned); err != nil {
			return err
		}
	}
	for _, roleID := range delta.Remove {
		if err = u.mutateMemberRole(ctx, userID, roleID, false, warned); err != nil {
			return err
		}
	}
	return nil
}

// refreshMemberRoles reconciles a single member outside the regular sweep,
// after a connection has been added or removed. A member with no remaining
// connections scores zero, which withdraws any tier roles they held.
func (u *Updater) refreshMemberRoles(ctx context.Context, userID string) error {
	thresholds, err := u.db.RoleThresholds(ctx)
	if err != nil {
		return err
	}
	if len(thresholds) == 0 {
		return nil
	}
	return u.updateMemberRoles(ctx, userID, thresholds, map[string]bool{})
}

// mutateMemberRole adds or removes a single role, retrying transient
// failures. Permanent failures (deleted role, revoked permissions) remove
// the offending threshold so the sweep stops tripping over it, with a
// single operator warning per sweep.
func (u *Updater) mutateMemberRole(
	ctx context.Context,
	userID string,
	roleID string,
	add bool,
	warned map[string]bool,
) error {
	var err error
	for attempt := 0; attempt < u.config.RoleMutationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.config.RoleMutationBackoff):
			}
		}

		if add {
			err = u.discord.session.GuildMemberRoleAdd(u.guildID, userID, roleID)
		} else {
			err = u.discord.session.GuildMemberRoleRemove(u.guildID, userID, roleID)
		}
		if err == nil {
			return nil
		}
		if isDiscordPermanentError(err) {
			u.healThreshold(ctx, roleID, err, warned)
			return err
		}
		u.logger.Warn(
			"role mutation failed",
			tint.Err(err),
			"user_id", userID,
			"role_id", roleID,
			"add", add,
			"attempt", attempt+1,
		)
	}
	return err
}

// healThreshold removes a threshold whose role can no longer be mutated.
func (u *Updater) healThreshold(
	ctx context.Context,
	roleID string,
	cause error,
	warned map[string]bool,
) {
	if !warned[roleID] {
		warned[roleID] = true
		u.logger.Warn(
			"removing unusable role threshold",
			tint.Err(cause),
			"role_id", roleID,
		)
		u.discord.alertOperator(
			fmt.Sprintf(
				"Removed role threshold for <@&%s>: %s",
				roleID,
				cause,
			),
		)
	}
	if err := u.db.DeleteRoleThreshold(ctx, roleID); err != nil {
		u.logger.Error(
			"unable to delete role threshold",
			tint.Err(err),
			"role_id", roleID,
		)
	}
}
