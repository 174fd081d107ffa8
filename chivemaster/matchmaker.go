package chivemaster

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// regionsFor returns the set of game regions the user's verified accounts
// belong to. The region is encoded in the leading digit(s) of the external
// player ID.
func (u *Updater) regionsFor(ctx context.Context, userID string) (
	map[int64]bool,
	error,
) {
	connections, err := u.db.ConnectionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	regions := make(map[int64]bool, len(connections))
	for _, c := range connections {
		regions[c.ExternalID/u.config.RegionDivisor] = true
	}
	return regions, nil
}

func regionsOverlap(a, b map[int64]bool) bool {
	for region := range a {
		if b[region] {
			return true
		}
	}
	return false
}

// matchCandidates pairs queued users greedily, oldest first. Two users can
// be paired only when they share a game region. Each successful pairing
// provisions a private channel and removes both users from the queue.
func (u *Updater) matchCandidates(ctx context.Context) error {
	candidates, err := u.db.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("error loading candidates: %w", err)
	}
	if len(candidates) < 2 {
		return nil
	}

	regions := make([]map[int64]bool, len(candidates))
	for i, candidate := range candidates {
		r, regionErr := u.regionsFor(ctx, candidate.UserID)
		if regionErr != nil {
			u.logger.Warn(
				"unable to resolve candidate regions",
				tint.Err(regionErr),
				"user_id", candidate.UserID,
			)
		}
		regions[i] = r
	}

	paired := make([]bool, len(candidates))
	for i := range candidates {
		if paired[i] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if paired[j] || !regionsOverlap(regions[i], regions[j]) {
				continue
			}
			if err = u.createMatch(
				ctx,
				candidates[i].UserID,
				candidates[j].UserID,
			); err != nil {
				u.logger.Error(
					"unable to create match",
					tint.Err(err),
					"user_a", candidates[i].UserID,
					"user_b", candidates[j].UserID,
				)
				continue
			}
			paired[i] = true
			paired[j] = true
			break
		}
	}
	return nil
}

// matchCategory finds the category channel matches are provisioned under,
// creating it if it doesn't exist yet.
func (u *Updater) matchCategory(_ context.Context) (*discordgo.Channel, error) {
	channels, err := u.discord.session.GuildChannels(u.guildID)
	if err != nil {
		return nil, fmt.Errorf("error listing guild channels: %w", err)
	}
	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildCategory &&
			channel.Name == u.config.MatchCategoryName {
			return channel, nil
		}
	}
	return u.discord.session.GuildChannelCreateComplex(
		u.guildID,
		discordgo.GuildChannelCreateData{
			Name: u.config.MatchCategoryName,
			Type: discordgo.ChannelTypeGuildCategory,
		},
	)
}

// memberDisplayName prefers the member's guild nickname over their account
// username.
func memberDisplayName(member *discordgo.Member) string {
	if member.Nick != "" {
		return member.Nick
	}
	if member.User != nil {
		return member.User.Username
	}
	return ""
}

// createMatch provisions a private channel for two users, visible only to
// them, records the match, and removes both from the candidate queue.
func (u *Updater) createMatch(ctx context.Context, userA, userB string) error {
	memberA, err := u.discord.session.GuildMember(u.guildID, userA)
	if err != nil {
		return fmt.Errorf("error fetching member %s: %w", userA, err)
	}
	memberB, err := u.discord.session.GuildMember(u.guildID, userB)
	if err != nil {
		return fmt.Errorf("error fetching member %s: %w", userB, err)
	}

	category, err := u.matchCategory(ctx)
	if err != nil {
		return fmt.Errorf("error resolving match category: %w", err)
	}

	// the @everyone role shares the guild's ID
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   u.guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    userA,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel,
		},
		{
			ID:    userB,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel,
		},
	}

	channel, err := u.discord.session.GuildChannelCreateComplex(
		u.guildID,
		discordgo.GuildChannelCreateData{
			Name: fmt.Sprintf(
				"%s x %s",
				memberDisplayName(memberA),
				memberDisplayName(memberB),
			),
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             category.ID,
			PermissionOverwrites: overwrites,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating match channel: %w", err)
	}

	match := Match{ChannelID: channel.ID, UserA: userA, UserB: userB}
	if err = u.db.SaveMatch(ctx, &match); err != nil {
		return fmt.Errorf("error saving match: %w", err)
	}
	if err = u.db.DeleteCandidate(ctx, userA); err != nil {
		return fmt.Errorf("error removing candidate %s: %w", userA, err)
	}
	if err = u.db.DeleteCandidate(ctx, userB); err != nil {
		return fmt.Errorf("error removing candidate %s: %w", userB, err)
	}
	u.logger.Info("created match", "match", match)

	if sendErr := u.discord.channelMessageSend(
		channel.ID,
		fmt.Sprintf(
			"<@%s> <@%s> You've been matched! This channel is just for "+
				"the two of you. Use `/disband` here when you're done.",
			userA,
			userB,
		),
	); sendErr != nil {
		u.logger.Warn(
			"unable to send match greeting",
			tint.Err(sendErr),
			"match", match,
		)
	}
	return nil
}

// disbandMatch tears down a match: the row is removed, both users are
// notified over DM, and the channel is deleted after a short grace period
// so any goodbye message is visible.
func (u *Updater) disbandMatch(ctx context.Context, match *Match) error {
	if err := u.db.DeleteMatch(ctx, match.ChannelID); err != nil {
		return fmt.Errorf("error deleting match: %w", err)
	}
	u.logger.Info("disbanding match", "match", match)

	for _, userID := range []string{match.UserA, match.UserB} {
		if err := u.discord.directMessage(
			userID,
			"Your support match has been disbanded. "+
				"Use `/match` to find a new partner.",
		); err != nil {
			u.logger.Debug(
				"unable to DM disband notice",
				tint.Err(err),
				"user_id", userID,
			)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(u.config.DisbandDeleteDelay):
	}
	if _, err := u.discord.session.ChannelDelete(match.ChannelID); err != nil {
		return fmt.Errorf("error deleting match channel: %w", err)
	}
	return nil
}
