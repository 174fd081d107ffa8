package chivemaster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// leaderboardEntry is one rendered row of the leaderboard.
type leaderboardEntry struct {
	Rank             int64
	AchievementCount int64
	Name             string
}

// leaderboardEntries collects the scores of every verified connection and
// returns the top entries ordered by global rank.
func (u *Updater) leaderboardEntries(ctx context.Context) (
	[]leaderboardEntry,
	error,
) {
	externalIDs, err := u.db.ExternalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading external IDs: %w", err)
	}

	entries := make([]leaderboardEntry, 0, len(externalIDs))
	for _, externalID := range externalIDs {
		score, err := u.profile.Get(ctx, externalID)
		if err != nil {
			u.logger.Warn(
				"skipping leaderboard entry",
				tint.Err(err),
				"external_id", externalID,
			)
			continue
		}
		entries = append(
			entries,
			leaderboardEntry{
				Rank:             score.GlobalRank,
				AchievementCount: score.AchievementCount,
				Name:             score.Name,
			},
		)
	}

	sort.Slice(
		entries, func(i, j int) bool {
			return entries[i].Rank < entries[j].Rank
		},
	)
	if len(entries) > DefaultLeaderboardSize {
		entries = entries[:DefaultLeaderboardSize]
	}
	return entries, nil
}

// renderLeaderboard formats entries into embed description blocks of
// DefaultLeaderboardBlockSize rows each.
func renderLeaderboard(entries []leaderboardEntry, emoji string) []string {
	var blocks []string
	for start := 0; start < len(entries); start += DefaultLeaderboardBlockSize {
		end := start + DefaultLeaderboardBlockSize
		if end > len(entries) {
			end = len(entries)
		}
		var b strings.Builder
		for i, entry := range entries[start:end] {
			// place on the board, not the service's global rank
			fmt.Fprintf(
				&b,
				"**%d** - %d %s - %s\n",
				start+i+1,
				entry.AchievementCount,
				emoji,
				entry.Name,
			)
		}
		blocks = append(blocks, b.String())
	}
	return blocks
}

// leaderboardEmbeds converts rendered blocks into Discord embeds. The final
// embed carries a footer noting the refresh cadence.
func (u *Updater) leaderboardEmbeds(blocks []string) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(blocks))
	for i, block := range blocks {
		embed := &discordgo.MessageEmbed{
			Description: block,
			Color:       DefaultLeaderboardEmbedColor,
		}
		if i == 0 {
			embed.Title = "Leaderboard"
		}
		if i == len(blocks)-1 {
			embed.Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf(
					"Refreshes every %s",
					u.config.UpdateInterval,
				),
			}
		}
		embeds = append(embeds, embed)
	}
	return embeds
}

// updateLeaderboard republishes the leaderboard to every registered
// announcement channel. Channels that can no longer be posted to are
// deregistered and the operator alerted.
func (u *Updater) updateLeaderboard(ctx context.Context) error {
	channels, err := u.db.AnnouncementChannels(ctx)
	if err != nil {
		return fmt.Errorf("error loading announcement channels: %w", err)
	}
	if len(channels) == 0 {
		return nil
	}

	entries, err := u.leaderboardEntries(ctx)
	if err != nil {
		return err
	}
	embeds := u.leaderboardEmbeds(
		renderLeaderboard(entries, u.config.LeaderboardEmoji),
	)

	for _, channel := range channels {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err = u.publishLeaderboard(ctx, channel.ChannelID, embeds); err != nil {
			u.logger.Error(
				"deregistering announcement channel",
				tint.Err(err),
				"channel_id", channel.ChannelID,
			)
			if delErr := u.db.DeleteAnnouncementChannel(
				ctx,
				channel.ChannelID,
			); delErr != nil {
				u.logger.Error(
					"unable to deregister channel",
					tint.Err(delErr),
					"channel_id", channel.ChannelID,
				)
			}
			u.discord.alertOperator(
				fmt.Sprintf(
					"Deregistered leaderboard channel <#%s>: %s",
					channel.ChannelID,
					err,
				),
			)
		}
	}
	return nil
}

// publishLeaderboard replaces the previous leaderboard messages in a single
// channel. The old messages are deleted best-effort before the new embeds
// are posted.
func (u *Updater) publishLeaderboard(
	_ context.Context,
	channelID string,
	embeds []*discordgo.MessageEmbed,
) error {
	previous, err := u.discord.session.ChannelMessages(
		channelID,
		len(embeds),
		"",
		"",
		"",
	)
	if err != nil {
		u.logger.Warn(
			"unable to list previous leaderboard messages",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	for _, msg := range previous {
		if delErr := u.discord.session.ChannelMessageDelete(
			channelID,
			msg.ID,
		); delErr != nil {
			u.logger.Warn(
				"unable to delete previous leaderboard message",
				tint.Err(delErr),
				"channel_id", channelID,
				"message_id", msg.ID,
			)
		}
	}

	for _, embed := range embeds {
		if _, err = u.discord.session.ChannelMessageSendEmbed(
			channelID,
			embed,
		); err != nil {
			return fmt.Errorf("error sending leaderboard embed: %w", err)
		}
	}
	return nil
}
