package chivemaster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// interactionTimeout bounds the work done for a single slash command.
// Discord interaction tokens stay valid far longer, but nothing here
// should take more than a minute.
const interactionTimeout = time.Minute

// genericErrorReply is shown when a command fails unexpectedly.
const genericErrorReply = "Something went wrong. Please try again later."

// handlerInteractionCreate dispatches gateway interactions to the
// appropriate command handler.
func (cm *ChiveMaster) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			cm.handleApplicationCommand(i)
		case discordgo.InteractionApplicationCommandAutocomplete:
			cm.handleAutocomplete(i)
		default:
			cm.logger.Debug(
				"ignoring interaction",
				"type", i.Type,
			)
		}
	}
}

// ackEphemeral sends a deferred, ephemeral acknowledgement so the handler
// has time to do real work before following up.
func (cm *ChiveMaster) ackEphemeral(i *discordgo.InteractionCreate) error {
	return cm.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

func (cm *ChiveMaster) followUp(i *discordgo.InteractionCreate, content string) {
	if _, err := cm.discord.session.FollowupMessageCreate(
		i.Interaction,
		true,
		&discordgo.WebhookParams{
			Content: truncate(content, discordMaxMessageLength),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	); err != nil {
		cm.logger.Error("unable to send followup", tint.Err(err))
	}
}

func (cm *ChiveMaster) handleApplicationCommand(i *discordgo.InteractionCreate) {
	user := getDiscordUser(i)
	if user == nil {
		cm.logger.Warn("interaction with no user")
		return
	}
	name := i.ApplicationCommandData().Name
	logger := cm.logger.With("command", name, "user_id", user.ID)

	if err := cm.ackEphemeral(i); err != nil {
		logger.Error("unable to ack interaction", tint.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	ctx = WithLogger(ctx, logger)

	options := discordInteractionOptions(i)

	var reply string
	var err error
	switch name {
	case DiscordSlashCommandRegister:
		reply, err = cm.commandRegister(ctx, user, options)
	case DiscordSlashCommandStatus:
		reply, err = cm.commandStatus(ctx, user)
	case DiscordSlashCommandUIDs:
		reply, err = cm.commandUIDs(ctx, user)
	case DiscordSlashCommandUnregister:
		reply, err = cm.commandUnregister(ctx, user, options)
	case DiscordSlashCommandUpdate:
		reply, err = cm.commandUpdate(ctx, user)
	case DiscordSlashCommandVerify:
		reply, err = cm.commandVerify(ctx, options)
	case DiscordSlashCommandMatch:
		reply, err = cm.commandMatch(ctx, user)
	case DiscordSlashCommandUnmatch:
		reply, err = cm.commandUnmatch(ctx, user)
	case DiscordSlashCommandDisband:
		reply, err = cm.commandDisband(ctx, i, user)
	case DiscordSlashCommandRole:
		reply, err = cm.commandRole(ctx, i)
	case DiscordSlashCommandChannel:
		reply, err = cm.commandChannel(ctx, i)
	default:
		logger.Warn("unknown command")
		reply = "Unknown command"
	}

	if err != nil {
		logger.Error("command failed", tint.Err(err))
		if reply == "" {
			reply = genericErrorReply
		}
	}
	cm.followUp(i, reply)
}

func (cm *ChiveMaster) commandRegister(
	ctx context.Context,
	user *discordgo.User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	uidOption, ok := options[commandOptionUID]
	if !ok {
		return "An account ID is required.", nil
	}
	externalID := uidOption.IntValue()

	connection, err := cm.db.ConnectionByID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if connection != nil {
		if connection.UserID == user.ID {
			return fmt.Sprintf("`%d` is already verified.", externalID), nil
		}
		return fmt.Sprintf(
			"`%d` is already linked to another user.",
			externalID,
		), nil
	}

	request, err := cm.db.VerificationRequestByID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if request != nil && request.UserID != user.ID {
		return fmt.Sprintf(
			"`%d` already has a pending verification by another user.",
			externalID,
		), nil
	}
	if request == nil {
		otp, otpErr := newOTP()
		if otpErr != nil {
			return "", otpErr
		}
		request = &VerificationRequest{
			ExternalID:  externalID,
			UserID:      user.ID,
			DisplayName: user.Username,
			OTP:         otp,
		}
		if err = cm.db.SaveVerificationRequest(ctx, request); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf(
		"Add `%s` to the **end** of your in-game bio, then wait for the "+
			"next check (runs every %s). The request expires after %s. "+
			"You'll get a DM once `%d` is verified.",
		request.OTP,
		cm.config.Updater.UpdateInterval,
		cm.config.Updater.VerificationExpiry,
		externalID,
	), nil
}

func (cm *ChiveMaster) commandStatus(
	ctx context.Context,
	user *discordgo.User,
) (string, error) {
	connections, err := cm.db.ConnectionsByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	requests, err := cm.db.VerificationRequestsByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(connections) == 0 && len(requests) == 0 {
		return "You have no verified accounts or pending requests. " +
			"Use `/register` to get started.", nil
	}

	var b strings.Builder
	if len(connections) > 0 {
		b.WriteString("**Verified accounts**\n")
		for _, c := range connections {
			score, scoreErr := cm.profile.Get(ctx, c.ExternalID)
			if scoreErr != nil {
				fmt.Fprintf(&b, "- `%d`\n", c.ExternalID)
				continue
			}
			fmt.Fprintf(
				&b,
				"- `%d` **%s**: %d achievements (rank %d)\n",
				c.ExternalID,
				score.Name,
				score.AchievementCount,
				score.GlobalRank,
			)
		}
	}
	if len(requests) > 0 {
		b.WriteString("**Pending requests**\n")
		for _, r := range requests {
			remaining := cm.config.Updater.VerificationExpiry - r.Age()
			if remaining < 0 {
				remaining = 0
			}
			fmt.Fprintf(
				&b,
				"- `%d` code `%s` (expires in %s)\n",
				r.ExternalID,
				r.OTP,
				remaining.Round(time.Minute),
			)
		}
	}
	return b.String(), nil
}

func (cm *ChiveMaster) commandUIDs(
	ctx context.Context,
	user *discordgo.User,
) (string, error) {
	connections, err := cm.db.ConnectionsByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(connections) == 0 {
		return "You have no verified accounts.", nil
	}
	ids := make([]string, 0, len(connections))
	for _, c := range connections {
		ids = append(ids, fmt.Sprintf("`%d`", c.ExternalID))
	}
	return "Your verified accounts: " + strings.Join(ids, ", "), nil
}

func (cm *ChiveMaster) commandUnregister(
	ctx context.Context,
	user *discordgo.User,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	uidOption, ok := options[commandOptionUID]
	if !ok {
		return "An account ID is required.", nil
	}
	externalID := uidOption.IntValue()

	connection, err := cm.db.ConnectionByID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if connection != nil {
		if connection.UserID != user.ID {
			return fmt.Sprintf("`%d` isn't linked to you.", externalID), nil
		}
		if err = cm.db.DeleteConnection(ctx, externalID); err != nil {
			return "", err
		}
		if roleErr := cm.updater.refreshMemberRoles(ctx, user.ID); roleErr != nil {
			cm.logger.Warn(
				"error refreshing roles after unregister",
				"user_id", user.ID,
				tint.Err(roleErr),
			)
		}
		return fmt.Sprintf("Unlinked `%d`.", externalID), nil
	}

	request, err := cm.db.VerificationRequestByID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if request != nil && request.UserID == user.ID {
		if err = cm.db.DeleteVerificationRequest(ctx, externalID); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Cancelled the pending verification for `%d`.",
			externalID,
		), nil
	}
	return fmt.Sprintf("`%d` isn't linked to you.", externalID), nil
}

func (cm *ChiveMaster) commandUpdate(
	ctx context.Context,
	user *discordgo.User,
) (string, error) {
	connections, err := cm.db.ConnectionsByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(connections) == 0 {
		return "You have no verified accounts to refresh.", nil
	}

	var b strings.Builder
	b.WriteString("**Refreshed scores**\n")
	for _, c := range connections {
		score, putErr := cm.profile.Put(ctx, c.ExternalID)
		if putErr != nil {
			fmt.Fprintf(&b, "- `%d`: refresh failed\n", c.ExternalID)
			continue
		}
		fmt.Fprintf(
			&b,
			"- `%d` **%s**: %d achievements (rank %d)\n",
			c.ExternalID,
			score.Name,
			score.AchievementCount,
			score.GlobalRank,
		)
	}
	return b.String(), nil
}

func (cm *ChiveMaster) commandVerify(
	ctx context.Context,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	uidOption, ok := options[commandOptionUID]
	if !ok {
		return "An account ID is required.", nil
	}
	externalID := uidOption.IntValue()

	request, err := cm.db.VerificationRequestByID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if request == nil {
		return fmt.Sprintf(
			"No pending verification request for `%d`.",
			externalID,
		), nil
	}

	connection := Connection{
		ExternalID: request.ExternalID,
		UserID:     request.UserID,
	}
	if err = cm.db.SaveConnection(ctx, &connection); err != nil {
		return "", err
	}
	if err = cm.db.DeleteVerificationRequest(ctx, externalID); err != nil {
		return "", err
	}
	cm.logger.Info("manually verified connection", "connection", connection)

	if roleErr := cm.updater.refreshMemberRoles(ctx, request.UserID); roleErr != nil {
		cm.logger.Warn(
			"unable to apply roles after manual verification",
			tint.Err(roleErr),
			"connection", connection,
		)
	}

	return fmt.Sprintf(
		"Verified `%d` for <@%s>.",
		externalID,
		request.UserID,
	), nil
}

func (cm *ChiveMaster) commandMatch(
	ctx context.Context,
	user *discordgo.User,
) (string, error) {
	connections, err := cm.db.ConnectionsByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(connections) == 0 {
		return "You need a verified account before joining the queue. " +
			"Use `/register` first.", nil
	}

	match, err := cm.db.MatchByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if match != nil {
		return fmt.Sprintf(
			"You already have an active match in <#%s>. "+
				"Use `/disband` there first.",
			match.ChannelID,
		), nil
	}

	candidate, err := cm.db.CandidateByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if candidate != nil {
		return "You're already in the queue. Hang tight!", nil
	}

	if err = cm.db.SaveCandidate(ctx, &Candidate{UserID: user.ID}); err != nil {
		return "", err
	}
	return "You're in the queue! You'll be matched with a partner from " +
		"your region as soon as one is available.", nil
}

func (cm *ChiveMaster) commandUnmatch(
	ctx context.Context,
	user *discordgo.User,
) (string, error) {
	candidate, err := cm.db.CandidateByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if candidate == nil {
		return "You're not in the queue.", nil
	}
	if err = cm.db.DeleteCandidate(ctx, user.ID); err != nil {
		return "", err
	}
	return "Removed you from the queue.", nil
}

func (cm *ChiveMaster) commandDisband(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) (string, error) {
	match, err := cm.db.MatchByChannel(ctx, i.ChannelID)
	if err != nil {
		return "", err
	}
	if match == nil {
		return "This isn't a match channel.", nil
	}

	participant := match.UserA == user.ID || match.UserB == user.ID
	manager := i.Member != nil &&
		i.Member.Permissions&discordgo.PermissionManageServer != 0
	if !participant && !manager {
		return "Only the matched users can disband this channel.", nil
	}

	// the channel delete is delayed, so run the teardown in the background
	// and reply immediately
	go func() {
		disbandCtx, cancel := context.WithTimeout(
			context.Background(),
			interactionTimeout,
		)
		defer cancel()
		if disbandErr := cm.updater.disbandMatch(
			disbandCtx,
			match,
		); disbandErr != nil {
			cm.logger.Error(
				"unable to disband match",
				tint.Err(disbandErr),
				"match", match,
			)
		}
	}()
	return "Disbanding this match. The channel will be deleted shortly.", nil
}

func (cm *ChiveMaster) commandRole(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "A subcommand is required.", nil
	}
	subcommand := data.Options[0]

	options := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(subcommand.Options),
	)
	for _, option := range subcommand.Options {
		options[option.Name] = option
	}

	roleOption, ok := options[commandOptionRole]
	if !ok {
		return "A role is required.", nil
	}
	role := roleOption.RoleValue(nil, "")

	switch subcommand.Name {
	case commandSubcommandSet:
		scoreOption, scoreOK := options[commandOptionScore]
		if !scoreOK {
			return "A minimum score is required.", nil
		}
		threshold := RoleThreshold{
			RoleID:   role.ID,
			MinScore: scoreOption.IntValue(),
		}
		if permanentOption, permOK := options[commandOptionPermanent]; permOK {
			threshold.Permanent = permanentOption.BoolValue()
		}
		if err := cm.db.SaveRoleThreshold(ctx, &threshold); err != nil {
			return "", err
		}
		cm.logger.Info("saved role threshold", "threshold", threshold)
		return fmt.Sprintf(
			"<@&%s> will be granted at %d achievements (permanent: %t).",
			threshold.RoleID,
			threshold.MinScore,
			threshold.Permanent,
		), nil
	case commandSubcommandDelete:
		if err := cm.db.DeleteRoleThreshold(ctx, role.ID); err != nil {
			return "", err
		}
		cm.logger.Info("deleted role threshold", "role_id", role.ID)
		return fmt.Sprintf("Deleted the threshold for <@&%s>.", role.ID), nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (cm *ChiveMaster) commandChannel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "A subcommand is required.", nil
	}

	switch data.Options[0].Name {
	case commandSubcommandEnable:
		channel := AnnouncementChannel{ChannelID: i.ChannelID}
		if err := cm.db.SaveAnnouncementChannel(ctx, &channel); err != nil {
			return "", err
		}
		cm.logger.Info("enabled leaderboard channel", "channel_id", i.ChannelID)
		return "The leaderboard will be published in this channel.", nil
	case commandSubcommandDisable:
		if err := cm.db.DeleteAnnouncementChannel(ctx, i.ChannelID); err != nil {
			return "", err
		}
		cm.logger.Info("disabled leaderboard channel", "channel_id", i.ChannelID)
		return "The leaderboard will no longer be published here.", nil
	default:
		return "Unknown subcommand.", nil
	}
}

// handleAutocomplete serves UID suggestions for the manual verification
// command, matched against pending requests by ID prefix or display name.
func (cm *ChiveMaster) handleAutocomplete(i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != DiscordSlashCommandVerify {
		return
	}

	var input string
	for _, option := range data.Options {
		if option.Focused {
			input = fmt.Sprint(option.Value)
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requests, err := cm.db.VerificationRequestsLike(ctx, input)
	if err != nil {
		cm.logger.Error("autocomplete query failed", tint.Err(err))
		return
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(requests))
	for _, request := range requests {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{
				Name: fmt.Sprintf(
					"%s (%d)",
					request.DisplayName,
					request.ExternalID,
				),
				Value: request.ExternalID,
			},
		)
	}

	if err = cm.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	); err != nil {
		cm.logger.Error("unable to send autocomplete choices", tint.Err(err))
	}
}
