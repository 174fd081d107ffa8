package chivemaster

import (
	"github.com/bwmarrin/discordgo"
)

const (
	// DiscordSlashCommandRegister starts account verification
	DiscordSlashCommandRegister = "register"

	// DiscordSlashCommandStatus shows the user's connections and
	// pending requests
	DiscordSlashCommandStatus = "status"

	// DiscordSlashCommandUIDs lists the user's verified account IDs
	DiscordSlashCommandUIDs = "uids"

	// DiscordSlashCommandUnregister removes one of the user's connections
	DiscordSlashCommandUnregister = "unregister"

	// DiscordSlashCommandUpdate forces a profile refresh for the user's
	// connections
	DiscordSlashCommandUpdate = "update"

	// DiscordSlashCommandVerify manually verifies a pending request (admin)
	DiscordSlashCommandVerify = "verify"

	// DiscordSlashCommandMatch joins the support-partner queue
	DiscordSlashCommandMatch = "match"

	// DiscordSlashCommandUnmatch leaves the support-partner queue
	DiscordSlashCommandUnmatch = "unmatch"

	// DiscordSlashCommandDisband dissolves the match owning the current
	// channel
	DiscordSlashCommandDisband = "disband"

	// DiscordSlashCommandRole manages role thresholds (admin)
	DiscordSlashCommandRole = "role"

	// DiscordSlashCommandChannel manages leaderboard channels (admin)
	DiscordSlashCommandChannel = "channel"

	// commandOptionUID is the external player ID option name
	commandOptionUID = "uid"

	// commandOptionRole is the target role option name
	commandOptionRole = "role"

	// commandOptionScore is the minimum achievement count option name
	commandOptionScore = "score"

	// commandOptionPermanent marks a threshold as non-revocable
	commandOptionPermanent = "permanent"

	// commandSubcommandSet and friends name the admin subcommands
	commandSubcommandSet     = "set"
	commandSubcommandDelete  = "delete"
	commandSubcommandEnable  = "enable"
	commandSubcommandDisable = "disable"
)

// applicationCommands returns the full set of slash commands the bot
// registers on startup. Admin commands carry a default member permission
// so only server managers see them.
func applicationCommands() []*discordgo.ApplicationCommand {
	minUID := float64(1)
	adminPermission := int64(discordgo.PermissionManageServer)

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandRegister,
			Description: "Link a game account to your Discord user",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionUID,
					Description: "Your in-game account ID",
					Required:    true,
					MinValue:    &minUID,
				},
			},
		},
		{
			Name:        DiscordSlashCommandStatus,
			Description: "Show your verified accounts and pending requests",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:        DiscordSlashCommandUIDs,
			Description: "List your verified account IDs",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:        DiscordSlashCommandUnregister,
			Description: "Unlink one of your game accounts",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        commandOptionUID,
					Description: "The account ID to unlink",
					Required:    true,
					MinValue:    &minUID,
				},
			},
		},
		{
			Name:        DiscordSlashCommandUpdate,
			Description: "Refresh the scores of your verified accounts",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:                     DiscordSlashCommandVerify,
			Description:              "Manually verify a pending request",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionInteger,
					Name:         commandOptionUID,
					Description:  "The pending account ID",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        DiscordSlashCommandMatch,
			Description: "Join the support-partner queue",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:        DiscordSlashCommandUnmatch,
			Description: "Leave the support-partner queue",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:        DiscordSlashCommandDisband,
			Description: "Dissolve the match this channel belongs to",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:                     DiscordSlashCommandRole,
			Description:              "Manage achievement role thresholds",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        commandSubcommandSet,
					Description: "Create or update a role threshold",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        commandOptionRole,
							Description: "The role to grant",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        commandOptionScore,
							Description: "Minimum achievement count",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        commandOptionPermanent,
							Description: "Never revoke once granted",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        commandSubcommandDelete,
					Description: "Delete a role threshold",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        commandOptionRole,
							Description: "The role whose threshold to delete",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     DiscordSlashCommandChannel,
			Description:              "Manage leaderboard channels",
			Type:                     discordgo.ChatApplicationCommand,
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        commandSubcommandEnable,
					Description: "Publish the leaderboard in this channel",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        commandSubcommandDisable,
					Description: "Stop publishing the leaderboard here",
				},
			},
		},
	}
}
