// Package chivemaster implements a Discord bot for an achievement-hunting
// community, linking in-game accounts to Discord users and keeping guild
// state in sync with an external profile service.
//
// The bot verifies account ownership via one-time codes placed in a player's
// in-game bio, maintains a leaderboard mirrored into configured channels,
// assigns roles based on configurable achievement thresholds, and pairs
// members looking for a support partner into private match channels.
//
// Key components of the package include:
//
//   - ChiveMaster: The main struct that encapsulates the bot's core functionality.
//   - Discord: Handles Discord integration, slash commands and guild mutations.
//   - ProfileClient: Fetches achievement counts and bio signatures from the
//     external profile service.
//   - Updater: Runs the periodic reconciliation loops (verifications,
//     leaderboard, matchmaking, role sweep).
//   - Database: Handles data persistence and retrieval.
//   - API: A small read-only status server.
//
// The bot supports various commands:
//
//   - /register: Link an in-game account and receive a verification code.
//   - /status, /uids, /unregister, /update: Manage linked accounts.
//   - /match, /unmatch, /disband: Support-partner matching.
//   - /role, /channel, /verify: Admin configuration and manual verification.
//
// All reconciliation outcomes are reported to a fixed operator log channel,
// which is the bot's sole observability surface.
package chivemaster
