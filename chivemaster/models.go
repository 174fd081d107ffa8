package chivemaster

import (
	"log/slog"
	"time"
)

// ModelUnixTime is an embeddable model with Unix timestamps (milliseconds)
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// VerificationRequest is a pending proof-of-ownership check for an external
// player account. At most one request exists per external player ID at a
// time. Requests are deleted on successful verification, or discarded by the
// updater once older than the configured expiry.
type VerificationRequest struct {
	// ExternalID is the player's account ID in the external profile service
	ExternalID int64 `gorm:"primaryKey" json:"external_id"`

	// UserID is the discord user claiming ownership
	UserID string `gorm:"index" json:"user_id"`

	// DisplayName is the discord username at registration time, used for
	// admin autocomplete
	DisplayName string `json:"display_name"`

	// OTP is the code the user must append to their in-game bio
	OTP string `json:"otp"`

	ModelUnixTime
}

// Age returns how long ago the request was created.
func (v VerificationRequest) Age() time.Duration {
	return time.Since(time.UnixMilli(v.CreatedAt))
}

func (v VerificationRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("external_id", v.ExternalID),
		slog.String("user_id", v.UserID),
		slog.String("display_name", v.DisplayName),
	)
}

// Connection links a verified external player account to a discord user.
// A single discord user may own multiple connections.
type Connection struct {
	ExternalID int64  `gorm:"primaryKey" json:"external_id"`
	UserID     string `gorm:"index" json:"user_id"`

	ModelUnixTime
}

func (c Connection) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("external_id", c.ExternalID),
		slog.String("user_id", c.UserID),
	)
}

// RoleThreshold maps a guild role to a minimum achievement count.
// Permanent thresholds are additive and never revoked; non-permanent
// thresholds form an exclusive tier ladder where only the single highest
// qualifying role should be held.
type RoleThreshold struct {
	RoleID    string `gorm:"primaryKey" json:"role_id"`
	MinScore  int64  `json:"min_score"`
	Permanent bool   `json:"permanent"`

	ModelUnixTime
}

func (r RoleThreshold) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("role_id", r.RoleID),
		slog.Int64("min_score", r.MinScore),
		slog.Bool("permanent", r.Permanent),
	)
}

// AnnouncementChannel is a channel that mirrors the leaderboard.
type AnnouncementChannel struct {
	ChannelID string `gorm:"primaryKey" json:"channel_id"`

	ModelUnixTime
}

// Candidate is a user queued for support-partner matching. A user can only
// be queued once; the row is removed when matched or withdrawn.
type Candidate struct {
	UserID string `gorm:"primaryKey" json:"user_id"`

	ModelUnixTime
}

// EnqueuedAt returns the time the candidate joined the queue.
func (c Candidate) EnqueuedAt() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// Match is an active support-partner pairing, keyed by the private channel
// provisioned for the pair.
type Match struct {
	ChannelID string `gorm:"primaryKey" json:"channel_id"`
	UserA     string `gorm:"index" json:"user_a"`
	UserB     string `gorm:"index" json:"user_b"`

	ModelUnixTime
}

func (m Match) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", m.ChannelID),
		slog.String("user_a", m.UserA),
		slog.String("user_b", m.UserB),
	)
}
