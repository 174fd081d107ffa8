//nolint:lll // struct tags can't be split
package chivemaster

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix = "CHIVEMASTER_ENV_PREFIX"
	DefaultEnvPrefix   = "CM"

	DefaultDatabase        = "chivemaster.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultProfileLogLevel       = slog.LevelInfo
	DefaultUpdaterLogLevel       = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultProfileBaseURL              = "http://localhost:8000"
	DefaultProfileMaxRequestsPerSecond = 2
	DefaultProfileCacheSize            = 512
	DefaultProfileCacheTTL             = 2 * time.Minute

	DefaultUpdateInterval        = 5 * time.Minute
	DefaultVerificationExpiry    = 24 * time.Hour
	DefaultVerificationDelay     = 5 * time.Second
	DefaultRoleSweepDelay        = 5 * time.Second
	DefaultRoleMutationAttempts  = 5
	DefaultRoleMutationBackoff   = 5 * time.Second
	DefaultRegionDivisor         = 100_000_000
	DefaultMatchCategoryName     = "💕 [matches] 💕"
	DefaultDisbandDeleteDelay    = 5 * time.Second
	DefaultLeaderboardSize       = 100
	DefaultLeaderboardBlockSize  = 50
	DefaultLeaderboardEmoji      = "🏆"
	DefaultLeaderboardEmbedColor = 0xFFD700

	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordGatewayIntent  = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages

	DefaultAPIListen         = "127.0.0.1:5000"
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	discordMaxMessageLength = 2000
	otpLength               = 6
)

// Config is the top-level bot configuration, loaded by `cmd` via viper.
type Config struct {
	// Database is the path to the sqlite database file
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Profile configures the external profile service client
	Profile *ProfileConfig `yaml:"profile" mapstructure:"profile" json:"profile"`

	// Updater configures the reconciliation loops
	Updater *UpdaterConfig `yaml:"updater" mapstructure:"updater" json:"updater"`

	// API configures the read-only status server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the single guild this bot manages. Slash commands are
	// registered against it, and all role/channel mutations target it.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// OperatorChannelID receives all cycle/error logs as plain text messages
	OperatorChannelID string `yaml:"operator_channel_id" mapstructure:"operator_channel_id" json:"operator_channel_id" binding:"required"`

	// OperatorMention is appended to error reports for urgent attention
	// (e.g. "<@246684413075652612>"). Optional.
	OperatorMention string `yaml:"operator_mention" mapstructure:"operator_mention" json:"operator_mention"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage is sent to the operator channel whenever the bot
	// connects to the discord gateway
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// ProfileConfig configures the external profile service client.
type ProfileConfig struct {
	// BaseURL of the profile service (e.g. "http://localhost:8000")
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// MaxRequestsPerSecond throttles outbound profile API calls
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`

	// CacheSize bounds the in-memory score cache (entries, oldest evicted first)
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" json:"cache_size" binding:"min=0"`

	// CacheTTL is the maximum age of a cached score before it's re-fetched
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`

	// Profile client log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// UpdaterConfig configures the reconciliation loops.
//
//nolint:lll // can't break tags
type UpdaterConfig struct {
	// UpdateInterval is the fixed interval between verification/leaderboard/
	// matchmaking cycles
	UpdateInterval time.Duration `yaml:"update_interval" mapstructure:"update_interval" json:"update_interval" binding:"min=1s"`

	// VerificationExpiry is the age after which a pending verification
	// request is discarded
	VerificationExpiry time.Duration `yaml:"verification_expiry" mapstructure:"verification_expiry" json:"verification_expiry" binding:"min=1m"`

	// VerificationDelay is the pause between successive verification checks,
	// protecting the profile service and discord from request bursts
	VerificationDelay time.Duration `yaml:"verification_delay" mapstructure:"verification_delay" json:"verification_delay"`

	// RoleSweepDelay is the pause between users during a full role sweep
	RoleSweepDelay time.Duration `yaml:"role_sweep_delay" mapstructure:"role_sweep_delay" json:"role_sweep_delay"`

	// RoleMutationAttempts bounds retries of a failed role add/remove
	RoleMutationAttempts int `yaml:"role_mutation_attempts" mapstructure:"role_mutation_attempts" json:"role_mutation_attempts" binding:"min=1"`

	// RoleMutationBackoff is the fixed delay between role mutation retries
	RoleMutationBackoff time.Duration `yaml:"role_mutation_backoff" mapstructure:"role_mutation_backoff" json:"role_mutation_backoff"`

	// RegionDivisor derives a region key from an external player ID
	// (externalID / RegionDivisor). The default matches the origin game's
	// ID scheme, where the leading digit(s) encode the server region.
	RegionDivisor int64 `yaml:"region_divisor" mapstructure:"region_divisor" json:"region_divisor" binding:"gt=0"`

	// MatchCategoryName is the category under which match channels are created
	MatchCategoryName string `yaml:"match_category_name" mapstructure:"match_category_name" json:"match_category_name" binding:"required"`

	// DisbandDeleteDelay is the grace period before a disbanded match
	// channel is deleted
	DisbandDeleteDelay time.Duration `yaml:"disband_delete_delay" mapstructure:"disband_delete_delay" json:"disband_delete_delay"`

	// LeaderboardEmoji is rendered between score and name on each line
	LeaderboardEmoji string `yaml:"leaderboard_emoji" mapstructure:"leaderboard_emoji" json:"leaderboard_emoji"`

	// Updater log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the read-only status server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the status server is started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// AllowOrigins configures CORS for the status endpoints
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"required_if=Enabled true,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"required_if=Enabled true,min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	profileLogLevel := &slog.LevelVar{}
	updaterLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	profileLogLevel.Set(DefaultProfileLogLevel)
	updaterLogLevel.Set(DefaultUpdaterLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Profile: &ProfileConfig{
			BaseURL:              DefaultProfileBaseURL,
			MaxRequestsPerSecond: DefaultProfileMaxRequestsPerSecond,
			CacheSize:            DefaultProfileCacheSize,
			CacheTTL:             DefaultProfileCacheTTL,
			LogLevel:             profileLogLevel,
		},
		Updater: &UpdaterConfig{
			UpdateInterval:       DefaultUpdateInterval,
			VerificationExpiry:   DefaultVerificationExpiry,
			VerificationDelay:    DefaultVerificationDelay,
			RoleSweepDelay:       DefaultRoleSweepDelay,
			RoleMutationAttempts: DefaultRoleMutationAttempts,
			RoleMutationBackoff:  DefaultRoleMutationBackoff,
			RegionDivisor:        DefaultRegionDivisor,
			MatchCategoryName:    DefaultMatchCategoryName,
			DisbandDeleteDelay:   DefaultDisbandDeleteDelay,
			LeaderboardEmoji:     DefaultLeaderboardEmoji,
			LogLevel:             updaterLogLevel,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
