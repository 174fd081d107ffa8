package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/juliuskreutz/chive-master/chivemaster"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

CM_DATABASE=/home/foo/chivemaster.sqlite3
CM_DATABASE_LOG_LEVEL=INFO
CM_DATABASE_SLOW_THRESHOLD=200ms
CM_LOG_LEVEL=INFO
CM_STARTUP_TIMEOUT=30s
CM_SHUTDOWN_TIMEOUT=60s

# Discord bot config

CM_DISCORD_TOKEN=your-discord-bot-token
CM_DISCORD_APPLICATION_ID=your-discord-bot-app-id
CM_DISCORD_GUILD_ID=1234
CM_DISCORD_OPERATOR_CHANNEL_ID=5678
CM_DISCORD_OPERATOR_MENTION=<@9999>
CM_DISCORD_LOG_LEVEL=WARN
CM_DISCORD_DISCORDGO_LOG_LEVEL=WARN
CM_DISCORD_STARTUP_MESSAGE="I'm here!"
CM_DISCORD_GATEWAY_INTENTS=3243773

# Profile service

CM_PROFILE_BASE_URL=http://profiles.example.com
CM_PROFILE_MAX_REQUESTS_PER_SECOND=4
CM_PROFILE_CACHE_SIZE=256
CM_PROFILE_CACHE_TTL=90s
CM_PROFILE_LOG_LEVEL=DEBUG

# Updater

CM_UPDATER_UPDATE_INTERVAL=10m
CM_UPDATER_VERIFICATION_EXPIRY=48h
CM_UPDATER_VERIFICATION_DELAY=2s
CM_UPDATER_ROLE_SWEEP_DELAY=3s
CM_UPDATER_ROLE_MUTATION_ATTEMPTS=3
CM_UPDATER_ROLE_MUTATION_BACKOFF=1s
CM_UPDATER_REGION_DIVISOR=100000000
CM_UPDATER_LEADERBOARD_EMOJI=🏆
CM_UPDATER_LOG_LEVEL=INFO

# API server

CM_API_ENABLED=true
CM_API_LISTEN=127.0.0.1:5000
CM_API_LOG_LEVEL=DEBUG
CM_API_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
CM_API_READ_TIMEOUT=5s
CM_API_READ_HEADER_TIMEOUT=5s
CM_API_WRITE_TIMEOUT=10s
CM_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/chivemaster.sqlite3", cfg.Database)
	assert.Equal(
		t,
		"/home/foo/chivemaster.sqlite3",
		viper.GetString("database"),
	)

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))
	assert.Equal(
		t,
		200*time.Millisecond,
		viper.GetDuration("database_slow_threshold"),
	)
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(
		t,
		"your-discord-bot-app-id",
		viper.GetString("discord.application_id"),
	)
	assert.Equal(t, "1234", viper.GetString("discord.guild_id"))
	assert.Equal(t, "5678", viper.GetString("discord.operator_channel_id"))
	assert.Equal(t, "<@9999>", viper.GetString("discord.operator_mention"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(
		t,
		"http://profiles.example.com",
		viper.GetString("profile.base_url"),
	)
	assert.Equal(
		t,
		float64(4),
		viper.GetFloat64("profile.max_requests_per_second"),
	)
	assert.Equal(t, 256, viper.GetInt("profile.cache_size"))
	assert.Equal(t, 90*time.Second, viper.GetDuration("profile.cache_ttl"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("profile.log_level"))
	assert.Equal(t, "http://profiles.example.com", cfg.Profile.BaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.Profile.LogLevel.Level())

	assert.Equal(t, 10*time.Minute, viper.GetDuration("updater.update_interval"))
	assert.Equal(
		t,
		48*time.Hour,
		viper.GetDuration("updater.verification_expiry"),
	)
	assert.Equal(
		t,
		2*time.Second,
		viper.GetDuration("updater.verification_delay"),
	)
	assert.Equal(t, 3*time.Second, viper.GetDuration("updater.role_sweep_delay"))
	assert.Equal(t, 3, viper.GetInt("updater.role_mutation_attempts"))
	assert.Equal(
		t,
		time.Second,
		viper.GetDuration("updater.role_mutation_backoff"),
	)
	assert.Equal(t, int64(100_000_000), viper.GetInt64("updater.region_divisor"))
	assert.Equal(t, "🏆", viper.GetString("updater.leaderboard_emoji"))
	assert.Equal(t, 48*time.Hour, cfg.Updater.VerificationExpiry)
	assert.Equal(t, 3, cfg.Updater.RoleMutationAttempts)

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.allow_origins"),
	)
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))
}

func TestDefaultConfigValues(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()

	viper.Reset()
	initConfig()

	assert.Equal(t, chivemaster.DefaultDatabase, viper.GetString("database"))
	assert.Equal(
		t,
		chivemaster.DefaultUpdateInterval,
		viper.GetDuration("updater.update_interval"),
	)
	assert.Equal(
		t,
		chivemaster.DefaultMatchCategoryName,
		viper.GetString("updater.match_category_name"),
	)
	assert.Equal(
		t,
		int64(chivemaster.DefaultRegionDivisor),
		viper.GetInt64("updater.region_divisor"),
	)
	assert.False(t, viper.GetBool("api.enabled"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()
	stringType := reflect.TypeOf("")
	levelVarPtrType := reflect.TypeOf(&slog.LevelVar{})

	rv, err := hook(stringType, levelVarPtrType, "DEBUG")
	require.NoError(t, err)
	lvlVar, ok := rv.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvlVar.Level())

	_, err = hook(stringType, levelVarPtrType, "bogus")
	assert.Error(t, err)

	// non-string sources pass through untouched
	rv, err = hook(reflect.TypeOf(1), levelVarPtrType, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rv)
}
