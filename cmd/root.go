package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/juliuskreutz/chive-master/chivemaster"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = chivemaster.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "chivemaster [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", chivemaster.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		chivemaster.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		chivemaster.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", chivemaster.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", chivemaster.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", chivemaster.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.operator_channel_id", "")
	viper.SetDefault("discord.operator_mention", "")
	viper.SetDefault(
		"discord.log_level",
		chivemaster.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		chivemaster.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		chivemaster.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		chivemaster.DefaultDiscordStartupMessage,
	)

	// Profile service config
	viper.SetDefault("profile.base_url", chivemaster.DefaultProfileBaseURL)
	viper.SetDefault(
		"profile.max_requests_per_second",
		chivemaster.DefaultProfileMaxRequestsPerSecond,
	)
	viper.SetDefault("profile.cache_size", chivemaster.DefaultProfileCacheSize)
	viper.SetDefault("profile.cache_ttl", chivemaster.DefaultProfileCacheTTL)
	viper.SetDefault(
		"profile.log_level",
		chivemaster.DefaultProfileLogLevel.String(),
	)

	// Updater config
	viper.SetDefault(
		"updater.update_interval",
		chivemaster.DefaultUpdateInterval,
	)
	viper.SetDefault(
		"updater.verification_expiry",
		chivemaster.DefaultVerificationExpiry,
	)
	viper.SetDefault(
		"updater.verification_delay",
		chivemaster.DefaultVerificationDelay,
	)
	viper.SetDefault(
		"updater.role_sweep_delay",
		chivemaster.DefaultRoleSweepDelay,
	)
	viper.SetDefault(
		"updater.role_mutation_attempts",
		chivemaster.DefaultRoleMutationAttempts,
	)
	viper.SetDefault(
		"updater.role_mutation_backoff",
		chivemaster.DefaultRoleMutationBackoff,
	)
	viper.SetDefault(
		"updater.region_divisor",
		chivemaster.DefaultRegionDivisor,
	)
	viper.SetDefault(
		"updater.match_category_name",
		chivemaster.DefaultMatchCategoryName,
	)
	viper.SetDefault(
		"updater.disband_delete_delay",
		chivemaster.DefaultDisbandDeleteDelay,
	)
	viper.SetDefault(
		"updater.leaderboard_emoji",
		chivemaster.DefaultLeaderboardEmoji,
	)
	viper.SetDefault(
		"updater.log_level",
		chivemaster.DefaultUpdaterLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", chivemaster.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", chivemaster.DefaultAPILogLevel.String())
	viper.SetDefault("api.allow_origins", []string{})
	viper.SetDefault("api.read_timeout", chivemaster.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		chivemaster.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", chivemaster.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", chivemaster.DefaultIdleTimeout)

	envPrefix := os.Getenv(chivemaster.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = chivemaster.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.allow_origins",
		viper.GetStringSlice("api.allow_origins"),
	)

	levelKeys := []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"profile.log_level",
		"updater.log_level",
		"api.log_level",
	}
	for _, key := range levelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
