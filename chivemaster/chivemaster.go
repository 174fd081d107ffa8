package chivemaster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var defaultLogWriter io.Writer = os.Stdout

// Set at build time via:
// -ldflags "-X github.com/juliuskreutz/chive-master/chivemaster.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// ChiveMaster is the top-level bot. It wires together the database, the
// discord session, the profile service client, the background updater, and
// the optional status API, and owns the run lifecycle.
type ChiveMaster struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      DBI
	discord *Discord
	profile ProfileClient
	updater *Updater
	api     *API

	startedAt time.Time

	// runMu prevents concurrent runs
	runMu sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot,
	// triggering a graceful shutdown
	signalStop chan struct{}

	// signalReady has a value sent on it once startup has finished and the
	// gateway connection is live. Used by tests to wait for readiness.
	signalReady chan struct{}
}

// New creates a ChiveMaster from the given config. The config isn't
// validated here - that happens at the start of [ChiveMaster.Run].
func New(config *Config) (*ChiveMaster, error) {
	var errs []error

	if config == nil {
		config = DefaultConfig()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	cm := &ChiveMaster{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	cm.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     cm.config.LogLevel,
			AddSource: true,
		},
	)
	cm.logger = slog.New(cm.logHandler)
	slog.SetDefault(cm.logger)

	cm.config.Discord.httpClient = cm.config.HTTPClient

	disc, err := newDiscord(cm.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     cm.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     cm.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.cm = cm
		cm.discord = disc
	}

	cm.profile = newProfileClient(
		cm.config.Profile,
		cm.config.HTTPClient,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     cm.config.Profile.LogLevel,
					AddSource: true,
				},
			),
		),
	)

	api, err := newAPI(cm, cm.config.API)
	errs = append(errs, err)
	cm.api = api

	return cm, errors.Join(errs...)
}

// ValidateConfig validates the current configuration.
func (cm *ChiveMaster) ValidateConfig() error {
	return structValidator.Struct(cm.config)
}

// Stop signals a running bot to begin a graceful shutdown.
func (cm *ChiveMaster) Stop() {
	select {
	case cm.signalStop <- struct{}{}:
	default:
	}
}

// Run starts the bot and blocks until the context is canceled or Stop is
// called, then shuts down gracefully.
func (cm *ChiveMaster) Run(ctx context.Context) error {
	// prevents concurrent runs
	cm.runMu.Lock()
	defer cm.runMu.Unlock()

	cm.signalStop = make(chan struct{}, 1)
	cm.startedAt = time.Now()
	logger := cm.logger

	if err := cm.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-cm.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", cm.config),
	)

	startCtx, startCancel := context.WithTimeout(ctx, cm.config.StartupTimeout)
	defer startCancel()

	if err := cm.initRun(startCtx); err != nil {
		logger.Error("init error", tint.Err(err))
		return err
	}

	runtimeWG := &sync.WaitGroup{}

	if cm.config.API.Enabled {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if httpErr := cm.api.Serve(ctx); httpErr != nil &&
				!errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(
					ctx,
					"error serving api HTTP",
					tint.Err(httpErr),
				)
			}
		}()
	}

	if err := cm.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(
			ctx,
			"error starting discord session",
			tint.Err(err),
		)
		return err
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		cm.updater.Run(ctx)
	}()

	select {
	case cm.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "startup complete")

	<-ctx.Done()
	logger.Warn("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cm.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	done := make(chan struct{}, 1)
	go func() {
		cm.shutdown(shutdownCtx)
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out after %s", cm.config.ShutdownTimeout)
	}
}

// initRun opens the database and constructs the updater.
func (cm *ChiveMaster) initRun(ctx context.Context) error {
	gormDB, err := CreateDB(
		ctx,
		cm.config.Database,
		newGORMLogger(cm.dbLogHandler(), cm.config.DatabaseSlowThreshold),
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	cm.db = NewDatabase(gormDB, slog.New(cm.dbLogHandler()))

	cm.updater = newUpdater(
		cm.db,
		cm.discord,
		cm.profile,
		cm.config.Updater,
		cm.config.Discord.GuildID,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     cm.config.Updater.LogLevel,
					AddSource: true,
				},
			),
		),
	)
	return nil
}

func (cm *ChiveMaster) dbLogHandler() slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     cm.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
}

// initDiscordSession creates the gateway session, registers the event
// handlers and slash commands, and opens the websocket connection.
func (cm *ChiveMaster) initDiscordSession(ctx context.Context) error {
	session, err := cm.discord.newSession()
	if err != nil {
		return err
	}
	cm.discord.session = session

	cm.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(cm.discord.handlerReady()),
		session.AddHandler(cm.discord.handlerConnect()),
		session.AddHandler(cm.discord.handlerDisconnect()),
		session.AddHandler(cm.handlerInteractionCreate()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = cm.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	cm.logger.InfoContext(ctx, "discord session established")
	return nil
}

// shutdown tears down the gateway connection and removes the event
// handlers.
func (cm *ChiveMaster) shutdown(_ context.Context) {
	for _, removeHandler := range cm.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if cm.discord.session != nil {
		if err := cm.discord.session.Close(); err != nil {
			cm.logger.Error("error closing discord session", tint.Err(err))
		}
	}
}
