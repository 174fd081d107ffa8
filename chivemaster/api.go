package chivemaster

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck = "/healthz"
	apiPathStatus  = "/api/status"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// API is the read-only status server. It exposes a health check and a
// snapshot of the bot's state for dashboards, nothing that mutates.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	cm         *ChiveMaster
}

func newAPI(cm *ChiveMaster, config *APIConfig) (*API, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		cm:     cm,
		logger: slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "api"),
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	r.Use(
		gin.Recovery(),
		api.loggingMiddleware(),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathStatus, api.statusHandler)

	return api, nil
}

func (a *API) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started),
		)
	}
}

// Serve starts the HTTP server and blocks until it stops. The server shuts
// down gracefully when ctx is canceled.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx,
			a.config.ListenNetwork,
			a.config.Listen,
		)
		if err != nil {
			return err
		}
		a.listener = ln
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down api server", tint.Err(err))
		}
	}()

	a.logger.Info("listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusResponse is the payload returned by the status endpoint.
type statusResponse struct {
	StartedAt            time.Time `json:"started_at"`
	Uptime               string    `json:"uptime"`
	DiscordConnected     bool      `json:"discord_connected"`
	Connections          int64     `json:"connections"`
	PendingVerifications int64     `json:"pending_verifications"`
	Candidates           int64     `json:"candidates"`
	Matches              int64     `json:"matches"`
	RoleThresholds       int64     `json:"role_thresholds"`
	AnnouncementChannels int64     `json:"announcement_channels"`
}

func (a *API) statusHandler(c *gin.Context) {
	if a.cm.db == nil {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"error": "database not ready"},
		)
		return
	}

	status := statusResponse{
		StartedAt:        a.cm.startedAt,
		Uptime:           time.Since(a.cm.startedAt).Round(time.Second).String(),
		DiscordConnected: a.cm.discord.connected.Load(),
	}

	db := a.cm.db.DB().WithContext(c.Request.Context())
	counts := []struct {
		model any
		dest  *int64
	}{
		{&Connection{}, &status.Connections},
		{&VerificationRequest{}, &status.PendingVerifications},
		{&Candidate{}, &status.Candidates},
		{&Match{}, &status.Matches},
		{&RoleThreshold{}, &status.RoleThresholds},
		{&AnnouncementChannel{}, &status.AnnouncementChannels},
	}
	for _, count := range counts {
		if rv := db.Model(count.model).Count(count.dest); rv.Error != nil {
			a.logger.Error("error counting rows", tint.Err(rv.Error))
			c.JSON(
				http.StatusInternalServerError,
				gin.H{"error": "query failed"},
			)
			return
		}
	}

	c.JSON(http.StatusOK, status)
}
