package http

import (
	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "CallSignalSessions"
	clientTokenKey = "ct"
)

// Deps are the collaborators the HTTP layer reads from.
type Deps struct {
	Signal   *signal.SignalWSController
	Registry *app.Registry
	Relay    *app.Relay
	Store    core.SessionStore
	Ready    func() bool
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session.
// It only correlates logs; identity comes from the authenticate event.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 24 * 7,
		HttpOnly: true,
	})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{deps: d, iceServers: cfg.ICEServers, adminToken: cfg.AdminToken}

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)

	api := r.Group("/api")
	api.Use(ClientTokenMiddleware())

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(c)
	})
	api.GET("/presence/:userId", h.presence)
	api.GET("/sessions/:id", h.session)
	api.GET("/ice-servers", h.iceServersList)
	api.POST("/broadcast/:role", h.requireAdmin, h.broadcast)
	api.GET("/rooms", h.requireAdmin, h.rooms)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
