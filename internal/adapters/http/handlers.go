package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/dkeye/callsignal/internal/adapters/rtc"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps       Deps
	iceServers []config.ICEServer
	adminToken string
}

type PresenceResponse struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

type BroadcastRequest struct {
	Event   string          `json:"event" binding:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

type BroadcastResponse struct {
	Role   string `json:"role"`
	Event  string `json:"event"`
	SentTo int    `json:"sentTo"`
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) readyz(c *gin.Context) {
	if h.deps.Ready == nil || !h.deps.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handlers) presence(c *gin.Context) {
	id := c.Param("userId")
	if _, err := domain.NewIdentity(id, string(domain.RoleUser)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := h.deps.Registry.Presence(domain.UserID(id))
	c.JSON(http.StatusOK, PresenceResponse{
		UserID:      string(p.UserID),
		Online:      p.Online,
		Connections: p.Connections,
	})
}

func (h *handlers) session(c *gin.Context) {
	s, err := h.deps.Store.FindSession(c.Request.Context(), domain.SessionID(c.Param("id")))
	if errors.Is(err, domain.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("session", c.Param("id")).Msg("find session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) rooms(c *gin.Context) {
	rooms := h.deps.Registry.Rooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) iceServersList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.ICEServers(h.iceServers)})
}

// requireAdmin guards operator endpoints with a static bearer token.
// An empty token disables them.
func (h *handlers) requireAdmin(c *gin.Context) {
	if h.adminToken == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *handlers) broadcast(c *gin.Context) {
	role, err := domain.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid event"})
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	if _, err := app.Encode(req.Event, payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := h.deps.Relay.BroadcastToRole(role, req.Event, payload)
	log.Info().Str("module", "adapters.http").Str("role", string(role)).Str("event", req.Event).Int("sent_to", n).Msg("role broadcast")
	c.JSON(http.StatusOK, BroadcastResponse{Role: string(role), Event: req.Event, SentTo: n})
}
