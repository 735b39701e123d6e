package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/wagate/internal/auth"
	"github.com/danmuck/wagate/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	Version = "0.1.0"

	// timestampLayout matches a JavaScript Date.toISOString() value.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	msgSent       = "message sent successfully"
	msgLoggedOut  = "Logged out"
	msgBadRequest = "invalid request body"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	CorsOrigins []string
	// APIToken, when set, is required as a bearer token on /whatsapp routes.
	APIToken string
}

// Server is the gin HTTP surface over a Facade.
type Server struct {
	facade  *Facade
	router  *gin.Engine
	started time.Time
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

type pairingResponse struct {
	Pairing   bool   `json:"pairing"`
	Challenge string `json:"challenge,omitempty"`
}

func NewServer(facade *Facade, opts ServerOptions) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{facade: facade, router: r, started: time.Now()}
	s.registerRoutes(strings.TrimSpace(opts.APIToken))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(token string) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wa := s.router.Group("/whatsapp")
	if token != "" {
		wa.Use(auth.Middleware(auth.StaticToken{Token: token}))
	}
	wa.GET("/status", s.handleStatus)
	wa.POST("/sendMessage", s.handleSendMessage)
	wa.GET("/pairing", s.handlePairing)
	wa.POST("/logout", s.handleLogout)
}

// handleStatus never fails; a disconnected gateway is reported as data.
func (s *Server) handleStatus(c *gin.Context) {
	st := s.facade.Status()
	c.JSON(http.StatusOK, statusResponse{
		Connected: st.Connected,
		Timestamp: st.Timestamp.Format(timestampLayout),
		State:     st.State,
	})
}

// handleSendMessage always answers 200; failures are reported in the body.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, resultResponse{Success: false, Message: msgBadRequest + ": " + err.Error()})
		return
	}
	if err := s.facade.SendMessage(c.Request.Context(), req.Phone, req.Message); err != nil {
		log.Warn().
			Err(err).
			Str("request_id", observability.RequestID(c)).
			Str("phone", req.Phone).
			Msg("gateway.Server sendMessage failed")
		c.JSON(http.StatusOK, resultResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resultResponse{Success: true, Message: msgSent})
}

func (s *Server) handlePairing(c *gin.Context) {
	challenge, ok := s.facade.Pairing()
	c.JSON(http.StatusOK, pairingResponse{Pairing: ok, Challenge: challenge})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.facade.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, resultResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resultResponse{Success: true, Message: msgLoggedOut})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
