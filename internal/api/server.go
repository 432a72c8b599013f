// Package api exposes the attendance coordinator over HTTP and websockets.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveattend/internal/attendance"
	"liveattend/internal/auth"
	"liveattend/internal/feed"
	"liveattend/internal/httpmiddleware"
	"liveattend/internal/logging"
)

// Coordinator is the attendance API served over HTTP.
type Coordinator interface {
	StartSession(ctx context.Context, createdBy string) (attendance.Session, error)
	StopSession(ctx context.Context, id string) error
	ActiveSession(ctx context.Context) (*attendance.Session, error)
	Session(ctx context.Context, id string) (attendance.Session, error)
	MarkAttendance(ctx context.Context, sessionID, studentName string, verified bool) (attendance.Record, error)
	Roster(ctx context.Context, sessionID string) ([]attendance.Record, error)
	SubscribeRoster(ctx context.Context, sessionID string) *feed.Stream[[]attendance.Record]
	SubscribeActive(ctx context.Context) *feed.Stream[*attendance.Session]
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Issuer      *auth.Issuer
	Limiter     httpmiddleware.Limiter
	Logger      logging.Logger
	CORSOrigins []string
	Checks      map[string]HealthCheck
}

type Server struct {
	coord    Coordinator
	issuer   *auth.Issuer
	log      logging.Logger
	checks   map[string]HealthCheck
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

func New(coord Coordinator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	s := &Server{
		coord:  coord,
		issuer: opts.Issuer,
		log:    opts.Logger.With("module", "api"),
		checks: opts.Checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.routes(opts)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		limit = httpmiddleware.RateLimit(opts.Limiter, func(c *gin.Context, err error) {
			s.log.Warn(c.Request.Context(), "rate limiter unavailable", "err", err)
		})
	}

	clients := r.Group("/v1/clients", limit)
	clients.POST("/register", s.register)
	clients.POST("/refresh", s.refresh)

	v1 := r.Group("/v1", auth.ClientAuth(s.issuer), limit)
	v1.POST("/sessions", s.startSession)
	v1.GET("/sessions/active", s.activeSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.POST("/sessions/:id/stop", s.stopSession)
	v1.GET("/sessions/:id/records", s.roster)
	v1.POST("/sessions/:id/records", s.markAttendance)
	v1.GET("/ws/sessions/active", s.streamActive)
	v1.GET("/ws/sessions/:id/roster", s.streamRoster)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(c.Request.Context(), "request failed", "route", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
