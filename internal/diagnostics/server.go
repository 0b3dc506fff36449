// Package diagnostics implements the local control/diagnostics HTTP
// and WebSocket surface: health and status polling, a live event
// push, and pause/resume/stop control. Grounded on the teacher's
// cmd/server Server/setupRouter structure and internal/ws.StreamManager's
// WebSocket upgrade handling, repointed from screenshot streaming to
// scanner status/event push.
package diagnostics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/config"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/events"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/scanner"
)

// Server hosts the worker's diagnostics routes.
type Server struct {
	logger     *zap.Logger
	orch       *scanner.Orchestrator
	events     *events.Channel
	cfg        *config.Config
	cfgPath    string
	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	startedAt  time.Time
}

func New(logger *zap.Logger, orch *scanner.Orchestrator, ev *events.Channel, cfg *config.Config, cfgPath string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger,
		orch:    orch,
		events:  ev,
		cfg:     cfg,
		cfgPath: cfgPath,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		startedAt: time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/healthz", s.healthz)
	s.router.GET("/status", s.status)
	s.router.GET("/events", s.handleEventsWS)

	control := s.router.Group("/control")
	control.POST("/pause", s.controlPause)
	control.POST("/resume", s.controlResume)
	control.POST("/stop", s.controlStop)

	s.router.GET("/config", s.getConfig)
	s.router.PUT("/config", s.putConfig)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("diagnostics request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// ListenAndServe starts the HTTP server on addr; blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("diagnostics server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "uptime_s": time.Since(s.startedAt).Seconds()})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":    s.orch.State(),
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) controlPause(c *gin.Context) {
	s.orch.Pause()
	c.JSON(http.StatusOK, gin.H{"state": s.orch.State()})
}

func (s *Server) controlResume(c *gin.Context) {
	s.orch.Resume()
	c.JSON(http.StatusOK, gin.H{"state": s.orch.State()})
}

func (s *Server) controlStop(c *gin.Context) {
	s.orch.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.orch.State()})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg)
}

func (s *Server) putConfig(c *gin.Context) {
	var updated config.Config
	if err := c.ShouldBindJSON(&updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	*s.cfg = updated
	if s.cfgPath != "" {
		if err := config.Save(s.cfgPath, s.cfg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, s.cfg)
}

// handleEventsWS upgrades to a WebSocket and pushes every status,
// match, click, error, and perf event as it's emitted, until the
// client disconnects.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("events ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe()
	for {
		ev, ok := <-sub
		if !ok {
			return
		}
		if err := conn.WriteJSON(eventPayload(ev)); err != nil {
			return
		}
	}
}

func eventPayload(ev events.Event) gin.H {
	payload := gin.H{"kind": ev.Kind, "seq": ev.Seq, "timestamp": time.Now()}
	switch ev.Kind {
	case events.KindStatusChanged:
		payload["status"] = ev.Status
	case events.KindMatch:
		payload["match"] = ev.Match
	case events.KindClick:
		payload["click"] = ev.Click
	case events.KindError:
		payload["err_kind"] = ev.ErrKind
		payload["err_info"] = ev.ErrInfo
	case events.KindPerfTick:
		payload["perf"] = ev.Perf
	}
	return payload
}
