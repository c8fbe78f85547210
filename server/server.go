// Package server is the control plane: the JSON HTTP API for signal
// execution and inspection, and the WebSocket push channel on the same
// listener. Handlers delegate to the pipeline; no execution logic lives
// here.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dexarb/arbiter/chains"
	"github.com/dexarb/arbiter/exec"
)

// Server hosts the HTTP API and WebSocket endpoint.
type Server struct {
	pipeline  *exec.Pipeline
	providers *chains.Providers
	hub       *Hub
	log       *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The control plane binds loopback by default; cross-origin browser
	// clients are expected during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// New assembles the server. The hub doubles as the pipeline's event
// emitter; wire it via exec.Options before constructing the pipeline, or
// pass the same Hub here.
func New(pipeline *exec.Pipeline, providers *chains.Providers, hub *Hub, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		pipeline:  pipeline,
		providers: providers,
		hub:       hub,
		log:       log.Named("server"),
	}

	r := gin.New()
	r.Use(s.accessLog(), gin.Recovery())

	r.GET("/", s.handleWS)
	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.POST("/execute", s.handleExecute)
	r.POST("/execute/batch", s.handleExecuteBatch)
	r.POST("/simulate", s.handleSimulate)

	s.engine = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving on addr. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("control plane listening", zap.String("addr", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the push channel.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if len(s.providers.Healthy()) < s.providers.Count() || s.pipeline.Breaker().Open() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"mode":   string(s.pipeline.Mode()),
		"chains": s.providers.Count(),
		"uptime": int64(s.providers.Uptime().Seconds()),
		"stats":  s.pipeline.Stats().SnapshotWith(s.pipeline.Breaker()),
	})
}

// statsDoc is the /stats response: the counter snapshot plus the number
// of connected push clients.
type statsDoc struct {
	exec.Snapshot
	ConnectedClients int `json:"connected_clients"`
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, statsDoc{
		Snapshot:         s.pipeline.Stats().SnapshotWith(s.pipeline.Breaker()),
		ConnectedClients: s.hub.Count(),
	})
}

func (s *Server) handleExecute(c *gin.Context) {
	var sig exec.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signal: " + err.Error()})
		return
	}
	// Rejections are handled answers, not server errors; the status stays
	// 200 and the body carries success:false.
	res := s.pipeline.Execute(c.Request.Context(), &sig)
	s.hub.Emit("execution_result", res)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleExecuteBatch(c *gin.Context) {
	var req struct {
		Signals []exec.Signal `json:"signals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed batch: " + err.Error()})
		return
	}
	if len(req.Signals) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}
	results := make([]exec.Result, 0, len(req.Signals))
	succeeded := 0
	for i := range req.Signals {
		res := s.pipeline.Execute(c.Request.Context(), &req.Signals[i])
		s.hub.Emit("execution_result", res)
		if res.Success {
			succeeded++
		}
		results = append(results, res)
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

func (s *Server) handleSimulate(c *gin.Context) {
	var sig exec.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signal: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.pipeline.Simulate(c.Request.Context(), &sig))
}

// handleWS upgrades the root path and services the push channel. The
// only inbound message understood is ping, answered with pong; anything
// else is ignored.
func (s *Server) handleWS(c *gin.Context) {
	if c.GetHeader("Upgrade") == "" {
		c.JSON(http.StatusOK, gin.H{"service": "arbiter", "mode": string(s.pipeline.Mode())})
		return
	}
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	id := s.hub.Add(sock)
	s.log.Info("websocket client connected", zap.Uint64("id", id))
	if err := s.hub.Send(id, "connected", gin.H{"mode": string(s.pipeline.Mode())}); err != nil {
		s.hub.Remove(id)
		return
	}

	go func() {
		defer func() {
			s.hub.Remove(id)
			s.log.Info("websocket client disconnected", zap.Uint64("id", id))
		}()
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := sock.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				if err := s.hub.Send(id, "pong", nil); err != nil {
					return
				}
			}
		}
	}()
}
