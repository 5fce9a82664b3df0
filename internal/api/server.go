package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junsooki/neon/internal/encoder"
	"github.com/junsooki/neon/internal/memguard"
	"github.com/junsooki/neon/internal/peer"
	"github.com/junsooki/neon/internal/signaling"
)

// Sessions is the session manager surface the API drives.
type Sessions interface {
	signaling.Offerer
	Sessions() []peer.Info
	Count() int
	SetBitrate(kbps int) (encoder.Config, error)
	ApplyQuality(name string) encoder.Quality
}

// Memory reports the latest memory guard sample.
type Memory interface {
	Latest() memguard.Sample
	Limit() uint64
}

// RequestRecorder records HTTP request metrics.
type RequestRecorder interface {
	RecordHTTPRequest(method, path string, status int, durationSeconds float64)
}

// Options configures a Server.
type Options struct {
	Sessions Sessions
	Memory   Memory
	Recorder RequestRecorder
	Gatherer prometheus.Gatherer
	// StaticDir holds the browser client; empty disables it.
	StaticDir string
	Logger    *slog.Logger
}

// Server wraps the HTTP router with its dependencies.
type Server struct {
	router   *gin.Engine
	sessions Sessions
	memory   Memory
	started  time.Time
	log      *slog.Logger
}

// New creates the HTTP server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		sessions: opts.Sessions,
		memory:   opts.Memory,
		started:  time.Now(),
		log:      opts.Logger.With("component", "http"),
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log, opts.Recorder))

	router.POST("/offer", s.handleOffer)
	router.GET("/ws", gin.WrapH(signaling.NewServer(s.sessions, opts.Logger)))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/sessions", s.handleSessions)
		api.POST("/settings", s.handleSettings)
		api.POST("/quality", s.handleQuality)
	}

	if opts.StaticDir != "" {
		if _, err := os.Stat(opts.StaticDir); err == nil {
			router.StaticFile("/", filepath.Join(opts.StaticDir, "index.html"))
			router.Static("/static", opts.StaticDir)
		} else {
			s.log.Warn("static directory unavailable", "dir", opts.StaticDir, "err", err)
		}
	}
	router.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	s.router = router
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the server on addr until ctx is done, then shuts it down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(log *slog.Logger, rec RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		if rec != nil {
			rec.RecordHTTPRequest(c.Request.Method, path, status, elapsed.Seconds())
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "err", c.Errors.String())
			return
		}
		log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "duration", elapsed)
	}
}

// Handler implementations

type offerRequest struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type" binding:"required"`
}

type settingsRequest struct {
	Bitrate int `json:"bitrate" binding:"required"`
}

type qualityRequest struct {
	Quality string `json:"quality"`
}

func (s *Server) handleOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.NewSDPType(req.Type), SDP: req.SDP}
	answer, err := s.sessions.Offer(c.Request.Context(), offer)
	switch {
	case errors.Is(err, peer.ErrInvalidOffer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, peer.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sdp": answer.SDP, "type": answer.Type.String()})
}

func (s *Server) handleSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.sessions.SetBitrate(req.Bitrate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bitrate": cfg.VideoBitrate})
}

func (s *Server) handleQuality(c *gin.Context) {
	var req qualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := s.sessions.ApplyQuality(req.Quality)
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"quality":    q.Name,
		"resolution": q.Resolution(),
		"bitrate":    q.BitrateKbps * 1000,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	infos := s.sessions.Sessions()
	c.JSON(http.StatusOK, gin.H{"sessions": infos, "total": len(infos)})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":   "ok",
		"sessions": s.sessions.Count(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"time":     time.Now().Unix(),
	}
	if s.memory != nil {
		m := s.memory.Latest()
		resp["rss_bytes"] = m.RSS
		resp["vms_bytes"] = m.VMS
		resp["memory_limit_bytes"] = s.memory.Limit()
	}
	c.JSON(http.StatusOK, resp)
}
