// Package api provides the HTTP surface of the orchestrator: the inbound
// planning-store webhook, liveness/readiness probes, and the review-gate
// approval endpoint external acknowledgement drives.
package api

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelmedia/reelforge/pkg/channels"
	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/database"
	"github.com/kestrelmedia/reelforge/pkg/planningsync"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/version"
)

// Server is the HTTP API server, built directly on gin.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg           *config.Config
	db            *sql.DB
	store         *queue.Store
	dir           *channels.Directory
	workerPool    *queue.WorkerPool    // nil if health shouldn't report pool stats
	sync          *planningsync.Store  // nil if manual approvals shouldn't sync out
	webhookSecret string
}

// NewServer builds a Server and registers its routes. workerPool and sync
// may be nil in tests that don't stand up the full pipeline.
func NewServer(cfg *config.Config, db *sql.DB, store *queue.Store, dir *channels.Directory, workerPool *queue.WorkerPool, sync *planningsync.Store, webhookSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{
		engine:        e,
		cfg:           cfg,
		db:            db,
		store:         store,
		dir:           dir,
		workerPool:    workerPool,
		sync:          sync,
		webhookSecret: webhookSecret,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/ready", s.readyHandler)
	s.engine.POST("/webhook/plan", s.planWebhookHandler)
	s.engine.POST("/tasks/:id/approve", s.approveGateHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the server on a pre-created listener - used by
// tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.db)
	status := "healthy"
	if err != nil {
		status = "unhealthy"
	}

	stats := s.cfg.Stats()
	resp := &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Config: ConfigurationStats{
			Channels:       stats.Channels,
			ActiveChannels: stats.ActiveChannels,
			Services:       stats.Services,
		},
	}
	if dbHealth != nil {
		resp.Database = &DatabaseStatus{
			Status:          dbHealth.Status,
			OpenConnections: dbHealth.OpenConnections,
			InUse:           dbHealth.InUse,
			Idle:            dbHealth.Idle,
		}
	}
	if s.workerPool != nil {
		resp.WorkerPool = s.workerPool.Health(reqCtx)
	}

	if status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// readyHandler implements GET /ready: DB reachable, encryption key loaded.
func (s *Server) readyHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbReachable := s.db.PingContext(reqCtx) == nil
	keySet := s.cfg.System != nil && s.cfg.System.EncryptionKey != ""

	resp := &ReadyResponse{
		Ready:            dbReachable && keySet,
		DBReachable:      dbReachable,
		EncryptionKeySet: keySet,
	}
	if !resp.Ready {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
