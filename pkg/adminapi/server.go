// Package adminapi is the scheduler's thin administrative HTTP surface:
// health, metrics, job status, manual trigger, and trigger lifecycle
// control. It carries none of a public API's auth, per-client rate
// limiting, or body-size middleware — it is meant to sit behind an
// operator-only network boundary, not in front of untrusted traffic.
package adminapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickforge/pkg/scheduler"
)

// Server wraps a *scheduler.Scheduler with a gin HTTP surface.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	sched      *scheduler.Scheduler
	store      scheduler.TriggerStore
}

// Config configures the admin server.
type Config struct {
	Port      string
	Scheduler *scheduler.Scheduler
	Store     scheduler.TriggerStore
	Registry  *prometheus.Registry
}

// NewServer builds the admin server and registers its routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger())

	s := &Server{
		router: router,
		sched:  cfg.Scheduler,
		store:  cfg.Store,
	}
	s.registerRoutes(cfg.Registry)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until Shutdown closes
// the listener.
func (s *Server) Start() error {
	log.Printf("[adminapi] listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminapi: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.router.GET("/healthz", s.healthz)

	if reg != nil {
		handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		s.router.GET("/metrics", gin.WrapH(handler))
	} else {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	jobs := s.router.Group("/jobs")
	{
		jobs.GET("/:name/status", s.jobStatus)
		jobs.POST("/:name/trigger", s.triggerJob)
	}

	triggers := s.router.Group("/triggers")
	{
		triggers.POST("/:id/pause", s.pauseTrigger)
		triggers.POST("/:id/resume", s.resumeTrigger)
		triggers.DELETE("/:id", s.removeTrigger)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// triggerView is a JSON-safe projection of scheduler.Trigger: the full
// struct carries Spec.Next, a closure for cron schedules, which
// encoding/json cannot marshal.
type triggerView struct {
	ID            string         `json:"id"`
	JobName       string         `json:"job_name"`
	SpecKind      string         `json:"spec_kind"`
	NextRunAt     time.Time      `json:"next_run_at"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	MisfirePolicy string         `json:"misfire_policy"`
	State         string         `json:"state"`
	Generation    uint64         `json:"generation"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func toTriggerView(t *scheduler.Trigger) triggerView {
	return triggerView{
		ID:            t.ID,
		JobName:       t.JobName,
		SpecKind:      string(t.Spec.Kind),
		NextRunAt:     t.NextRunAt,
		LastRunAt:     t.LastRunAt,
		MisfirePolicy: string(t.MisfirePolicy),
		State:         string(t.State),
		Generation:    t.Generation,
		Metadata:      t.Metadata,
	}
}

// jobStatus reports every trigger currently registered against the named
// job, for operator visibility into what's scheduled.
func (s *Server) jobStatus(c *gin.Context) {
	name := c.Param("name")

	all, err := s.store.ListTriggers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	matching := make([]triggerView, 0)
	for _, t := range all {
		if t.JobName == name {
			matching = append(matching, toTriggerView(t))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"job":      name,
		"triggers": matching,
	})
}

// triggerJob fires an immediate one-shot execution of the named job, per
// POST /jobs/:name/trigger.
func (s *Server) triggerJob(c *gin.Context) {
	name := c.Param("name")

	t, err := s.sched.ExecuteNow(name, scheduler.ExecuteNowOptions{
		MisfirePolicy: scheduler.MisfireFireNow,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"trigger_id": t.ID})
}

func (s *Server) pauseTrigger(c *gin.Context) {
	id := c.Param("id")
	if err := s.sched.PauseTrigger(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resumeTrigger(c *gin.Context) {
	id := c.Param("id")
	if err := s.sched.ResumeTrigger(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeTrigger(c *gin.Context) {
	id := c.Param("id")
	if err := s.sched.RemoveTrigger(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// requestIDMiddleware stamps every request with a correlation ID, matching
// the teacher's request-tracing middleware but without the downstream auth
// and rate-limit stack this surface doesn't carry.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Printf("[adminapi] %s %s %d %v", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
