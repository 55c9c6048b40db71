// Package server exposes the workflow service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/poller"
	"github.com/specflow/specflow/internal/workflow"
)

// Options wires a Server. Service is required.
type Options struct {
	Service        *workflow.Service
	Poller         *poller.Manager
	ClaudeProjects string
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	// LogOutput receives the access log; nil discards it.
	LogOutput io.Writer
	// Home expands a leading "~" in project paths; defaults to $HOME.
	Home string
}

// Server is the HTTP API.
type Server struct {
	svc            *workflow.Service
	poller         *poller.Manager
	claudeProjects string
	home           string
	router         *gin.Engine

	mu      sync.Mutex
	streams map[string]int // SSE clients per session
}

// New builds the router.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		svc:            opts.Service,
		poller:         opts.Poller,
		claudeProjects: opts.ClaudeProjects,
		home:           opts.Home,
		router:         gin.New(),
		streams:        map[string]int{},
	}
	if s.home == "" {
		s.home, _ = os.UserHomeDir()
	}

	out := opts.LogOutput
	if out == nil {
		out = io.Discard
	}
	s.router.Use(gin.Recovery())
	s.router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("%s %s %s %d %s\n",
				p.TimeStamp.Format(time.RFC3339), p.Method, p.Path, p.StatusCode, p.Latency)
		},
	}))

	metrics := promhttp.Handler()
	if opts.Gatherer != nil {
		metrics = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	{
		wf := api.Group("/workflow")
		wf.POST("/start", s.start)
		wf.POST("/answer", s.resume)
		wf.POST("/cancel", s.cancel)
		wf.POST("/kill", s.kill)
		wf.POST("/reconcile", s.reconcile)
		wf.GET("/health", s.health)
		wf.GET("/status", s.status)
		wf.GET("/list", s.list)
		wf.GET("/events", s.events)
		wf.GET("/questions", s.questions)
		wf.POST("/questions", s.answerQuestion)

		session := api.Group("/session")
		session.GET("/content", s.sessionContent)
		session.GET("/stream", s.sessionStream)
	}
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrConfig):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if hint := errs.HintOf(err); hint != "" {
		body["hint"] = hint
	}
	c.JSON(statusFor(err), body)
}
