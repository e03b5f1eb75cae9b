package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/liftctl/internal/elevator"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var ErrInvalidInput = errors.New("admin: invalid input")

const version = "0.1.0"

// Backend is the node surface the admin routes read and drive.
type Backend interface {
	NodeID() string
	Jobs() []jobs.Entry
	State() elevator.State
	// Call injects a hall call as if its button was pressed.
	Call(target int) error
	Cabin(floor int) error
}

type JobView struct {
	Target      int    `json:"target"`
	Cabin       bool   `json:"cabin"`
	DelayMS     int64  `json:"delay_ms"`
	RemainingMS int64  `json:"remaining_ms"`
	Remote      bool   `json:"remote"`
	Taken       bool   `json:"taken"`
	Seq         uint64 `json:"seq"`
}

type Server struct {
	backend  Backend
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

// New builds the router. An empty origin list allows only the local dev UI.
func New(backend Backend, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(backend.NodeID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		backend:  backend,
		router:   r,
		log:      logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) NodeID() string { return s.backend.NodeID() }

func (s *Server) HTTPRouter() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"node":    s.backend.NodeID(),
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.backend.State()
		ready := state.Phase != elevator.Recovering.String() && state.Phase != elevator.Halted.String()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": ready,
			"phase": state.Phase,
			"node":  s.backend.NodeID(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/jobs", func(c *gin.Context) {
		now := time.Now()
		entries := s.backend.Jobs()
		out := make([]JobView, 0, len(entries))
		for _, e := range entries {
			out = append(out, JobView{
				Target:      e.Target,
				Cabin:       e.Cabin,
				DelayMS:     e.Delay.Milliseconds(),
				RemainingMS: e.Remaining(now).Milliseconds(),
				Remote:      e.Remote,
				Taken:       e.Taken,
				Seq:         e.Seq(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"jobs": out})
	})

	s.router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.backend.State())
	})

	s.router.POST("/calls/:target", func(c *gin.Context) {
		s.inject(c, "target", s.backend.Call)
	})

	s.router.POST("/cabin/:floor", func(c *gin.Context) {
		s.inject(c, "floor", s.backend.Cabin)
	})
}

func (s *Server) inject(c *gin.Context, param string, fn func(int) error) {
	v, err := strconv.Atoi(strings.TrimSpace(c.Param(param)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": param + " must be an integer"})
		return
	}
	if err := fn(v); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Msgf("admin.Server.inject %s=%d", param, v)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", param: v})
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Msgf("admin.Server.Serve listening addr=%q", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
