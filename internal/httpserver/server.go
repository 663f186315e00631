// Package httpserver exposes health, metrics and a small local status and
// control API for the agent.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// LockLister lists active locks.
type LockLister interface {
	ListActive(ctx context.Context, now time.Time) ([]datastore.LockedApp, error)
}

// ViolationReader reads the violation log.
type ViolationReader interface {
	Recent(ctx context.Context, limit int) ([]datastore.ViolationLog, error)
	CountByCategory(ctx context.Context, since time.Time) (map[string]int64, error)
}

// WhitelistReader lists whitelisted packages.
type WhitelistReader interface {
	List(ctx context.Context) ([]datastore.WhitelistedApp, error)
}

// SnoozeControl opens and closes the snooze window. guard.Snooze
// implements it.
type SnoozeControl interface {
	Start(d time.Duration) bool
	Clear()
	Active() (bool, time.Time)
}

// TamperStatus exposes the anti-tamper counters. guard.Tamper implements it.
type TamperStatus interface {
	Attempts() int
	Hardened() bool
	RequiredDisableDelay() time.Duration
}

// Deps are the data sources behind the API. Metrics and Ping may be nil.
type Deps struct {
	Settings   func() *conf.Settings
	Locks      LockLister
	Violations ViolationReader
	Whitelist  WhitelistReader
	Snooze     SnoozeControl
	Tamper     TamperStatus
	Tracking   func() string
	Degraded   func() bool
	Ping       func(ctx context.Context) error
	Metrics    http.Handler
}

// Server is the echo server.
type Server struct {
	Echo    *echo.Echo
	deps    Deps
	listen  string
	started time.Time
	now     func() time.Time
	log     logger.Logger

	wg sync.WaitGroup
}

// New creates a server with all routes registered.
func New(listen string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:    e,
		deps:    deps,
		listen:  listen,
		started: time.Now(),
		now:     time.Now,
		log:     GetLogger(),
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.Error("handler panicked",
				logger.String("path", c.Path()),
				logger.Error(err),
				logger.String("stack", string(stack)))
			return err
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.Echo.GET("/healthz", s.Health)
	if s.deps.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := s.Echo.Group("/api/v1")
	api.GET("/status", s.GetStatus)
	api.GET("/locks", s.GetLocks)
	api.GET("/violations", s.GetViolations)
	api.GET("/violations/stats", s.GetViolationStats)
	api.GET("/whitelist", s.GetWhitelist)
	api.POST("/snooze", s.StartSnooze)
	api.DELETE("/snooze", s.ClearSnooze)
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	s.wg.Go(func() {
		s.log.Info("http server listening", logger.String("listen", s.listen))
		if err := s.Echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logger.Error(err))
		}
	})
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	s.wg.Wait()
	return err
}
