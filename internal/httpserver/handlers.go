package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/haramshield/haramshield-go/internal/logger"
)

const (
	defaultViolationLimit = 50
	maxViolationLimit     = 500
	maxSnooze             = 24 * time.Hour
)

// ErrorResponse is the body of every non-2xx API response. Internal error
// detail is logged, never returned.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Monitoring          bool       `json:"monitoring"`
	Snoozed             bool       `json:"snoozed"`
	SnoozeUntil         *time.Time `json:"snooze_until,omitempty"`
	Tracking            string     `json:"tracking,omitempty"`
	TamperAttempts      int        `json:"tamper_attempts"`
	Hardened            bool       `json:"hardened"`
	DisableDelaySeconds int64      `json:"disable_delay_seconds"`
	ProtectionDegraded  bool       `json:"protection_degraded"`
	UptimeSeconds       int64      `json:"uptime_seconds"`
}

// LockResponse is one active lock.
type LockResponse struct {
	Package          string    `json:"package"`
	Category         string    `json:"category"`
	Confidence       float32   `json:"confidence"`
	LockedAt         time.Time `json:"locked_at"`
	LockUntil        time.Time `json:"lock_until"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// ViolationResponse is one log entry.
type ViolationResponse struct {
	ID         uint      `json:"id"`
	Package    string    `json:"package"`
	AppLabel   string    `json:"app_label,omitempty"`
	Category   string    `json:"category"`
	Confidence float32   `json:"confidence"`
	Detail     string    `json:"detail,omitempty"`
	LockedOut  bool      `json:"locked_out"`
	Timestamp  time.Time `json:"timestamp"`
}

// SnoozeRequest is the body of POST /api/v1/snooze. Zero seconds uses the
// configured default.
type SnoozeRequest struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) fail(c echo.Context, err error, message string, code int) error {
	id := uuid.NewString()[:8]
	if err != nil {
		s.log.Error("api error",
			logger.String("correlation_id", id),
			logger.String("path", c.Path()),
			logger.String("message", message),
			logger.Error(err))
	}
	return c.JSON(code, ErrorResponse{Error: message, CorrelationID: id})
}

// Health handles GET /healthz.
func (s *Server) Health(c echo.Context) error {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(c.Request().Context()); err != nil {
			return s.fail(c, err, "database unavailable", http.StatusServiceUnavailable)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /api/v1/status.
func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Monitoring:    s.deps.Settings().Monitoring.Enabled,
		UptimeSeconds: int64(s.now().Sub(s.started) / time.Second),
	}
	if active, until := s.deps.Snooze.Active(); active {
		resp.Snoozed, resp.SnoozeUntil = true, &until
	}
	if s.deps.Tamper != nil {
		resp.TamperAttempts = s.deps.Tamper.Attempts()
		resp.Hardened = s.deps.Tamper.Hardened()
		resp.DisableDelaySeconds = int64(s.deps.Tamper.RequiredDisableDelay() / time.Second)
	}
	if s.deps.Tracking != nil {
		resp.Tracking = s.deps.Tracking()
	}
	if s.deps.Degraded != nil {
		resp.ProtectionDegraded = s.deps.Degraded()
	}
	return resp
}

// GetLocks handles GET /api/v1/locks.
func (s *Server) GetLocks(c echo.Context) error {
	now := s.now()
	locks, err := s.deps.Locks.ListActive(c.Request().Context(), now)
	if err != nil {
		return s.fail(c, err, "failed to list locks", http.StatusInternalServerError)
	}
	out := make([]LockResponse, 0, len(locks))
	for _, l := range locks {
		out = append(out, LockResponse{
			Package:          l.PackageName,
			Category:         l.Category,
			Confidence:       l.Confidence,
			LockedAt:         time.UnixMilli(l.LockedAt),
			LockUntil:        l.Until(),
			RemainingSeconds: int64(l.Remaining(now) / time.Second),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetViolations handles GET /api/v1/violations?limit=n.
func (s *Server) GetViolations(c echo.Context) error {
	limit := defaultViolationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return s.fail(c, nil, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = min(n, maxViolationLimit)
	}

	entries, err := s.deps.Violations.Recent(c.Request().Context(), limit)
	if err != nil {
		return s.fail(c, err, "failed to read violations", http.StatusInternalServerError)
	}
	out := make([]ViolationResponse, 0, len(entries))
	for _, v := range entries {
		out = append(out, ViolationResponse{
			ID:         v.ID,
			Package:    v.PackageName,
			AppLabel:   v.AppLabel,
			Category:   v.Category,
			Confidence: v.Confidence,
			Detail:     v.Detail,
			LockedOut:  v.LockedOut,
			Timestamp:  v.At(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetViolationStats handles GET /api/v1/violations/stats?days=n, counting
// entries per category over the last n days (default 7).
func (s *Server) GetViolationStats(c echo.Context) error {
	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			return s.fail(c, nil, "days must be between 1 and 366", http.StatusBadRequest)
		}
		days = n
	}
	counts, err := s.deps.Violations.CountByCategory(c.Request().Context(), s.now().AddDate(0, 0, -days))
	if err != nil {
		return s.fail(c, err, "failed to count violations", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, counts)
}

// GetWhitelist handles GET /api/v1/whitelist.
func (s *Server) GetWhitelist(c echo.Context) error {
	apps, err := s.deps.Whitelist.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err, "failed to list whitelist", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, apps)
}

// StartSnooze handles POST /api/v1/snooze.
func (s *Server) StartSnooze(c echo.Context) error {
	var req SnoozeRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, nil, "invalid request body", http.StatusBadRequest)
	}
	d := time.Duration(req.Seconds) * time.Second
	if d < 0 || d > maxSnooze {
		return s.fail(c, nil, "seconds must be between 0 and 86400", http.StatusBadRequest)
	}
	if !s.deps.Snooze.Start(d) {
		return s.fail(c, nil, "already snoozed", http.StatusConflict)
	}
	return c.JSON(http.StatusOK, s.status())
}

// ClearSnooze handles DELETE /api/v1/snooze.
func (s *Server) ClearSnooze(c echo.Context) error {
	s.deps.Snooze.Clear()
	return c.JSON(http.StatusOK, s.status())
}
