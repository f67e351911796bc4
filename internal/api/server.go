package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const cycleJobTimeout = 30 * time.Minute

type Server struct {
	Pipeline *pipeline.Pipeline
	Echo     *echo.Echo

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(p *pipeline.Pipeline) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{Pipeline: p, Echo: e}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/quota", s.handleQuota)
	api.GET("/deals", s.handleListDeals)
	api.GET("/routes", s.handleListRoutes)
	api.GET("/plan", s.handlePlan)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/cycle", s.handleRunCycle)
	admin.GET("/job/:id", s.handleJobStatus)
	admin.POST("/sweep", s.handleSweep)
	admin.POST("/revalidate", s.handleRevalidate)
	admin.POST("/tiers", s.handleAdjustTiers)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleQuota(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Pipeline.QuotaStatus())
}

func (s *Server) handleListDeals(c echo.Context) error {
	state := models.DealState(strings.ToLower(strings.TrimSpace(c.QueryParam("state"))))
	switch state {
	case "", models.DealActive, models.DealExpired, models.DealRejected:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown deal state %q", state)})
	}

	limit := 50
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	list, err := s.Pipeline.ListDeals(c.Request().Context(), state, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if list == nil {
		list = []models.Deal{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleListRoutes(c echo.Context) error {
	routes, err := s.Pipeline.ListRoutes(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if routes == nil {
		routes = []models.Route{}
	}
	return c.JSON(http.StatusOK, routes)
}

func (s *Server) handlePlan(c echo.Context) error {
	plan, err := s.Pipeline.PreviewPlan(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"quota": s.Pipeline.QuotaStatus(),
		"plan":  plan,
	})
}

// handleRunCycle starts a scheduling cycle in the background and returns 202
// with a poll URL. Only one manual cycle runs at a time.
func (s *Server) handleRunCycle(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "A scheduling cycle is already running",
			"job_id": job.ID,
		})
	}

	jobCtx, jobCancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), cycleJobTimeout)
	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		report, err := s.Pipeline.RunSchedulingCycle(jobCtx)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[cycle-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		job.Result = report
		log.Printf("[cycle-job %s] completed: dispatched=%d deals=%d", jobID, report.Dispatched, len(report.Deals))
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "Scheduling cycle started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSweep(c echo.Context) error {
	n, err := s.Pipeline.SweepExpired(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func (s *Server) handleRevalidate(c echo.Context) error {
	report, err := s.Pipeline.RevalidateDeals(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAdjustTiers(c echo.Context) error {
	report, err := s.Pipeline.AdjustRouteTiers(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests and cancels a running manual cycle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}
	return adminSecretRuntime, nil
}
