package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/storyline/internal/db"
	"horse.fit/storyline/internal/globaltime"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/telemetry"
)

const (
	defaultListLimit = 25
	maxListLimit     = 200
)

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetStoryDetail(ctx context.Context, storyID int64) (*db.StoryDetail, error)
	GetEntity(ctx context.Context, entityID int64) (*db.EntityRecord, error)
	ListEntityConnections(ctx context.Context, entityID int64, limit int) ([]db.ConnectionRecord, error)
	ListJobRuns(ctx context.Context, jobType string, limit int) ([]db.JobRunRecord, error)
}

var _ Store = (*db.Pool)(nil)

// JobController exposes the guard to the API.
type JobController interface {
	Status() []jobs.Status
	StatusOf(jobType jobs.Type) jobs.Status
	Start(ctx context.Context, jobType jobs.Type, fn func(ctx context.Context) (jobs.Result, error)) (jobs.Ticket, <-chan struct{}, error)
}

var _ JobController = (*jobs.Guard)(nil)

// MetricsSource reports the process's collected instruments.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]telemetry.Point, error)
}

var _ MetricsSource = (*telemetry.Provider)(nil)

// JobFunc is the body of one job type, as triggered manually.
type JobFunc func(ctx context.Context) (jobs.Result, error)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Metrics         MetricsSource
}

type Server struct {
	store    Store
	jobs     JobController
	triggers map[jobs.Type]JobFunc
	logger   zerolog.Logger
	opts     Options
}

func NewServer(store Store, controller JobController, triggers map[jobs.Type]JobFunc, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if triggers == nil {
		triggers = map[jobs.Type]JobFunc{}
	}

	return &Server{
		store:    store,
		jobs:     controller,
		triggers: triggers,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			Metrics:         opts.Metrics,
		},
	}
}

// Handler builds the echo router without binding a listener.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/jobs", s.handleJobs)
	api.GET("/jobs/:type", s.handleJob)
	api.POST("/jobs/:type/run", s.handleRunJob)
	api.GET("/stories/:id", s.handleStoryDetail)
	api.GET("/entities/:id/connections", s.handleEntityConnections)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil || s.jobs == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("storyline api server started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("storyline api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("uri", c.Request().URL.Path).Msg("unhandled http error")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "storyline",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	if s.opts.Metrics == nil {
		return failNotFound(c, "Metrics are not enabled")
	}
	points, err := s.opts.Metrics.Snapshot(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("collect metrics failed")
		return internalError(c, "Failed to collect metrics")
	}
	return success(c, map[string]any{
		"items": points,
	})
}

func (s *Server) handleJobs(c echo.Context) error {
	return success(c, map[string]any{
		"items": s.jobs.Status(),
	})
}

func (s *Server) handleJob(c echo.Context) error {
	jobType, ok := jobs.ParseType(strings.TrimSpace(c.Param("type")))
	if !ok {
		return failNotFound(c, "Unknown job type")
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), 10, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	runs, err := s.store.ListJobRuns(c.Request().Context(), string(jobType), limit)
	if err != nil {
		s.logger.Error().Err(err).Str("job_type", string(jobType)).Msg("query job runs failed")
		return internalError(c, "Failed to load job runs")
	}

	return success(c, map[string]any{
		"status": s.jobs.StatusOf(jobType),
		"runs":   runs,
	})
}

func (s *Server) handleRunJob(c echo.Context) error {
	jobType, ok := jobs.ParseType(strings.TrimSpace(c.Param("type")))
	if !ok {
		return failNotFound(c, "Unknown job type")
	}
	trigger, ok := s.triggers[jobType]
	if !ok || trigger == nil {
		return failNotFound(c, "Job type cannot be triggered manually")
	}

	ticket, _, err := s.jobs.Start(c.Request().Context(), jobType, trigger)
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		return failConflict(c, "Job already running", map[string]any{
			"status": s.jobs.StatusOf(jobType),
		})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_type", string(jobType)).Msg("start job failed")
		return internalError(c, "Failed to start job")
	}

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"job_type":   jobType,
		"run_id":     ticket.RunID,
		"started_at": ticket.StartedAt,
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storyID, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	detail, err := s.store.GetStoryDetail(c.Request().Context(), storyID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Int64("story_id", storyID).Msg("query story detail failed")
		return internalError(c, "Failed to load story")
	}
	return success(c, detail)
}

func (s *Server) handleEntityConnections(c echo.Context) error {
	entityID, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	ctx := c.Request().Context()
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Entity not found")
		}
		s.logger.Error().Err(err).Int64("entity_id", entityID).Msg("query entity failed")
		return internalError(c, "Failed to load entity")
	}

	connections, err := s.store.ListEntityConnections(ctx, entityID, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("entity_id", entityID).Msg("query entity connections failed")
		return internalError(c, "Failed to load entity connections")
	}

	return success(c, map[string]any{
		"entity": entity,
		"items":  connections,
		"limit":  limit,
	})
}

func parseID(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func parsePositiveInt(raw string, fallback, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
