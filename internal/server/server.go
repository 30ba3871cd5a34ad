// Package server exposes the ingestion and curation triggers over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/deusflow/newsdesk/internal/apperr"
	"github.com/deusflow/newsdesk/internal/logger"
	"github.com/deusflow/newsdesk/internal/metrics"
	"github.com/deusflow/newsdesk/internal/photo"
	"github.com/deusflow/newsdesk/internal/pipeline"
	"github.com/deusflow/newsdesk/internal/storage"
)

type NewsRunner interface {
	Run(ctx context.Context, req pipeline.NewsRequest) (pipeline.NewsReport, error)
}

type CurationRunner interface {
	Run(ctx context.Context, req pipeline.CurationRequest) (pipeline.CurationReport, error)
}

// BudgetReporter exposes provider call budget usage.
type BudgetReporter interface {
	Stats() map[string]any
}

type Deps struct {
	Budget   BudgetReporter
	News     NewsRunner
	Curation CurationRunner
	Runs     storage.RunStore
	Photos   storage.PhotoStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Server struct {
	echo     *echo.Echo
	budget   BudgetReporter
	news     NewsRunner
	curation CurationRunner
	runs     storage.RunStore
	photos   storage.PhotoStore
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New builds the router. Trigger and run endpoints require secret;
// health, metrics and hero photo reads are open.
func New(secret string, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		echo:     echo.New(),
		budget:   d.Budget,
		news:     d.News,
		curation: d.Curation,
		runs:     d.Runs,
		photos:   d.Photos,
		metrics:  d.Metrics,
		log:      logger.Component(log, "server"),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", s.health)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.GET("/v1/places/:slug/photo", s.activePhoto)

	v1 := e.Group("/v1", RequireSecret(secret))
	v1.POST("/ingest/news", s.ingestNews)
	v1.POST("/curate/photos", s.curatePhotos)
	v1.GET("/runs", s.recentRuns)
	v1.GET("/runs/:id", s.getRun)
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutting down http server")
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Info("request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) fail(c echo.Context, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}

type newsResponse struct {
	pipeline.NewsReport
	Error string `json:"error,omitempty"`
}

func (s *Server) ingestNews(c echo.Context) error {
	var req pipeline.NewsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	qp := c.QueryParams()
	req.Queries = append(req.Queries, qp["query"]...)
	req.Sources = append(req.Sources, qp["source"]...)
	if v := c.QueryParam("limit"); v != "" && req.Limit == 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s.fail(c, apperr.Validation("limit must be a number"))
		}
		req.Limit = n
	}

	rep, err := s.news.Run(c.Request().Context(), req)
	if err != nil {
		if rep.RunID == "" {
			return s.fail(c, err)
		}
		s.log.Error("news run failed", "run_id", rep.RunID, "error", err)
		return c.JSON(apperr.HTTPStatus(err), newsResponse{NewsReport: rep, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, newsResponse{NewsReport: rep})
}

type curationResponse struct {
	pipeline.CurationReport
	Error string `json:"error,omitempty"`
}

func (s *Server) curatePhotos(c echo.Context) error {
	var req pipeline.CurationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.Slugs = append(req.Slugs, c.QueryParams()["slug"]...)

	rep, err := s.curation.Run(c.Request().Context(), req)
	if err != nil {
		if rep.RunID == "" {
			return s.fail(c, err)
		}
		return c.JSON(apperr.HTTPStatus(err), curationResponse{CurationReport: rep, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, curationResponse{CurationReport: rep})
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) recentRuns(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return s.fail(c, apperr.Validation("limit must be between 1 and 100"))
		}
		limit = n
	}
	runs, err := s.runs.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) activePhoto(c echo.Context) error {
	slug := c.Param("slug")
	if !photo.ValidSlug(slug) {
		return s.fail(c, apperr.Validation("invalid place identifier %q", slug))
	}
	p, err := s.photos.ActivePhoto(c.Request().Context(), slug)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// health reports 503 while the most recent run failed.
func (s *Server) health(c echo.Context) error {
	body := map[string]any{"status": "ok"}
	code := http.StatusOK
	if s.budget != nil {
		body["provider_budget"] = s.budget.Stats()
	}
	if s.metrics != nil {
		h := s.metrics.Health()
		body["last_run"] = h
		if !h.IsHealthy {
			body["status"] = "error"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, body)
}
