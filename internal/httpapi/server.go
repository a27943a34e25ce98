// Package httpapi exposes the prefilter, finding lifecycle, and verdict
// recording over HTTP for the research dashboard.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/extraction"
	"github.com/sifralabs/mesora/internal/feedback"
	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/prefilter"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints for mesorad.
type Server struct {
	echo      *echo.Echo
	engine    *prefilter.Engine
	lifecycle *finding.Lifecycle
	findings  *finding.Store
	recorder  *feedback.Recorder
	extractor extraction.Client
	logger    *zap.Logger
	config    *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	engine *prefilter.Engine,
	lifecycle *finding.Lifecycle,
	findings *finding.Store,
	recorder *feedback.Recorder,
	extractor extraction.Client,
	logger *zap.Logger,
	cfg *Config,
) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("prefilter engine cannot be nil")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle cannot be nil")
	}
	if findings == nil {
		return nil, fmt.Errorf("finding store cannot be nil")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extraction client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8780}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		lifecycle: lifecycle,
		findings:  findings,
		recorder:  recorder,
		extractor: extractor,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/prefilter", s.handlePrefilter)
	v1.POST("/analyze", s.handleAnalyze)
	v1.GET("/findings", s.handleListFindings)
	v1.POST("/findings/:id/transition", s.handleTransition)
	v1.POST("/findings/:id/swap", s.handleSwap)
	v1.DELETE("/findings/:id", s.handleDelete)
	v1.POST("/verdicts", s.handleVerdict)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// SpanRequest is the request body for prefilter and analyze.
type SpanRequest struct {
	Span  string `json:"span"`
	Scope string `json:"scope"`
}

// AnalyzeResponse is the response body for POST /api/v1/analyze.
type AnalyzeResponse struct {
	Skipped  bool               `json:"skipped"`
	Reason   string             `json:"reason,omitempty"`
	Findings []*finding.Finding `json:"findings"`
}

// TransitionRequest is the request body for POST /api/v1/findings/:id/transition.
type TransitionRequest struct {
	Status          string `json:"status"`
	ErrorType       string `json:"error_type,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
	CorrectedSource string `json:"corrected_source,omitempty"`
}

// SwapRequest is the request body for POST /api/v1/findings/:id/swap.
type SwapRequest struct {
	Index int `json:"index"`
}

// VerdictRequest is the request body for POST /api/v1/verdicts.
type VerdictRequest struct {
	FindingID       string `json:"finding_id"`
	Positive        bool   `json:"positive"`
	ErrorType       string `json:"error_type,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
	CorrectedSource string `json:"corrected_source,omitempty"`
}

// VerdictResponse is the response body for POST /api/v1/verdicts.
type VerdictResponse struct {
	finding.VerdictReceipt
	Errors map[string]string `json:"errors,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handlePrefilter runs the decision engine alone, without extraction.
func (s *Server) handlePrefilter(c echo.Context) error {
	var req SpanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Span == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "span field is required")
	}
	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope field is required")
	}

	result, err := s.engine.Evaluate(c.Request().Context(), req.Span, req.Scope)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// handleAnalyze runs the full pipeline: prefilter decision, extraction
// when not skipped, merge, and persistence of the merged pending findings.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req SpanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Span == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "span field is required")
	}
	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope field is required")
	}

	ctx := c.Request().Context()
	result, err := s.engine.Evaluate(ctx, req.Span, req.Scope)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if result.Skip {
		return c.JSON(http.StatusOK, AnalyzeResponse{Skipped: true, Reason: result.Reason, Findings: []*finding.Finding{}})
	}

	extracted, err := s.extractor.Extract(ctx, req.Span, req.Scope)
	if err != nil {
		// Extraction failure still surfaces whatever the prefilter found.
		s.logger.Error("extraction failed",
			zap.String("scope", req.Scope),
			zap.Error(err))
		extracted = nil
	}

	merged := prefilter.MergeFindings(result.AutoFindings, extracted)
	for _, f := range merged {
		if err := s.findings.Put(ctx, f); err != nil {
			s.logger.Error("storing finding failed",
				zap.String("finding_id", f.ID),
				zap.Error(err))
		}
	}

	return c.JSON(http.StatusOK, AnalyzeResponse{Findings: merged})
}

func (s *Server) handleListFindings(c echo.Context) error {
	filter := finding.ListFilter{
		Scope:  c.QueryParam("scope"),
		Status: finding.Status(c.QueryParam("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
	}

	findings, err := s.findings.List(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if findings == nil {
		findings = []*finding.Finding{}
	}
	return c.JSON(http.StatusOK, findings)
}

func (s *Server) handleTransition(c echo.Context) error {
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	status := finding.Status(req.Status)
	if !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
	}

	meta := finding.VerdictMeta{
		ErrorType:       finding.ErrorType(req.ErrorType),
		Explanation:     req.Explanation,
		CorrectedSource: req.CorrectedSource,
	}

	f, err := s.lifecycle.Transition(c.Request().Context(), c.Param("id"), status, meta)
	if err != nil {
		return transitionError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) handleSwap(c echo.Context) error {
	var req SwapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	f, err := s.lifecycle.SwapCandidate(c.Request().Context(), c.Param("id"), req.Index)
	if err != nil {
		switch {
		case errors.Is(err, finding.ErrFindingNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, finding.ErrNoAlternative):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.lifecycle.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, finding.ErrFindingNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleVerdict records a verdict directly, outside a status transition.
// Partial store failures report per-store errors alongside whatever was
// written, as 207 Multi-Status.
func (s *Server) handleVerdict(c echo.Context) error {
	var req VerdictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FindingID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "finding_id field is required")
	}

	ctx := c.Request().Context()
	f, err := s.findings.Get(ctx, req.FindingID)
	if err != nil {
		if errors.Is(err, finding.ErrFindingNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	meta := finding.VerdictMeta{
		ErrorType:       finding.ErrorType(req.ErrorType),
		Explanation:     req.Explanation,
		CorrectedSource: req.CorrectedSource,
	}

	receipt, err := s.recorder.RecordVerdict(ctx, f, req.Positive, meta)
	if err != nil {
		var partial *feedback.PartialWriteError
		if errors.As(err, &partial) {
			resp := VerdictResponse{VerdictReceipt: receipt, Errors: map[string]string{}}
			if partial.GroundTruth != nil {
				resp.Errors["ground_truth"] = partial.GroundTruth.Error()
			}
			if partial.Training != nil {
				resp.Errors["training"] = partial.Training.Error()
			}
			return c.JSON(http.StatusMultiStatus, resp)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, VerdictResponse{VerdictReceipt: receipt})
}

// transitionError maps lifecycle errors to HTTP status codes: unknown
// findings are 404, state conflicts (stale or illegal transitions) 409.
func transitionError(err error) error {
	switch {
	case errors.Is(err, finding.ErrFindingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, finding.ErrStatusConflict), errors.Is(err, finding.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
