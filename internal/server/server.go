// Package server exposes the clearance gateway over HTTP. It is a thin
// inbound adapter: all session, submission and query semantics live in the
// core packages.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/pkg/clearance"
)

// LocalIDHeader carries the caller's correlation id on submit requests.
const LocalIDHeader = "X-Local-Id"

// Config holds server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	router *gin.Engine
	client *clearance.Client
}

// NewServer creates an API server around a clearance client.
func NewServer(config *Config, client *clearance.Client) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config: config,
		router: router,
		client: client,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.client.MetricsGatherer(), promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invoices", s.handleSubmit)
		v1.GET("/invoices/:localId", s.handleStatus)
		v1.POST("/invoices/:localId/await", s.handleAwait)
		v1.DELETE("/invoices/:localId", s.handleAcknowledge)
		v1.GET("/query", s.handleQuery)
		v1.GET("/downloads/:referenceNumber", s.handleDownload)
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		SessionState: string(s.client.SessionState()),
		Time:         time.Now().UTC(),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body"})
		return
	}

	sub, err := s.client.SubmitInvoice(c.Request.Context(),
		c.GetHeader(LocalIDHeader), body, c.ContentType())
	if err != nil {
		s.writeError(c, err, &sub)
		return
	}
	c.JSON(http.StatusAccepted, SubmissionResponse{Submission: sub})
}

func (s *Server) handleStatus(c *gin.Context) {
	sub, err := s.client.GetSubmissionStatus(c.Param("localId"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Submission: sub})
}

func (s *Server) handleAwait(c *gin.Context) {
	timeout := 2 * time.Minute
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid timeout"})
			return
		}
		timeout = d
	}

	sub, err := s.client.AwaitOutcome(c.Request.Context(), c.Param("localId"), timeout)
	if err != nil {
		s.writeError(c, err, &sub)
		return
	}
	c.JSON(http.StatusOK, SubmissionResponse{Submission: sub})
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	if err := s.client.AcknowledgeSubmission(c.Param("localId")); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleQuery(c *gin.Context) {
	var filter model.QueryFilter
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid since timestamp"})
			return
		}
		filter.Since = t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid until timestamp"})
			return
		}
		filter.Until = t
	}
	filter.SubjectTaxID = c.Query("subjectTaxId")
	if raw := c.Query("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid pageSize"})
			return
		}
		filter.PageSize = n
	}

	var cursor *model.QueryCursor
	if raw := c.Query("cursor"); raw != "" {
		decoded, err := decodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid cursor"})
			return
		}
		cursor = decoded
	}

	entries, next, err := s.client.ListInvoices(c.Request.Context(), filter, cursor)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	resp := ListResponse{Entries: entries}
	if next != nil {
		resp.Cursor = encodeCursor(next)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDownload(c *gin.Context) {
	inv, err := s.client.DownloadInvoice(c.Request.Context(), c.Param("referenceNumber"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	c.Header("X-Invoice-Hash", inv.DeclaredHash)
	c.Data(http.StatusOK, "application/octet-stream", inv.Content)
}

// writeError maps the core error taxonomy to HTTP statuses. The submission
// state at the time of failure rides along when available, so API clients
// can decide on manual retry.
func (s *Server) writeError(c *gin.Context, err error, sub *model.Submission) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidationRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrAmbiguousSubmission):
		status = http.StatusConflict
	case errors.Is(err, model.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, model.ErrAuthRejected):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrAuthUnavailable), errors.Is(err, model.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrSessionOpenFailed), errors.Is(err, model.ErrIntegrityViolation):
		status = http.StatusBadGateway
	case errors.Is(err, model.ErrCursorInvalidated):
		status = http.StatusGone
	}

	var gwErr *model.Error
	kind := ""
	if errors.As(err, &gwErr) {
		kind = string(gwErr.Kind)
		if gwErr.Submission != nil {
			sub = gwErr.Submission
		}
	}

	if sub != nil && sub.LocalID != "" {
		c.JSON(status, SubmissionResponse{Submission: *sub, Error: err.Error()})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}

// Cursors cross the HTTP boundary as base64-encoded JSON so clients treat
// them as opaque tokens.

func encodeCursor(cursor *model.QueryCursor) string {
	raw, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(raw)
}

func decodeCursor(raw string) (*model.QueryCursor, error) {
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var cursor model.QueryCursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}
