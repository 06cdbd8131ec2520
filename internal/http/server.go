// Package http serves the task API.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/task"
	"github.com/fyrsmithlabs/pagesmith/internal/workflow"
)

// HeaderInvocationID carries the workflow invocation id on task responses.
const HeaderInvocationID = "X-Invocation-ID"

// Runner executes one task invocation.
type Runner interface {
	Run(ctx context.Context, req task.Request) (*workflow.Result, error)
}

var _ Runner = (*workflow.Runner)(nil)

// Server provides HTTP endpoints for pagesmith.
type Server struct {
	echo     *echo.Echo
	runner   Runner
	logger   *logging.Logger
	config   config.ServerConfig
	secret   config.Secret
	metrics  *HTTPMetrics
	limiters *clientLimiters
}

// NewServer creates a new HTTP server. secret gates POST /handle_task; an
// unset secret rejects every request on that route.
func NewServer(runner Runner, cfg config.ServerConfig, secret config.Secret, logger *logging.Logger, meter metric.Meter) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.HTTPErrorHandler = jsonErrorHandler(e)

	s := &Server{
		echo:     e,
		runner:   runner,
		logger:   logger,
		config:   cfg,
		secret:   secret,
		metrics:  NewHTTPMetrics(meter, logger),
		limiters: newClientLimiters(cfg.RateLimit, cfg.RateBurst),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.contextMiddleware())
	e.Use(s.logMiddleware())
	e.Use(compressMiddleware())
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := s.rateLimitMiddleware()
	if s.config.OpenEndpointEnabled() {
		s.echo.POST("/api-endpoint", s.handleOpenTask, limit)
	}
	s.echo.POST("/handle_task", s.handleAuthenticatedTask, limit)
}

// contextMiddleware joins the caller's trace and tags the request context
// with the request id and a request-scoped logger.
func (s *Server) contextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
			ctx = logging.WithLogger(ctx, s.logger)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) logMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
			)
			return err
		}
	}
}

func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !s.limiters.Allow(ip) {
				s.logger.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", ip))
				s.metrics.Reject(c, "rate_limited")
				return c.JSON(http.StatusTooManyRequests, newErrorResponse("rate limit exceeded", task.Identity{}))
			}
			return next(c)
		}
	}
}

// statusHealthy is reported by GET /health.
const statusHealthy = "healthy"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: statusHealthy})
}

func (s *Server) handleOpenTask(c echo.Context) error {
	body, err := s.readBody(c)
	if err != nil {
		return s.rejectInvalid(c, err, task.Identity{})
	}
	req, id, err := task.Decode(body)
	if err != nil {
		return s.rejectInvalid(c, err, id)
	}
	return s.runTask(c, req)
}

// handleAuthenticatedTask checks the shared secret before anything else
// about the request is looked at.
func (s *Server) handleAuthenticatedTask(c echo.Context) error {
	body, readErr := s.readBody(c)
	if !s.authorized(presentedSecret(body)) {
		s.logger.Warn(c.Request().Context(), "invalid task secret", zap.String("ip", c.RealIP()))
		s.metrics.Reject(c, "unauthorized")
		return c.JSON(http.StatusUnauthorized, newErrorResponse("invalid secret", task.Identity{}))
	}
	if readErr != nil {
		return s.rejectInvalid(c, readErr, task.Identity{})
	}
	req, id, err := task.Decode(body)
	if err != nil {
		return s.rejectInvalid(c, err, id)
	}
	return s.runTask(c, req)
}

func presentedSecret(body []byte) string {
	var v struct {
		Secret string `json:"secret"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return v.Secret
}

// authorized compares the presented secret in constant time. With no
// configured secret nothing is authorized.
func (s *Server) authorized(presented string) bool {
	if !s.secret.IsSet() || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret.Value())) == 1
}

// readBody reads at most MaxBodyBytes of the request body.
func (s *Server) readBody(c echo.Context) ([]byte, error) {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, &task.ValidationError{Message: "failed to read request body"}
	}
	return body, nil
}

var errBodyTooLarge = errors.New("request body too large")

func (s *Server) rejectInvalid(c echo.Context, err error, id task.Identity) error {
	ctx := c.Request().Context()
	if errors.Is(err, errBodyTooLarge) {
		s.metrics.Reject(c, "too_large")
		return c.JSON(http.StatusRequestEntityTooLarge, newErrorResponse(err.Error(), id))
	}
	s.logger.Info(ctx, "rejected invalid task request", zap.Error(err))
	s.metrics.Reject(c, "invalid")
	return c.JSON(http.StatusBadRequest, newErrorResponse(err.Error(), id))
}

func (s *Server) runTask(c echo.Context, req task.Request) error {
	ctx := c.Request().Context()
	res, err := s.runner.Run(ctx, req)
	if res != nil && res.InvocationID != "" {
		c.Response().Header().Set(HeaderInvocationID, res.InvocationID)
	}

	if err != nil {
		id := task.IdentityOf(req)
		if res != nil {
			id = res.Identity
		}
		if errors.Is(err, task.ErrInvalidRequest) {
			return c.JSON(http.StatusBadRequest, newErrorResponse(err.Error(), id))
		}
		return c.JSON(http.StatusInternalServerError, newErrorResponse(err.Error(), id))
	}
	return c.JSON(http.StatusOK, newTaskResponse(req, res))
}

// jsonErrorHandler renders echo errors in the task error shape.
func jsonErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(code)
			}
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, newErrorResponse(message, task.Identity{}))
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
