package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/pipeline"
	"github.com/harmlens/harmlens/signals"
	"github.com/harmlens/harmlens/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
)

type Server struct {
	eng    *Engine
	notify *notify.Dispatcher
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger

	adminPassword string
}

type Config struct {
	Logger        *slog.Logger
	Bind          string
	AdminPassword string
	// optional; only used for reporting delivery stats
	Notify *notify.Dispatcher
}

func NewServer(eng *Engine, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		eng:           eng,
		notify:        config.Notify,
		echo:          e,
		logger:        logger,
		adminPassword: config.AdminPassword,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("4M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)

	api := e.Group("/api/v1")
	admin := srv.adminAuthMiddleware()

	api.POST("/analyze", srv.HandleAnalyze, admin)
	api.POST("/analyze/batch", srv.HandleAnalyzeBatch, admin)

	api.GET("/queue/:name", srv.HandleQueueList)
	api.POST("/queue/entries/:id/review", srv.HandleQueueReview, admin)

	api.POST("/escalations", srv.HandleEscalationCreate, admin)
	api.GET("/escalations", srv.HandleEscalationList)
	api.GET("/escalations/:id", srv.HandleEscalationGet)
	api.PATCH("/escalations/:id", srv.HandleEscalationUpdate, admin)

	api.GET("/audit/verify", srv.HandleAuditVerifyChain)
	api.GET("/audit/:content_id", srv.HandleAuditGet)
	api.GET("/audit/:content_id/history", srv.HandleAuditHistory)
	api.GET("/audit/:content_id/verify", srv.HandleAuditVerify)

	api.GET("/stats", srv.HandleStats)

	return srv
}

// adminAuthMiddleware requires HTTP basic auth, username "admin", when an admin password is configured.
func (srv *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			return srv.adminPassword == ""
		},
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(srv.adminPassword)) == 1 {
				return true, nil
			}
			srv.logger.Warn("admin auth failed", "username", username, "path", c.Path())
			return false, nil
		},
		Realm: "harmlens",
	})
}

// errorHandler renders handler errors as GenericError JSON, mapping domain errors to status codes.
func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	name := "InternalError"
	msg := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		name = http.StatusText(code)
		msg = fmt.Sprintf("%v", he.Message)
	case errors.Is(err, store.ErrNotFound):
		code, name = http.StatusNotFound, "NotFound"
	case errors.Is(err, store.ErrConflict):
		code, name = http.StatusConflict, "Conflict"
	case errors.Is(err, signals.ErrInvalidSignal):
		code, name = http.StatusBadRequest, "InvalidSignal"
	case pipeline.IsClientError(err):
		code, name = http.StatusBadRequest, "InvalidRequest"
	case store.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		code, name = http.StatusServiceUnavailable, "Unavailable"
	}

	if code >= 500 {
		srv.logger.Warn("harmlens-http-internal-error", "err", err, "path", c.Path())
		if code == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, GenericError{Error: name, Message: msg})
	}
	if err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
