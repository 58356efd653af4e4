// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package api exposes retrieval, upload notifications and status lookups over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/queue"
	"github.com/poiesic/folio/retrieval"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Asker answers questions for a tenant.
type Asker interface {
	Ask(ctx context.Context, tenant core.TenantID, sessionID, query string) (*retrieval.Answer, error)
}

// Store is the read side the status endpoints need.
type Store interface {
	GetDocument(ctx context.Context, tenant core.TenantID, id core.ID) (*core.Document, error)
	RecentTurns(ctx context.Context, tenant core.TenantID, sessionID string, n int) ([]core.Turn, error)
}

// DefaultSessionTurns is how many turns GET session returns without a limit.
const DefaultSessionTurns = 50

// Server serves the HTTP API.
type Server struct {
	asker   Asker
	store   Store
	uploads queue.Publisher
	logger  *slog.Logger
	metrics http.Handler
	engine  *gin.Engine
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithUploads enables POST /v1/notifications.
func WithUploads(uploads queue.Publisher) Option {
	return func(s *Server) error {
		s.uploads = uploads
		return nil
	}
}

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metrics = h
		return nil
	}
}

// NewServer creates a Server and registers its routes.
func NewServer(asker Asker, store Store, opts ...Option) (*Server, error) {
	if asker == nil {
		return nil, ErrAskerRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	s := &Server{
		asker:   asker,
		store:   store,
		logger:  slog.Default(),
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "api")
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.errorHandler())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics))

	v1 := r.Group("/v1")
	v1.POST("/query", s.query)
	v1.POST("/notifications", s.notify)
	v1.GET("/tenants/:tenant/documents/:id", s.document)
	v1.GET("/tenants/:tenant/sessions/:session", s.session)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
