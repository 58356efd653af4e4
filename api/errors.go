package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/retrieval"
	"github.com/poiesic/folio/storage"
)

var (
	// ErrAskerRequired is returned when no retrieval engine is provided.
	ErrAskerRequired = errors.New("asker required")

	// ErrStoreRequired is returned when no store is provided.
	ErrStoreRequired = errors.New("store required")

	// ErrNotificationsDisabled is returned when the server has no uploads publisher.
	ErrNotificationsDisabled = errors.New("notifications are not enabled on this server")
)

// APIError is an error with the HTTP status it maps to.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func invalidInput(err error) *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: "invalid input", Err: err}
}

func notFound(err error) *APIError {
	return &APIError{Status: http.StatusNotFound, Message: "not found", Err: err}
}

// classify maps domain errors onto HTTP statuses.
func classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var genErr *core.GenerationError
	var embedErr *core.EmbeddingError
	var storeErr *core.StoreError
	switch {
	case errors.Is(err, core.ErrInvalidTenant),
		errors.Is(err, core.ErrInvalidSession),
		errors.Is(err, core.ErrInvalidNotification),
		errors.Is(err, core.ErrInvalidID),
		errors.Is(err, core.ErrInvalidTurn),
		errors.Is(err, retrieval.ErrEmptyQuery):
		return invalidInput(err)
	case errors.Is(err, storage.ErrNotFound):
		return notFound(err)
	case errors.Is(err, retrieval.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusGatewayTimeout, Message: "request timed out", Err: err}
	case errors.As(err, &genErr):
		return &APIError{Status: http.StatusBadGateway, Message: "answer generation failed", Err: err}
	case errors.As(err, &embedErr) && embedErr.Kind != core.EmbeddingInvalidInput:
		return &APIError{Status: http.StatusServiceUnavailable, Message: "embedding service unavailable", Err: err}
	case errors.As(err, &embedErr):
		return invalidInput(err)
	case errors.As(err, &storeErr), errors.Is(err, ErrNotificationsDisabled):
		return &APIError{Status: http.StatusServiceUnavailable, Message: "temporarily unavailable", Err: err}
	}
	return &APIError{Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

// errorHandler renders the last error attached to the context.
func (s *Server) errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		apiErr := classify(c.Errors.Last().Err)
		if apiErr.Status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "path", c.FullPath(), "status", apiErr.Status, "error", apiErr.Err)
		} else {
			s.logger.Debug("request rejected", "path", c.FullPath(), "status", apiErr.Status, "error", apiErr.Err)
		}

		body := gin.H{"error": apiErr.Message}
		if apiErr.Status < http.StatusInternalServerError && apiErr.Err != nil {
			body["detail"] = apiErr.Err.Error()
		}
		c.AbortWithStatusJSON(apiErr.Status, body)
	}
}
