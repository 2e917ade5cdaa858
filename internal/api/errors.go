package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/upc-lookup/internal/errors"
	"github.com/tphakala/upc-lookup/internal/logger"
)

// Error codes returned in ErrorResponse.Error.
const (
	codeInvalidInput        = "invalid_input"
	codeNotFound            = "not_found"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeQueueUnavailable    = "queue_unavailable"
	codeInternal            = "internal_error"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // matches the server log line
}

// statusFor maps the error taxonomy to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest, codeInvalidInput
	case errors.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case errors.IsTransient(err):
		return http.StatusBadGateway, codeUpstreamUnavailable
	case errors.IsCategory(err, errors.CategoryJobQueue):
		return http.StatusServiceUnavailable, codeQueueUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// HandleError logs err under a fresh correlation ID and writes the mapped
// JSON error response. message is shown to the client; internal error
// details are only shown for client errors.
func (s *Server) HandleError(c echo.Context, err error, message string) error {
	code, kind := statusFor(err)

	resp := ErrorResponse{
		Error:         kind,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if code < http.StatusInternalServerError && err != nil {
		resp.Message = message + ": " + errors.ScrubMessage(err.Error())
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
		logger.String("ip", c.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("API error", fields...)
	} else {
		s.log.Debug("API client error", fields...)
	}

	return c.JSON(code, resp)
}

// httpErrorHandler renders errors returned by echo itself (unknown
// routes, body limit, method not allowed) in the same JSON shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
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

	kind := codeInternal
	switch {
	case code == http.StatusNotFound:
		kind = codeNotFound
	case code < http.StatusInternalServerError:
		kind = codeInvalidInput
	}

	resp := ErrorResponse{
		Error:         kind,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("unhandled HTTP error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.log.Warn("failed to write error response", logger.Error(err))
	}
}
