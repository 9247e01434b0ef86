package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dd0wney/roadnet/pkg/api/middleware"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/validation"
)

// retryAfterSeconds is sent with 409 responses to lock conflicts.
const retryAfterSeconds = 1

// requestDecoder decodes and validates request bodies.
// It provides a fluent interface for common request handling patterns.
type requestDecoder struct {
	r          *http.Request
	w          http.ResponseWriter
	server     *Server
	err        error
	statusCode int
}

// NewRequestDecoder creates a new request decoder for the given request.
func (s *Server) NewRequestDecoder(w http.ResponseWriter, r *http.Request) *requestDecoder {
	return &requestDecoder{
		r:      r,
		w:      w,
		server: s,
	}
}

// DecodeJSON decodes the request body into the provided struct.
// Returns the decoder for chaining. Check HasError() after calling.
func (rd *requestDecoder) DecodeJSON(v any) *requestDecoder {
	if rd.err != nil {
		return rd
	}
	dec := json.NewDecoder(rd.r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		rd.err = fmt.Errorf("invalid request body: %w", err)
		rd.statusCode = http.StatusBadRequest
	}
	return rd
}

// ValidateCustomer validates a customer creation request.
// Returns the decoder for chaining.
func (rd *requestDecoder) ValidateCustomer(req *CustomerRequest) *requestDecoder {
	if rd.err != nil {
		return rd
	}
	if err := validation.ValidateCustomerRequest(&validation.CustomerRequest{Name: req.Name}); err != nil {
		rd.err = err
		rd.statusCode = http.StatusBadRequest
	}
	return rd
}

// HasError returns true if any error occurred during decoding/validation.
func (rd *requestDecoder) HasError() bool {
	return rd.err != nil
}

// Error returns the error if any occurred.
func (rd *requestDecoder) Error() error {
	return rd.err
}

// RespondError sends the error response and returns true if there was an error.
// Returns false if no error occurred.
func (rd *requestDecoder) RespondError() bool {
	if rd.err == nil {
		return false
	}
	rd.server.respondError(rd.w, rd.statusCode, rd.err.Error())
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, roadnet.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, roadnet.ErrCustomerExists),
		errors.Is(err, roadnet.ErrReconciliationConflict):
		return http.StatusConflict
	case errors.Is(err, roadnet.ErrNetworkNotFound),
		errors.Is(err, roadnet.ErrNoEdgesAtInstant):
		return http.StatusNotFound
	case errors.Is(err, roadnet.ErrNetworkExists),
		errors.Is(err, roadnet.ErrDuplicateVersion),
		errors.Is(err, roadnet.ErrNameMismatch),
		errors.Is(err, roadnet.ErrInvalidFilename),
		errors.Is(err, roadnet.ErrInvalidCandidateEdge),
		errors.Is(err, roadnet.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with the status of its kind. Storage
// failures are logged and reported without detail.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.RequestID(middleware.GetRequestID(r)),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		message = "internal error"
	}
	if roadnet.IsRetryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	s.respondError(w, status, message)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	s.respondJSON(w, status, response)
}
