package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/errs"
)

type envelope struct {
	Success bool `json:"success"`
}

var success = envelope{Success: true}

type errorResponse struct {
	envelope
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// statusFor maps service errors onto HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, errs.ErrExpired):
		return http.StatusNotFound, "share expired"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "too many failed login attempts, try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes err as an error envelope. Internal errors are logged, never returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		if errors.Is(err, context.Canceled) {
			s.log.Debug("request canceled", zap.String("path", r.URL.Path))
		} else {
			s.log.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
		}
	case http.StatusTooManyRequests:
		retry := s.cfg.RetryAfter
		var rl *errs.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			retry = rl.RetryAfter
		}
		if retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		}
	}
	writeError(w, r, status, msg)
}

// decodeJSON reads at most maxJSONBytes of r.Body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("", "request body is empty")
		}
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return errs.Validation("", "malformed JSON body")
	}
	return nil
}
