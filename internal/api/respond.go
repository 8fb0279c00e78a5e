package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/identity"
)

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the booking error taxonomy onto HTTP. Internal errors are logged
// and answered without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		verr *booking.ValidationError
		perr *booking.PaymentError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: "invalid input", Fields: verr.Fields})
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, booking.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", "you are not allowed to perform this action")
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, booking.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, booking.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, booking.ErrServiceInUse):
		writeError(w, http.StatusConflict, "service_in_use", err.Error())
	case errors.Is(err, booking.ErrPaymentInProgress):
		writeError(w, http.StatusConflict, "payment_in_progress", err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusPaymentRequired, "payment_failed", perr.Reason)
	case errors.Is(err, booking.ErrUpstreamUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "payment processor unavailable, retry shortly")
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	code := "invalid_token"
	if errors.Is(err, identity.ErrMissingToken) {
		code = "missing_token"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="handyman"`)
	writeError(w, http.StatusUnauthorized, code, "a valid bearer token is required")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &booking.ValidationError{Fields: map[string]string{"body": "could not parse JSON: " + err.Error()}}
	}
	return nil
}
