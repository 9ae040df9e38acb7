package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/spectrum-scan/rfscan/internal/device"
	"github.com/spectrum-scan/rfscan/internal/plan"
	"github.com/spectrum-scan/rfscan/internal/store"
)

// Response is the unified envelope for every JSON endpoint.
type Response struct {
	Result        string `json:"result"`
	Data          any    `json:"data,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// WriteSuccess writes an ok envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: uuid.NewString(),
	})
}

// WriteError writes an error envelope with the given status and code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeResponse(w, status, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		CorrelationID: uuid.NewString(),
	})
}

// WriteDomainError maps a domain error to its HTTP status and error code.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "scan not found")
	case errors.Is(err, device.ErrInvalidRange),
		errors.Is(err, plan.ErrFrequencyOrder),
		errors.Is(err, plan.ErrInvalidFrequency),
		errors.Is(err, plan.ErrInvalidResolution),
		errors.Is(err, plan.ErrNoRanges):
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, device.ErrBusy):
		WriteError(w, http.StatusServiceUnavailable, "BUSY",
			"device busy, retry with backoff")
	case errors.Is(err, device.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"device unavailable")
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"internal server error")
	}
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
