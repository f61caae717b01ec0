// Package response writes the JSON envelopes used by every API endpoint.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// maxBodyBytes bounds request bodies read by Decode.
const maxBodyBytes = 1 << 20

// Meta contains response metadata.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
}

// SuccessResponse is the standard success response format.
type SuccessResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// JSON writes a success response with data.
func JSON(w http.ResponseWriter, status int, data any) {
	resp := SuccessResponse{
		Data: data,
		Meta: Meta{Timestamp: time.Now().UTC()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Error writes an error response. Errors outside core.Error are reported
// as INTERNAL_ERROR without their text.
func Error(w http.ResponseWriter, status int, err error) {
	detail := ErrorDetail{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		detail.Code = coreErr.Code
		detail.Message = coreErr.Message
		if coreErr.Cause != nil {
			detail.Cause = coreErr.Cause.Error()
		}
	}

	resp := ErrorResponse{Error: detail}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Fail writes err with the status StatusFor picks.
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err)
}

// StatusFor maps a core error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrStrategyNotFound),
		errors.Is(err, core.ErrPositionNotFound),
		errors.Is(err, core.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConfigInvalid),
		errors.Is(err, core.ErrConfigMissing),
		errors.Is(err, core.ErrInsufficientData):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrEngineStopped),
		errors.Is(err, core.ErrPositionExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrOrderFailed),
		errors.Is(err, core.ErrAdvisorFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v, rejecting unknown fields and trailing
// data. Failures are ErrConfigInvalid.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("request body: %w", err))
	}
	if dec.More() {
		return core.WrapError(core.ErrConfigInvalid, errors.New("request body: trailing data"))
	}
	return nil
}
