package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "credits/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies accepted by DecodeAndPrepare.
const maxBodyBytes = 1 << 20

// Validatable is implemented by request DTOs that normalise and validate themselves.
type Validatable interface {
	Validate() error
}

// Detailer is implemented by errors that expose structured, client-safe details
// (for example the available and required amounts of an insufficient balance).
type Detailer interface {
	ErrorDetails() map[string]any
}

type errorResponse struct {
	Error       string         `json:"error"`
	Description string         `json:"error_description,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and writes an error body. Internal errors never
// leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := errorResponse{Error: string(code)}
	if status < http.StatusInternalServerError {
		resp.Description = dErrors.Message(err)
		var d Detailer
		if errors.As(err, &d) {
			resp.Details = d.ErrorDetails()
		}
	}
	WriteJSON(w, status, resp)
}

// DecodeAndPrepare decodes a JSON body into T and runs its Validate method,
// writing the error response itself when either step fails.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := PT(&req).Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}
