package util

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/cellvista/gateway/internal/observability"
)

// ErrorBody is the error member of the uniform response envelope.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Details string `json:"details,omitempty"`
}

// Envelope is the uniform JSON error envelope returned for every error.
type Envelope struct {
	Success   bool      `json:"success"`
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

// EnvelopeWriter renders errors as the uniform envelope. In production
// mode stack traces and internal details are withheld.
type EnvelopeWriter struct {
	Production bool
	Logger     observability.Logger
}

// NewEnvelopeWriter creates an EnvelopeWriter.
func NewEnvelopeWriter(production bool, logger observability.Logger) *EnvelopeWriter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &EnvelopeWriter{Production: production, Logger: logger}
}

// Write maps err to the taxonomy and writes the envelope. 5xx errors are
// logged with full context, 4xx at warning level without stacks.
func (ew *EnvelopeWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	ge := AsError(err)
	requestID := observability.RequestIDFromContext(r.Context())

	env := Envelope{
		Success: false,
		Error: ErrorBody{
			Type:    ge.Type,
			Message: ge.Message,
			Code:    ge.Code,
		},
		RequestID: requestID,
	}

	if ge.Status >= http.StatusInternalServerError {
		ew.Logger.Error("request failed",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("type", ge.Type),
			observability.Int("status", ge.Status),
			observability.String("request_id", requestID),
			observability.Error(err),
		)
		if !ew.Production {
			env.Error.Stack = string(debug.Stack())
			if ge.Cause != nil {
				env.Error.Details = ge.Cause.Error()
			}
		}
	} else {
		ew.Logger.Warn("request rejected",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("type", ge.Type),
			observability.Int("status", ge.Status),
			observability.String("request_id", requestID),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	_ = json.NewEncoder(w).Encode(env)
}
