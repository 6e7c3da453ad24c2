// Package gatewayerr implements the ExceptionMapper (spec §4.7): the single
// sink that turns a domain.GatewayError, or any unexpected error, into an
// ErrorEnvelope on the wire, and logs it at a severity derived from status.
//
// Grounded on the teacher's internal/codec/errors.go WriteError single-sink
// pattern, generalized from its per-API-type formatter dispatch to this
// gateway's one wire shape, and extended with the structured-logging and
// body-field redaction the teacher's formatter-only design didn't need.
package gatewayerr

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/riftgate/gateway/internal/domain"
)

// redactedFields are body fields whose values are replaced with "[redacted]"
// before a request/response body is logged (never before it reaches the
// client — the envelope itself never carries secret material).
var redactedFields = map[string]struct{}{
	"password":    {},
	"apiKey":      {},
	"api_key":     {},
	"data_base64": {},
}

// Mapper writes ErrorEnvelopes and logs failures at a severity derived from
// HTTP status.
type Mapper struct {
	logger *slog.Logger
}

// New builds a Mapper.
func New(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{logger: logger}
}

// Write maps err to an ErrorEnvelope and writes it to w. Any error that is
// not already a *domain.GatewayError is treated as InternalServerError — the
// mapper is the only place an unexpected error is allowed to surface.
func (m *Mapper) Write(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	gerr, ok := err.(*domain.GatewayError)
	if !ok {
		gerr = domain.NewInternal("an unexpected error occurred").WithCause(err)
	}

	envelope := domain.NewErrorEnvelope(gerr, r.URL.Path, requestID)
	status := gerr.HTTPStatusCode()

	m.log(status, gerr, requestID, r)

	body, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		m.logger.Error("failed to marshal error envelope", slog.String("error", marshalErr.Error()))
		body = []byte(`{"error":"InternalServerError","message":"an unexpected error occurred"}`)
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (m *Mapper) log(status int, gerr *domain.GatewayError, requestID string, r *http.Request) {
	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error_type", string(gerr.Type)),
		slog.String("error_code", string(gerr.Code)),
	}
	if gerr.Cause != nil {
		attrs = append(attrs, slog.String("cause", gerr.Cause.Error()))
	}

	switch {
	case status >= 500:
		m.logger.Error("request failed", attrs...)
	case status >= 400:
		m.logger.Warn("request rejected", attrs...)
	default:
		m.logger.Info("request completed with error envelope", attrs...)
	}
}

// RedactBody returns a shallow copy of a JSON object body with any
// redactedFields values replaced, for safe inclusion in logs. Non-object
// or unparsable bodies are returned unchanged.
func RedactBody(body []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	changed := false
	for field := range redactedFields {
		if _, ok := obj[field]; ok {
			obj[field] = json.RawMessage(`"[redacted]"`)
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}
