package domain

import "time"

// SuccessEnvelope is the uniform shape of every non-error gateway response.
type SuccessEnvelope struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data"`
	Metadata *Pagination `json:"metadata,omitempty"`
}

// Pagination carries list-response paging metadata, detected from the
// upstream body by the dispatcher's response normalizer.
type Pagination struct {
	Page       int  `json:"page,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Total      int  `json:"total,omitempty"`
	TotalPages int  `json:"totalPages,omitempty"`
	HasMore    bool `json:"hasMore,omitempty"`
}

// ErrorEnvelope is the uniform shape of every failed gateway response.
type ErrorEnvelope struct {
	Error            ErrorType              `json:"error"`
	Message          string                 `json:"message"`
	ErrorCode        ErrorCode              `json:"errorCode,omitempty"`
	ValidationErrors []ValidationFieldError `json:"validationErrors,omitempty"`
	Timestamp        string                 `json:"timestamp"`
	Path             string                 `json:"path"`
	RequestID        string                 `json:"requestId,omitempty"`
}

// NewErrorEnvelope stamps a GatewayError into its wire envelope.
func NewErrorEnvelope(gerr *GatewayError, path, requestID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Error:            gerr.Type,
		Message:          gerr.Message,
		ErrorCode:        gerr.Code,
		ValidationErrors: gerr.ValidationErrors,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Path:             path,
		RequestID:        requestID,
	}
}
