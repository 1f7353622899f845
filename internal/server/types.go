package server

import (
	"time"

	"github.com/rezonia/einvoice-gateway/internal/model"
)

// SubmissionResponse is the response for submit, await and status endpoints.
type SubmissionResponse struct {
	Submission model.Submission `json:"submission"`
	Error      string           `json:"error,omitempty"`
}

// ListResponse is the response for the query endpoint. The cursor is an
// opaque continuation token; clients pass it back verbatim.
type ListResponse struct {
	Entries []model.InvoiceMetadata `json:"entries"`
	Cursor  string                  `json:"cursor,omitempty"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status       string    `json:"status"`
	SessionState string    `json:"sessionState"`
	Time         time.Time `json:"time"`
}
