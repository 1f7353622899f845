// Package clearance is the public entry point for exchanging invoices with
// the national e-invoice clearance authority. It manages the single stateful
// authority session, submits invoice payloads and polls their asynchronous
// processing status, and queries or downloads previously cleared invoices.
//
// Example usage:
//
//	client, err := clearance.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	sub, err := client.SubmitInvoice(ctx, "inv-1", payload, "application/xml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sub, err = client.AwaitOutcome(ctx, sub.LocalID, 2*time.Minute)
package clearance

import "github.com/rezonia/einvoice-gateway/internal/model"

// Re-export core types for the public API
type (
	Credential        = model.Credential
	SessionContext    = model.SessionContext
	SessionState      = model.SessionState
	Submission        = model.Submission
	SubmissionStatus  = model.SubmissionStatus
	QueryFilter       = model.QueryFilter
	QueryCursor       = model.QueryCursor
	InvoiceMetadata   = model.InvoiceMetadata
	DownloadedInvoice = model.DownloadedInvoice
	Error             = model.Error
)

// Re-export submission statuses
const (
	StatusPending      = model.StatusPending
	StatusAcknowledged = model.StatusAcknowledged
	StatusProcessing   = model.StatusProcessing
	StatusAccepted     = model.StatusAccepted
	StatusRejected     = model.StatusRejected
	StatusFailed       = model.StatusFailed
)

// Re-export session states
const (
	SessionClosed  = model.SessionClosed
	SessionOpening = model.SessionOpening
	SessionOpen    = model.SessionOpen
	SessionClosing = model.SessionClosing
	SessionExpired = model.SessionExpired
)

// Re-export sentinel errors for errors.Is
var (
	ErrAuthRejected        = model.ErrAuthRejected
	ErrAuthUnavailable     = model.ErrAuthUnavailable
	ErrSessionOpenFailed   = model.ErrSessionOpenFailed
	ErrSessionExpired      = model.ErrSessionExpired
	ErrValidationRejected  = model.ErrValidationRejected
	ErrAmbiguousSubmission = model.ErrAmbiguousSubmission
	ErrTimeout             = model.ErrTimeout
	ErrIntegrityViolation  = model.ErrIntegrityViolation
	ErrCursorInvalidated   = model.ErrCursorInvalidated
	ErrUnavailable         = model.ErrUnavailable
)
