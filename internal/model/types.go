package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credential is the long-lived authentication material supplied by the
// caller. It is exchanged for a short-lived session token and never
// persisted by the gateway.
type Credential struct {
	// Token is the opaque authorization token issued by the authority.
	Token string
	// ContextIdentifier names the taxpayer context the token was issued for.
	ContextIdentifier string
}

// SessionState tracks the lifecycle of an authority session.
type SessionState string

const (
	SessionClosed  SessionState = "closed"
	SessionOpening SessionState = "opening"
	SessionOpen    SessionState = "open"
	SessionClosing SessionState = "closing"
	SessionExpired SessionState = "expired"
)

// SessionContext is the short-lived authenticated context required before
// submit, query and download operations are accepted by the authority.
// At most one non-closed SessionContext exists per client instance.
type SessionContext struct {
	State                  SessionState
	AccessToken            string
	SessionReferenceNumber string
	OpenedAt               time.Time
	ExpiresAt              time.Time
}

// Live reports whether the session can carry operations right now.
func (s SessionContext) Live(now time.Time) bool {
	return s.State == SessionOpen && now.Before(s.ExpiresAt)
}

// SubmissionStatus is the processing state of a single invoice submission.
type SubmissionStatus string

const (
	// StatusPending means the submit call has not been confirmed as received
	// by the authority. A pending submission after a network failure has an
	// unknown outcome and must not be blindly resubmitted.
	StatusPending      SubmissionStatus = "pending"
	StatusAcknowledged SubmissionStatus = "acknowledged"
	StatusProcessing   SubmissionStatus = "processing"
	StatusAccepted     SubmissionStatus = "accepted"
	StatusRejected     SubmissionStatus = "rejected"
	StatusFailed       SubmissionStatus = "failed"
)

// Terminal reports whether the status will not change without a new caller
// action.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Failure reasons recorded on a Submission alongside StatusFailed or a
// resumable timeout.
const (
	FailureAmbiguous = "ambiguous"
	FailureTimeout   = "timeout"
)

// Submission is one caller-initiated attempt to clear a single invoice.
// It is retained until the caller acknowledges a terminal status.
type Submission struct {
	LocalID                  string           `json:"localId"`
	PayloadHash              string           `json:"payloadHash"`
	AuthorityReferenceNumber string           `json:"authorityReferenceNumber,omitempty"`
	Status                   SubmissionStatus `json:"status"`
	FailureReason            string           `json:"failureReason,omitempty"`
	SubmittedAt              time.Time        `json:"submittedAt"`
	LastPolledAt             time.Time        `json:"lastPolledAt,omitzero"`
	AttemptCount             int              `json:"attemptCount"`
}

// QueryFilter selects invoices for a metadata listing.
type QueryFilter struct {
	Since        time.Time `json:"since,omitzero"`
	Until        time.Time `json:"until,omitzero"`
	SubjectTaxID string    `json:"subjectTaxId,omitempty"`
	PageSize     int       `json:"pageSize,omitempty"`
}

// QueryCursor resumes a paginated listing. The cursor token is opaque and
// only valid while the session that issued it remains open.
type QueryCursor struct {
	Token                  string      `json:"token"`
	SessionReferenceNumber string      `json:"sessionReferenceNumber"`
	Filter                 QueryFilter `json:"filter"`
}

// InvoiceMetadata is one entry of a metadata listing.
type InvoiceMetadata struct {
	ReferenceNumber      string          `json:"referenceNumber"`
	InvoiceNumber        string          `json:"invoiceNumber"`
	SellerTaxID          string          `json:"sellerTaxId"`
	BuyerTaxID           string          `json:"buyerTaxId,omitempty"`
	IssueDate            time.Time       `json:"issueDate"`
	GrossAmount          decimal.Decimal `json:"grossAmount"`
	Currency             string          `json:"currency"`
	AcquisitionTimestamp time.Time       `json:"acquisitionTimestamp"`
}

// DownloadedInvoice is the content of a previously cleared invoice together
// with the hash the authority declared for it. Content integrity has been
// verified against DeclaredHash before the value is returned.
type DownloadedInvoice struct {
	AuthorityReferenceNumber string `json:"authorityReferenceNumber"`
	Content                  []byte `json:"content"`
	DeclaredHash             string `json:"declaredHash"`
}
