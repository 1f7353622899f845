package authority

import "time"

// Wire models for the authority's published REST protocol.

// TokenRequest exchanges a long-lived authorization token for a session
// access token.
type TokenRequest struct {
	AuthorizationToken string `json:"authorizationToken"`
	ContextIdentifier  string `json:"contextIdentifier"`
}

// TokenResponse carries the short-lived access token and its expiry.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// OpenSessionResponse is returned by the session-open endpoint.
type OpenSessionResponse struct {
	SessionReferenceNumber string    `json:"sessionReferenceNumber"`
	Timestamp              time.Time `json:"timestamp"`
}

// HashSHA describes the digest of an invoice payload.
type HashSHA struct {
	Algorithm string `json:"algorithm"`
	Encoding  string `json:"encoding"`
	Value     string `json:"value"`
}

// InvoiceHash pairs a digest with the payload size.
type InvoiceHash struct {
	HashSHA  HashSHA `json:"hashSHA"`
	FileSize int     `json:"fileSize"`
}

// InvoicePayload is the invoice body as sent on the wire.
type InvoicePayload struct {
	Type        string `json:"type"`
	InvoiceBody string `json:"invoiceBody"`
}

// SendInvoiceRequest submits one invoice into the active session.
type SendInvoiceRequest struct {
	InvoiceHash    InvoiceHash    `json:"invoiceHash"`
	InvoicePayload InvoicePayload `json:"invoicePayload"`
}

// SendInvoiceResponse acknowledges receipt of a submission.
type SendInvoiceResponse struct {
	Timestamp              time.Time `json:"timestamp"`
	ReferenceNumber        string    `json:"referenceNumber"`
	ProcessingCode         int       `json:"processingCode"`
	ProcessingDescription  string    `json:"processingDescription"`
	ElementReferenceNumber string    `json:"elementReferenceNumber"`
}

// Processing status strings reported by the authority.
const (
	ProcessingStatusProcessing = "PROCESSING"
	ProcessingStatusAccepted   = "ACCEPTED"
	ProcessingStatusRejected   = "REJECTED"
)

// InvoiceStatusResponse reports the asynchronous processing status of a
// previously acknowledged submission.
type InvoiceStatusResponse struct {
	Status                string `json:"status"`
	ProcessingCode        int    `json:"processingCode"`
	ProcessingDescription string `json:"processingDescription"`
	UpoReferenceNumber    string `json:"upoReferenceNumber,omitempty"`
}

// LookupResponse answers a reconciliation query by payload hash.
type LookupResponse struct {
	ElementReferenceNumber string `json:"elementReferenceNumber"`
	Status                 string `json:"status"`
}

// QueryRequest selects invoices for a metadata listing.
type QueryRequest struct {
	Since        time.Time
	Until        time.Time
	SubjectTaxID string
	PageSize     int
	Cursor       string
}

// InvoiceEntry is one row of a metadata listing.
type InvoiceEntry struct {
	ReferenceNumber      string    `json:"referenceNumber"`
	InvoiceNumber        string    `json:"invoiceNumber"`
	SellerTaxID          string    `json:"sellerTaxId"`
	BuyerTaxID           string    `json:"buyerTaxId,omitempty"`
	IssueDate            time.Time `json:"issueDate"`
	GrossAmount          string    `json:"grossAmount"`
	Currency             string    `json:"currency"`
	AcquisitionTimestamp time.Time `json:"acquisitionTimestamp"`
}

// QueryResponse is a page of a metadata listing.
type QueryResponse struct {
	Entries    []InvoiceEntry `json:"entries"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// ErrorResponse is the authority's error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes the client reacts to specifically.
const (
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeSessionMismatch = "SESSION_MISMATCH"
)
