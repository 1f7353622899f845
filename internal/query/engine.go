// Package query implements paginated metadata listing and integrity-checked
// content download for previously processed invoices.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/metrics"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/payload"
	"github.com/rezonia/einvoice-gateway/internal/retry"
	"github.com/rezonia/einvoice-gateway/internal/session"
)

// Engine runs read-only queries against the authority inside the current
// session. Listing is side-effect free; cursors are opaque and bound to the
// session that issued them.
type Engine struct {
	api      *authority.Client
	sessions *session.Manager
	policy   retry.Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the engine.
type Option func(*Engine)

// WithRetryPolicy sets the retry policy for query calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a query engine bound to a session manager.
func NewEngine(api *authority.Client, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		api:      api,
		sessions: sessions,
		policy:   retry.DefaultPolicy(),
		logger:   slog.Default(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List returns one page of invoice metadata matching the filter. Passing a
// cursor resumes a previous listing; a cursor issued by a session that is no
// longer the open one yields CursorInvalidated and the caller restarts from
// the filter without a cursor.
func (e *Engine) List(ctx context.Context, filter model.QueryFilter, cursor *model.QueryCursor) ([]model.InvoiceMetadata, *model.QueryCursor, error) {
	var page *authority.QueryResponse
	var issuedBy string

	err := e.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		if cursor != nil && cursor.SessionReferenceNumber != sc.SessionReferenceNumber {
			// The issuing session is gone; the continuation token is dead.
			// No point in spending an authority call on it.
			return model.NewError(model.KindCursorInvalidated,
				"cursor was issued by a session that is no longer open", nil)
		}

		req := authority.QueryRequest{
			Since:        filter.Since,
			Until:        filter.Until,
			SubjectTaxID: filter.SubjectTaxID,
			PageSize:     filter.PageSize,
		}
		if cursor != nil {
			req.Cursor = cursor.Token
			req.Since = cursor.Filter.Since
			req.Until = cursor.Filter.Until
			req.SubjectTaxID = cursor.Filter.SubjectTaxID
			req.PageSize = cursor.Filter.PageSize
		}

		issuedBy = sc.SessionReferenceNumber
		return e.policy.Do(ctx, func(ctx context.Context) error {
			resp, err := e.api.Query(ctx, sc.AccessToken, sc.SessionReferenceNumber, req)
			if err != nil {
				return mapCursorError(err)
			}
			page = resp
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	entries := make([]model.InvoiceMetadata, 0, len(page.Entries))
	for _, entry := range page.Entries {
		md, err := toMetadata(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("malformed listing entry %q: %w", entry.ReferenceNumber, err)
		}
		entries = append(entries, md)
	}

	e.metrics.QueryPagesTotal.Inc()

	var next *model.QueryCursor
	if page.NextCursor != "" {
		f := filter
		if cursor != nil {
			f = cursor.Filter
		}
		next = &model.QueryCursor{
			Token:                  page.NextCursor,
			SessionReferenceNumber: issuedBy,
			Filter:                 f,
		}
	}
	return entries, next, nil
}

// Download fetches the content of a cleared invoice and verifies it against
// the authority-declared hash. A mismatch is an IntegrityViolation and is
// never retried blindly with identical parameters.
func (e *Engine) Download(ctx context.Context, referenceNumber string) (model.DownloadedInvoice, error) {
	var content []byte
	var declaredHash string

	err := e.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		return e.policy.Do(ctx, func(ctx context.Context) error {
			body, hash, err := e.api.Download(ctx, sc.AccessToken, referenceNumber)
			if err != nil {
				return err
			}
			content = body
			declaredHash = hash
			return nil
		})
	})
	if err != nil {
		return model.DownloadedInvoice{}, err
	}

	if actual := payload.Hash(content); declaredHash != "" && actual != declaredHash {
		e.metrics.IntegrityFailures.Inc()
		e.logger.Error("downloaded invoice failed integrity check",
			"reference_number", referenceNumber,
			"declared_hash", declaredHash,
			"actual_hash", actual,
		)
		return model.DownloadedInvoice{}, model.NewError(model.KindIntegrityViolation,
			fmt.Sprintf("content hash of %q does not match the declared hash", referenceNumber), nil)
	}

	e.metrics.DownloadsTotal.Inc()
	return model.DownloadedInvoice{
		AuthorityReferenceNumber: referenceNumber,
		Content:                  content,
		DeclaredHash:             declaredHash,
	}, nil
}

// mapCursorError converts the authority's session-mismatch verdict on a
// stale cursor into CursorInvalidated.
func mapCursorError(err error) error {
	var apiErr *authority.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authority.CodeSessionMismatch {
		return model.NewError(model.KindCursorInvalidated,
			"authority rejected the continuation token", err)
	}
	return err
}

func toMetadata(entry authority.InvoiceEntry) (model.InvoiceMetadata, error) {
	gross, err := decimal.NewFromString(entry.GrossAmount)
	if err != nil {
		return model.InvoiceMetadata{}, fmt.Errorf("gross amount: %w", err)
	}
	return model.InvoiceMetadata{
		ReferenceNumber:      entry.ReferenceNumber,
		InvoiceNumber:        entry.InvoiceNumber,
		SellerTaxID:          entry.SellerTaxID,
		BuyerTaxID:           entry.BuyerTaxID,
		IssueDate:            entry.IssueDate,
		GrossAmount:          gross,
		Currency:             entry.Currency,
		AcquisitionTimestamp: entry.AcquisitionTimestamp,
	}, nil
}
