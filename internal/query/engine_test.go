package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/payload"
	"github.com/rezonia/einvoice-gateway/internal/query"
	"github.com/rezonia/einvoice-gateway/internal/retry"
	"github.com/rezonia/einvoice-gateway/internal/session"
)

// fakeAuthority serves sessions, a two-page listing and downloads.
type fakeAuthority struct {
	t   *testing.T
	srv *httptest.Server

	mu              sync.Mutex
	invoiceBody     []byte
	declaredHash    string
	queryCalls      int
	rejectCursor    bool
	lastQueryParams map[string]string
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	body := []byte(`<?xml version="1.0"?><Invoice><InvoiceNumber>FV/1</InvoiceNumber></Invoice>`)
	f := &fakeAuthority{
		t:            t,
		invoiceBody:  body,
		declaredHash: payload.Hash(body),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthority) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/v1/auth/token":
		json.NewEncoder(w).Encode(authority.TokenResponse{
			AccessToken: "access-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		})

	case r.URL.Path == "/api/v1/session/open":
		json.NewEncoder(w).Encode(authority.OpenSessionResponse{SessionReferenceNumber: "SESSION-1"})

	case strings.HasSuffix(r.URL.Path, "/query"):
		f.queryCalls++
		q := r.URL.Query()
		f.lastQueryParams = map[string]string{
			"since":        q.Get("since"),
			"subjectTaxId": q.Get("subjectTaxId"),
			"pageSize":     q.Get("pageSize"),
			"cursor":       q.Get("cursor"),
		}
		if f.rejectCursor && q.Get("cursor") != "" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(authority.ErrorResponse{
				Code:    authority.CodeSessionMismatch,
				Message: "cursor belongs to another session",
			})
			return
		}
		if q.Get("cursor") == "" {
			json.NewEncoder(w).Encode(authority.QueryResponse{
				Entries: []authority.InvoiceEntry{
					{ReferenceNumber: "REF-1", InvoiceNumber: "FV/1", SellerTaxID: "5213017228", GrossAmount: "1230.00", Currency: "PLN"},
					{ReferenceNumber: "REF-2", InvoiceNumber: "FV/2", SellerTaxID: "5213017228", GrossAmount: "450.50", Currency: "PLN"},
				},
				NextCursor: "C1",
			})
			return
		}
		json.NewEncoder(w).Encode(authority.QueryResponse{
			Entries: []authority.InvoiceEntry{
				{ReferenceNumber: "REF-3", InvoiceNumber: "FV/3", SellerTaxID: "5213017228", GrossAmount: "99.99", Currency: "PLN"},
			},
		})

	case strings.HasSuffix(r.URL.Path, "/download"):
		w.Header().Set(authority.HashHeader, f.declaredHash)
		w.Write(f.invoiceBody)

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}
}

func newEngine(f *fakeAuthority) *query.Engine {
	api := authority.NewClient(f.srv.URL)
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	sessions := session.NewManager(api, model.Credential{Token: "long-lived"},
		session.WithRetryPolicy(policy))
	return query.NewEngine(api, sessions, query.WithRetryPolicy(policy))
}

func TestListPaginates(t *testing.T) {
	f := newFakeAuthority(t)
	e := newEngine(f)

	filter := model.QueryFilter{
		Since:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SubjectTaxID: "5213017228",
		PageSize:     2,
	}

	entries, cursor, err := e.List(context.Background(), filter, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "REF-1", entries[0].ReferenceNumber)
	assert.Equal(t, "1230.00", entries[0].GrossAmount.StringFixed(2))
	assert.Equal(t, "PLN", entries[0].Currency)

	require.NotNil(t, cursor)
	assert.Equal(t, "C1", cursor.Token)
	assert.Equal(t, "SESSION-1", cursor.SessionReferenceNumber)
	assert.Equal(t, filter, cursor.Filter)

	entries, cursor, err = e.List(context.Background(), filter, cursor)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "REF-3", entries[0].ReferenceNumber)
	assert.Nil(t, cursor)

	f.mu.Lock()
	assert.Equal(t, "C1", f.lastQueryParams["cursor"])
	assert.Equal(t, "5213017228", f.lastQueryParams["subjectTaxId"])
	f.mu.Unlock()
}

func TestListRejectsCursorFromDeadSessionLocally(t *testing.T) {
	f := newFakeAuthority(t)
	e := newEngine(f)

	stale := &model.QueryCursor{
		Token:                  "C1",
		SessionReferenceNumber: "SESSION-0",
	}
	_, _, err := e.List(context.Background(), model.QueryFilter{}, stale)
	assert.True(t, errors.Is(err, model.ErrCursorInvalidated))

	// The dead cursor never reaches the authority.
	f.mu.Lock()
	assert.Zero(t, f.queryCalls)
	f.mu.Unlock()
}

func TestListMapsAuthorityCursorRejection(t *testing.T) {
	f := newFakeAuthority(t)
	e := newEngine(f)

	_, cursor, err := e.List(context.Background(), model.QueryFilter{}, nil)
	require.NoError(t, err)
	require.NotNil(t, cursor)

	f.mu.Lock()
	f.rejectCursor = true
	f.mu.Unlock()

	_, _, err = e.List(context.Background(), model.QueryFilter{}, cursor)
	assert.True(t, errors.Is(err, model.ErrCursorInvalidated))
}

func TestDownloadVerifiesIntegrity(t *testing.T) {
	f := newFakeAuthority(t)
	e := newEngine(f)

	inv, err := e.Download(context.Background(), "REF-1")
	require.NoError(t, err)
	assert.Equal(t, "REF-1", inv.AuthorityReferenceNumber)
	assert.Equal(t, f.invoiceBody, inv.Content)
	assert.Equal(t, payload.Hash(f.invoiceBody), inv.DeclaredHash)
}

func TestDownloadRejectsTamperedContent(t *testing.T) {
	f := newFakeAuthority(t)
	f.mu.Lock()
	f.declaredHash = payload.Hash([]byte("different content"))
	f.mu.Unlock()
	e := newEngine(f)

	_, err := e.Download(context.Background(), "REF-1")
	assert.True(t, errors.Is(err, model.ErrIntegrityViolation))
}
