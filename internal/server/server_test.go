package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/config"
	"github.com/rezonia/einvoice-gateway/internal/payload"
	"github.com/rezonia/einvoice-gateway/internal/server"
	"github.com/rezonia/einvoice-gateway/pkg/clearance"
)

const invoiceXML = `<?xml version="1.0"?><Invoice><InvoiceNumber>FV/1</InvoiceNumber></Invoice>`

// newTestServer wires the HTTP surface to a gateway client backed by a
// scripted authority.
func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	authoritySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/auth/token":
			json.NewEncoder(w).Encode(authority.TokenResponse{
				AccessToken: "access-token",
				ExpiresAt:   time.Now().Add(time.Hour),
			})
		case r.URL.Path == "/api/v1/session/open":
			json.NewEncoder(w).Encode(authority.OpenSessionResponse{SessionReferenceNumber: "SESSION-1"})
		case strings.HasSuffix(r.URL.Path, "/invoices") && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(authority.SendInvoiceResponse{ElementReferenceNumber: "REF-42"})
		case strings.HasSuffix(r.URL.Path, "/status"):
			json.NewEncoder(w).Encode(authority.InvoiceStatusResponse{Status: authority.ProcessingStatusAccepted})
		case strings.HasSuffix(r.URL.Path, "/query"):
			resp := authority.QueryResponse{
				Entries: []authority.InvoiceEntry{
					{ReferenceNumber: "REF-1", InvoiceNumber: "FV/1", SellerTaxID: "5213017228", GrossAmount: "1230.00", Currency: "PLN"},
				},
			}
			if r.URL.Query().Get("cursor") == "" {
				resp.NextCursor = "C1"
			}
			json.NewEncoder(w).Encode(resp)
		case strings.HasSuffix(r.URL.Path, "/download"):
			w.Header().Set(authority.HashHeader, payload.Hash([]byte(invoiceXML)))
			w.Write([]byte(invoiceXML))
		default:
			t.Errorf("unexpected authority request %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(authoritySrv.Close)

	cfg := config.Default()
	cfg.AuthorityBaseURL = authoritySrv.URL
	cfg.AuthToken = "long-lived"
	cfg.PollBase = time.Millisecond
	cfg.PollCap = 5 * time.Millisecond

	client, err := clearance.New(cfg)
	require.NoError(t, err)

	return server.NewServer(&server.Config{Address: ":0", Debug: true}, client)
}

func do(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp server.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "closed", resp.SessionState)
}

func TestSubmitEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set(server.LocalIDHeader, "inv-1")

	w := do(srv, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "inv-1", resp.Submission.LocalID)
	assert.Equal(t, "REF-42", resp.Submission.AuthorityReferenceNumber)
	assert.Equal(t, clearance.StatusAcknowledged, resp.Submission.Status)
}

func TestSubmitGeneratesLocalID(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	req.Header.Set("Content-Type", "application/xml")

	w := do(srv, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Submission.LocalID)
}

func TestSubmitEmptyBody(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodPost, "/api/v1/invoices", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBrokenPayload(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte("not an invoice")))
	w := do(srv, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp server.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_rejected", resp.Kind)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	req.Header.Set(server.LocalIDHeader, "inv-1")
	require.Equal(t, http.StatusAccepted, do(srv, req).Code)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/invoices/inv-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "REF-42", resp.Submission.AuthorityReferenceNumber)
}

func TestStatusUnknownSubmission(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/invoices/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAwaitEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	req.Header.Set(server.LocalIDHeader, "inv-1")
	require.Equal(t, http.StatusAccepted, do(srv, req).Code)

	w := do(srv, httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-1/await?timeout=2s", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, clearance.StatusAccepted, resp.Submission.Status)
}

func TestAwaitInvalidTimeout(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-1/await?timeout=soon", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcknowledgeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	req.Header.Set(server.LocalIDHeader, "inv-1")
	require.Equal(t, http.StatusAccepted, do(srv, req).Code)

	// Not terminal yet.
	w := do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/invoices/inv-1", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK,
		do(srv, httptest.NewRequest(http.MethodPost, "/api/v1/invoices/inv-1/await", nil)).Code)

	w = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/invoices/inv-1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodGet,
		"/api/v1/query?since=2026-01-01T00:00:00Z&subjectTaxId=5213017228&pageSize=50", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp server.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "REF-1", resp.Entries[0].ReferenceNumber)
	require.NotEmpty(t, resp.Cursor)

	// The opaque cursor continues the listing.
	w = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/query?cursor="+resp.Cursor, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var next server.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.Empty(t, next.Cursor)
}

func TestQueryInvalidParams(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/query?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/query?pageSize=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/query?cursor=!!!", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/downloads/REF-42", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, invoiceXML, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Invoice-Hash"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Generate some traffic first.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader([]byte(invoiceXML)))
	require.Equal(t, http.StatusAccepted, do(srv, req).Code)

	w := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "einvoice_gateway_sessions_opened")
}
