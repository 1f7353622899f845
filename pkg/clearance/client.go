package clearance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/config"
	"github.com/rezonia/einvoice-gateway/internal/metrics"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/query"
	"github.com/rezonia/einvoice-gateway/internal/retry"
	"github.com/rezonia/einvoice-gateway/internal/session"
	"github.com/rezonia/einvoice-gateway/internal/submit"
)

// Client composes the session manager, submission pipeline and query engine
// behind a single entry point. One Client owns exactly one authority session;
// multiple clients with independent credentials can coexist in one process.
type Client struct {
	sessions *session.Manager
	pipeline *submit.Pipeline
	queries  *query.Engine
	registry *prometheus.Registry
	logger   *slog.Logger
}

// Option configures the client.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger for all components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a clearance client from configuration. The authority session
// is opened lazily on the first operation that needs one.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	registry := prometheus.NewRegistry()
	mx := metrics.New(registry)

	api := authority.NewClient(cfg.AuthorityBaseURL,
		authority.WithTimeout(cfg.CallTimeout),
		authority.WithLogger(o.logger),
	)

	policy := retry.Policy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		OnRetry:     func(int) { mx.RetriesTotal.Inc() },
	}

	cred := model.Credential{
		Token:             cfg.AuthToken,
		ContextIdentifier: cfg.ContextIdentifier,
	}

	sessions := session.NewManager(api, cred,
		session.WithRetryPolicy(policy),
		session.WithLogger(o.logger),
		session.WithMetrics(mx),
	)

	return &Client{
		sessions: sessions,
		pipeline: submit.NewPipeline(api, sessions,
			submit.WithRetryPolicy(policy),
			submit.WithLogger(o.logger),
			submit.WithMetrics(mx),
			submit.WithPollInterval(cfg.PollBase, cfg.PollCap),
		),
		queries: query.NewEngine(api, sessions,
			query.WithRetryPolicy(policy),
			query.WithLogger(o.logger),
			query.WithMetrics(mx),
		),
		registry: registry,
		logger:   o.logger,
	}, nil
}

// SubmitInvoice submits one invoice payload. An empty localID gets a
// generated one. Safe to call repeatedly with the same localID and payload:
// the current state of the existing submission is returned instead of
// producing a second authority submission.
func (c *Client) SubmitInvoice(ctx context.Context, localID string, payload []byte, contentType string) (Submission, error) {
	if localID == "" {
		localID = uuid.NewString()
	}
	return c.pipeline.Submit(ctx, localID, payload, contentType)
}

// AwaitOutcome polls an acknowledged submission until Accepted or Rejected,
// or until the timeout elapses. A timed-out submission stays re-pollable
// under the same authority reference number.
func (c *Client) AwaitOutcome(ctx context.Context, localID string, timeout time.Duration) (Submission, error) {
	return c.pipeline.AwaitOutcome(ctx, localID, timeout)
}

// GetSubmissionStatus returns the tracked state of a submission, including
// after a failed or timed-out outcome.
func (c *Client) GetSubmissionStatus(localID string) (Submission, error) {
	return c.pipeline.Get(localID)
}

// Submissions returns the tracked state of all submissions.
func (c *Client) Submissions() []Submission {
	return c.pipeline.List()
}

// AcknowledgeSubmission releases a submission whose terminal status the
// caller has consumed.
func (c *Client) AcknowledgeSubmission(localID string) error {
	return c.pipeline.Acknowledge(localID)
}

// ListInvoices returns one page of invoice metadata. Pass the returned
// cursor to continue; on ErrCursorInvalidated restart from the filter alone.
func (c *Client) ListInvoices(ctx context.Context, filter QueryFilter, cursor *QueryCursor) ([]InvoiceMetadata, *QueryCursor, error) {
	return c.queries.List(ctx, filter, cursor)
}

// DownloadInvoice fetches the content of a cleared invoice with integrity
// verified against the authority-declared hash.
func (c *Client) DownloadInvoice(ctx context.Context, referenceNumber string) (DownloadedInvoice, error) {
	return c.queries.Download(ctx, referenceNumber)
}

// SessionState reports the current session lifecycle state.
func (c *Client) SessionState() SessionState {
	return c.sessions.State()
}

// Close tears down the authority session. Best-effort: the session is
// considered closed locally even if the authority call fails.
func (c *Client) Close(ctx context.Context) error {
	return c.sessions.Close(ctx)
}

// MetricsGatherer exposes the client's Prometheus registry for an inbound
// surface to serve.
func (c *Client) MetricsGatherer() prometheus.Gatherer {
	return c.registry
}
