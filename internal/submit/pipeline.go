// Package submit implements the invoice submission pipeline: idempotent
// submits into the active session, reconciliation of ambiguous outcomes, and
// status polling until a terminal result.
package submit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/metrics"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/payload"
	"github.com/rezonia/einvoice-gateway/internal/retry"
	"github.com/rezonia/einvoice-gateway/internal/session"
)

const (
	// DefaultPollBase and DefaultPollCap bound the status-poll backoff.
	DefaultPollBase = 1 * time.Second
	DefaultPollCap  = 30 * time.Second
)

// Pipeline submits invoice payloads and tracks them until the caller
// acknowledges a terminal status. Submissions are keyed by the caller's
// localId; the payload hash detects duplicate submits and drives
// reconciliation after ambiguous transport failures.
type Pipeline struct {
	api      *authority.Client
	sessions *session.Manager
	policy   retry.Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pollBase time.Duration
	pollCap  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	registry map[string]*record
}

// record is one tracked submission. Individual records are mutated only by
// the submit call or polling loop that owns them, under the record mutex.
type record struct {
	mu       sync.Mutex
	sub      model.Submission
	inflight bool
}

func (r *record) snapshot() model.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithRetryPolicy sets the retry policy for idempotent authority calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pl *Pipeline) {
		pl.policy = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) {
		pl.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// WithPollInterval sets the status-poll backoff bounds.
func WithPollInterval(base, cap time.Duration) Option {
	return func(pl *Pipeline) {
		pl.pollBase = base
		pl.pollCap = cap
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) {
		pl.now = now
	}
}

// NewPipeline creates a submission pipeline bound to a session manager.
func NewPipeline(api *authority.Client, sessions *session.Manager, opts ...Option) *Pipeline {
	pl := &Pipeline{
		api:      api,
		sessions: sessions,
		policy:   retry.DefaultPolicy(),
		logger:   slog.Default(),
		metrics:  metrics.Nop(),
		pollBase: DefaultPollBase,
		pollCap:  DefaultPollCap,
		now:      time.Now,
		registry: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Submit sends one invoice payload into the current session. Calling Submit
// again with the same localId and identical payload never produces a second
// authority submission; the current state of the first one is returned.
// Reusing a localId with a different payload is a validation error.
func (p *Pipeline) Submit(ctx context.Context, localID string, data []byte, contentType string) (model.Submission, error) {
	info, err := payload.Inspect(data, contentType)
	if err != nil {
		return model.Submission{}, err
	}

	rec, existing := p.register(localID, info.Hash)
	if existing {
		rec.mu.Lock()
		if rec.sub.PayloadHash != info.Hash {
			sub := rec.sub
			rec.mu.Unlock()
			return sub, model.NewSubmissionError(model.KindValidationRejected,
				fmt.Sprintf("localId %q reused with a different payload", localID), nil, sub)
		}
		// A retry of an unresolved submission reconciles before any resend;
		// anything else is a duplicate call and gets the current state.
		retriable := !rec.inflight &&
			(rec.sub.Status == model.StatusPending ||
				(rec.sub.Status == model.StatusFailed && rec.sub.FailureReason == model.FailureAmbiguous))
		if !retriable {
			sub := rec.sub
			rec.mu.Unlock()
			return sub, nil
		}
		rec.inflight = true
		rec.mu.Unlock()
		defer p.clearInflight(rec)
		return p.reconcile(ctx, rec, info, data)
	}

	defer p.clearInflight(rec)
	return p.send(ctx, rec, info, data)
}

// register returns the record for localID, creating it when absent.
func (p *Pipeline) register(localID, hash string) (*record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.registry[localID]; ok {
		return rec, true
	}
	rec := &record{
		sub: model.Submission{
			LocalID:     localID,
			PayloadHash: hash,
			Status:      model.StatusPending,
			SubmittedAt: p.now(),
		},
		inflight: true,
	}
	p.registry[localID] = rec
	return rec, false
}

func (p *Pipeline) clearInflight(rec *record) {
	rec.mu.Lock()
	rec.inflight = false
	rec.mu.Unlock()
}

// send performs the non-idempotent submit call. It is attempted exactly once;
// transport failures around it fall through to reconciliation instead of a
// blind resend, because the authority may already have accepted the payload.
func (p *Pipeline) send(ctx context.Context, rec *record, info *payload.Info, data []byte) (model.Submission, error) {
	req := sendRequest(info, data)

	var acked *authority.SendInvoiceResponse
	err := p.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		resp, err := p.api.SendInvoice(ctx, sc.AccessToken, sc.SessionReferenceNumber, req)
		if err != nil {
			return err
		}
		acked = resp
		return nil
	})

	switch {
	case err == nil:
		return p.acknowledge(rec, acked.ElementReferenceNumber), nil

	case isSynchronousRejection(err):
		rec.mu.Lock()
		rec.sub.Status = model.StatusRejected
		rec.sub.FailureReason = err.Error()
		sub := rec.sub
		rec.mu.Unlock()
		p.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return sub, model.NewSubmissionError(model.KindValidationRejected, "submission rejected by authority", err, sub)

	case noSessionAcquired(err):
		// Authentication or session open failed, so the submit call was
		// never issued. Nothing to reconcile; the record stays pending and
		// the caller retries once the authority is reachable.
		return rec.snapshot(), err

	case retry.Classify(err) == retry.ClassTerminal:
		// Terminal but not a validation verdict (e.g. auth failure during
		// reopen). The submission was not sent; leave it pending.
		return rec.snapshot(), err

	default:
		// The transport failed after sending but possibly before the
		// acknowledgment arrived. Outcome unknown.
		p.logger.Warn("submit outcome unknown after transport failure",
			"local_id", rec.snapshot().LocalID,
			"error", err,
		)
		return p.reconcile(ctx, rec, info, data)
	}
}

// reconcile asks the authority whether a payload with this hash was received
// before deciding on a resend. Only an authoritative "not received" permits
// resending; anything inconclusive surfaces as AmbiguousSubmission so the
// same invoice is never cleared twice.
func (p *Pipeline) reconcile(ctx context.Context, rec *record, info *payload.Info, data []byte) (model.Submission, error) {
	var found *authority.LookupResponse
	lookupErr := p.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		return p.policy.Do(ctx, func(ctx context.Context) error {
			resp, err := p.api.LookupByHash(ctx, sc.AccessToken, sc.SessionReferenceNumber, info.Hash)
			if err != nil {
				return err
			}
			found = resp
			return nil
		})
	})

	switch {
	case lookupErr == nil:
		// The authority did receive the payload; adopt its reference.
		p.acknowledge(rec, found.ElementReferenceNumber)
		p.applyStatus(rec, found.Status, "")
		return rec.snapshot(), nil

	case isNotFound(lookupErr):
		// Authoritative answer: never received. Resending is safe, once.
		p.logger.Info("reconciliation confirmed non-receipt, resending",
			"local_id", rec.snapshot().LocalID,
		)
		return p.resend(ctx, rec, info, data)

	case noSessionAcquired(lookupErr):
		// The lookup never reached the authority. The outcome stays
		// undecided and the record retriable.
		return rec.snapshot(), lookupErr

	default:
		rec.mu.Lock()
		rec.sub.Status = model.StatusFailed
		rec.sub.FailureReason = model.FailureAmbiguous
		sub := rec.sub
		rec.mu.Unlock()
		p.metrics.SubmissionsTotal.WithLabelValues("ambiguous").Inc()
		return sub, model.NewSubmissionError(model.KindAmbiguousSubmission,
			"submit outcome unknown and reconciliation inconclusive; not resending", lookupErr, sub)
	}
}

// resend repeats the submit call after reconciliation confirmed the payload
// was never received. A second transport failure is surfaced as ambiguous
// rather than reconciled again, to keep the retry behavior bounded.
func (p *Pipeline) resend(ctx context.Context, rec *record, info *payload.Info, data []byte) (model.Submission, error) {
	req := sendRequest(info, data)

	var acked *authority.SendInvoiceResponse
	err := p.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		resp, err := p.api.SendInvoice(ctx, sc.AccessToken, sc.SessionReferenceNumber, req)
		if err != nil {
			return err
		}
		acked = resp
		return nil
	})

	switch {
	case err == nil:
		return p.acknowledge(rec, acked.ElementReferenceNumber), nil

	case isSynchronousRejection(err):
		rec.mu.Lock()
		rec.sub.Status = model.StatusRejected
		rec.sub.FailureReason = err.Error()
		sub := rec.sub
		rec.mu.Unlock()
		p.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return sub, model.NewSubmissionError(model.KindValidationRejected, "submission rejected by authority", err, sub)

	case noSessionAcquired(err):
		// The resend was never issued; confirmed non-receipt still holds.
		return rec.snapshot(), err

	default:
		rec.mu.Lock()
		rec.sub.Status = model.StatusFailed
		rec.sub.FailureReason = model.FailureAmbiguous
		sub := rec.sub
		rec.mu.Unlock()
		p.metrics.SubmissionsTotal.WithLabelValues("ambiguous").Inc()
		return sub, model.NewSubmissionError(model.KindAmbiguousSubmission,
			"resend failed with unknown outcome", err, sub)
	}
}

func (p *Pipeline) acknowledge(rec *record, ref string) model.Submission {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sub.Status = model.StatusAcknowledged
	rec.sub.AuthorityReferenceNumber = ref
	rec.sub.FailureReason = ""
	rec.sub.AttemptCount++
	return rec.sub
}

// AwaitOutcome polls the submission's status until a terminal result or the
// timeout elapses. On timeout the submission stays Processing and can be
// re-polled later with the same authority reference number. Cancellation
// stops polling without touching the last-known status.
func (p *Pipeline) AwaitOutcome(ctx context.Context, localID string, timeout time.Duration) (model.Submission, error) {
	rec, err := p.lookup(localID)
	if err != nil {
		return model.Submission{}, err
	}

	sub := rec.snapshot()
	if sub.Status == model.StatusAccepted || sub.Status == model.StatusRejected {
		return sub, nil
	}
	if sub.AuthorityReferenceNumber == "" {
		return sub, model.NewSubmissionError(model.KindAmbiguousSubmission,
			"submission was never acknowledged; resolve via a new submit call", nil, sub)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	backoff := p.pollBase
	for {
		status, err := p.pollOnce(ctx, rec)
		if err != nil {
			return p.pollFailure(ctx, rec, err)
		}

		switch status {
		case authority.ProcessingStatusAccepted:
			sub := p.finish(rec, model.StatusAccepted, "")
			p.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
			return sub, nil
		case authority.ProcessingStatusRejected:
			sub := p.finish(rec, model.StatusRejected, "")
			p.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			return sub, nil
		}

		select {
		case <-ctx.Done():
			return p.pollFailure(ctx, rec, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.pollCap {
			backoff = p.pollCap
		}
	}
}

// pollOnce issues one status call under the live session, retrying transient
// failures. A session expiry mid-poll is absorbed by the session manager's
// single transparent reopen; the authority reference number never changes.
func (p *Pipeline) pollOnce(ctx context.Context, rec *record) (string, error) {
	ref := rec.snapshot().AuthorityReferenceNumber

	var status *authority.InvoiceStatusResponse
	err := p.sessions.Do(ctx, func(ctx context.Context, sc model.SessionContext) error {
		return p.policy.Do(ctx, func(ctx context.Context) error {
			resp, err := p.api.InvoiceStatus(ctx, sc.AccessToken, sc.SessionReferenceNumber, ref)
			if err != nil {
				return err
			}
			status = resp
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	p.metrics.PollCyclesTotal.Inc()
	p.applyStatus(rec, status.Status, status.ProcessingDescription)
	return status.Status, nil
}

func (p *Pipeline) applyStatus(rec *record, wireStatus, description string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sub.LastPolledAt = p.now()
	rec.sub.AttemptCount++
	switch wireStatus {
	case authority.ProcessingStatusProcessing:
		rec.sub.Status = model.StatusProcessing
		rec.sub.FailureReason = ""
	case authority.ProcessingStatusAccepted:
		rec.sub.Status = model.StatusAccepted
		rec.sub.FailureReason = ""
	case authority.ProcessingStatusRejected:
		rec.sub.Status = model.StatusRejected
		rec.sub.FailureReason = description
	}
}

func (p *Pipeline) finish(rec *record, status model.SubmissionStatus, reason string) model.Submission {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.sub.Status = status
	if reason != "" {
		rec.sub.FailureReason = reason
	}
	return rec.sub
}

// pollFailure maps a failed poll loop to the caller-facing error. The
// deadline case is resumable: the submission keeps its Processing state and
// reference number for a later AwaitOutcome.
func (p *Pipeline) pollFailure(ctx context.Context, rec *record, err error) (model.Submission, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		rec.mu.Lock()
		rec.sub.FailureReason = model.FailureTimeout
		sub := rec.sub
		rec.mu.Unlock()
		return sub, model.NewSubmissionError(model.KindTimeout,
			"polling deadline elapsed before a terminal status", err, sub)
	}
	if errors.Is(err, context.Canceled) {
		return rec.snapshot(), err
	}

	sub := rec.snapshot()
	var gwErr *model.Error
	if errors.As(err, &gwErr) {
		return sub, &model.Error{Kind: gwErr.Kind, Message: gwErr.Message, Cause: gwErr.Cause, Submission: &sub}
	}
	return sub, model.NewSubmissionError(model.KindUnavailable, "status poll failed", err, sub)
}

// Get returns the tracked state of a submission. Every submission remains
// queryable after a failed or timed-out outcome.
func (p *Pipeline) Get(localID string) (model.Submission, error) {
	rec, err := p.lookup(localID)
	if err != nil {
		return model.Submission{}, err
	}
	return rec.snapshot(), nil
}

// List returns the tracked state of all submissions.
func (p *Pipeline) List() []model.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]model.Submission, 0, len(p.registry))
	for _, rec := range p.registry {
		subs = append(subs, rec.snapshot())
	}
	return subs
}

// Acknowledge releases a submission that reached a terminal status. A
// submission is never silently deleted before the caller has seen its
// outcome.
func (p *Pipeline) Acknowledge(localID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.registry[localID]
	if !ok {
		return fmt.Errorf("unknown submission %q", localID)
	}
	if !rec.snapshot().Status.Terminal() {
		return fmt.Errorf("submission %q has no terminal status yet", localID)
	}
	delete(p.registry, localID)
	return nil
}

func (p *Pipeline) lookup(localID string) (*record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.registry[localID]
	if !ok {
		return nil, fmt.Errorf("unknown submission %q", localID)
	}
	return rec, nil
}

func sendRequest(info *payload.Info, data []byte) authority.SendInvoiceRequest {
	return authority.SendInvoiceRequest{
		InvoiceHash: authority.InvoiceHash{
			HashSHA: authority.HashSHA{
				Algorithm: payload.HashAlgorithm,
				Encoding:  payload.HashEncoding,
				Value:     info.Hash,
			},
			FileSize: info.Size,
		},
		InvoicePayload: authority.InvoicePayload{
			Type:        info.ContentType,
			InvoiceBody: base64.StdEncoding.EncodeToString(data),
		},
	}
}

// isSynchronousRejection reports a 4xx validation verdict on the submit call
// itself (as opposed to transport-level or session failures).
func isSynchronousRejection(err error) bool {
	var apiErr *authority.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// noSessionAcquired reports that a live session could not be obtained, so the
// guarded authority call was never issued. Ambiguity is reserved for failures
// around calls that may have reached the authority.
func noSessionAcquired(err error) bool {
	return errors.Is(err, model.ErrAuthRejected) ||
		errors.Is(err, model.ErrAuthUnavailable) ||
		errors.Is(err, model.ErrSessionOpenFailed)
}

func isNotFound(err error) bool {
	var apiErr *authority.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
