package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/retry"
)

// Authenticator exchanges the long-lived credential for a short-lived access
// token. It does not mutate shared state; the Manager installs the result.
type Authenticator struct {
	api    *authority.Client
	policy retry.Policy
}

// NewAuthenticator creates an authenticator backed by the given authority
// client.
func NewAuthenticator(api *authority.Client, policy retry.Policy) *Authenticator {
	return &Authenticator{api: api, policy: policy}
}

// Authenticate performs the token exchange. A bad or expired credential is
// AuthRejected and never retried; network failures and 5xx are retried per
// policy and surface as AuthUnavailable once retries are exhausted.
func (a *Authenticator) Authenticate(ctx context.Context, cred model.Credential) (*authority.TokenResponse, error) {
	var token *authority.TokenResponse
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := a.api.Authenticate(ctx, authority.TokenRequest{
			AuthorizationToken: cred.Token,
			ContextIdentifier:  cred.ContextIdentifier,
		})
		if err != nil {
			return err
		}
		token = resp
		return nil
	})
	if err != nil {
		return nil, classifyAuthFailure(err)
	}
	return token, nil
}

func classifyAuthFailure(err error) error {
	var apiErr *authority.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return model.NewError(model.KindAuthRejected, "credential rejected by authority", err)
		}
	}
	return model.NewError(model.KindAuthUnavailable, "authentication endpoint unavailable", err)
}
