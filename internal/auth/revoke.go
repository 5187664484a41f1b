package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// maxConcurrentLogouts bounds the provider logout calls issued by one revoke.
const maxConcurrentLogouts = 4

// RevokeOptions selects the accounts to revoke.
type RevokeOptions struct {
	// Accounts lists account names or hashes.
	Accounts []string

	// All revokes every account.
	All bool

	// BaseURL limits the revocation to one provider.
	BaseURL string
}

// Revoke removes the selected records from the token store and logs each one
// out at its provider. Logout failures are logged only, so a revoke succeeds
// once the records are removed locally.
func (a *Auth) Revoke(ctx context.Context, opts RevokeOptions) ([]*tokenstore.Record, error) {
	if !opts.All && len(opts.Accounts) == 0 {
		return nil, autherr.InvalidArgument(`Expected accounts to be "all" or a list of accounts`)
	}
	if a.store == nil {
		a.logger.DebugContext(ctx, "no token store, nothing to revoke")
		return []*tokenstore.Record{}, nil
	}

	var (
		revoked []*tokenstore.Record
		err     error
	)
	if opts.All {
		revoked, err = a.store.Clear(ctx, opts.BaseURL)
	} else {
		revoked, err = a.store.Delete(ctx, opts.Accounts, opts.BaseURL)
	}
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLogouts)
	for _, rec := range revoked {
		if !rec.HasRefreshToken() {
			continue
		}
		g.Go(func() error {
			if err := a.logout(gctx, rec); err != nil {
				a.logger.WarnContext(gctx, "provider logout failed",
					"account", rec.Name, "base_url", rec.BaseURL, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.InfoContext(ctx, "revoked accounts", "count", len(revoked))
	return revoked, nil
}

// logout ends the provider session behind rec.
func (a *Auth) logout(ctx context.Context, rec *tokenstore.Record) error {
	endpoints := a.resolver.Endpoints(ctx, rec.BaseURL, rec.Realm, a.discovery)

	form := url.Values{
		"client_id":     {rec.ClientID},
		"refresh_token": {rec.Tokens.RefreshToken},
	}
	if rec.Tokens.IDToken != "" {
		form.Set("id_token_hint", rec.Tokens.IDToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.Logout, strings.NewReader(form.Encode()))
	if err != nil {
		return autherr.Wrap(autherr.CodeInvalidArgument, err, "Invalid logout endpoint: %s", endpoints.Logout)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return requestError(ctx, endpoints.Logout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return autherr.AuthFailed(failureReason(resp, body))
	}

	a.logger.DebugContext(ctx, "provider session ended", "account", rec.Name)
	return nil
}
