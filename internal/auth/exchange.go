package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// maxTokenResponseSize caps the token endpoint response body.
const maxTokenResponseSize = 1 << 20

// exchange posts a grant to the token endpoint, builds the resulting record and
// persists it. prev is the record being refreshed, or nil for a fresh login.
func (c *core) exchange(ctx context.Context, grantType string, form url.Values, prev *tokenstore.Record) (*tokenstore.Record, error) {
	ctx, span := tracer.Start(ctx, "auth.token_exchange", trace.WithAttributes(
		attribute.String("auth.authenticator", c.name),
		attribute.String("oauth.grant_type", grantType),
		attribute.String("oauth.client_id", c.clientID),
	))
	defer span.End()

	rec, err := c.doExchange(ctx, grantType, form, prev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(autherr.CodeOf(err)))
		c.logger.DebugContext(ctx, "token exchange failed", "grant_type", grantType, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return rec, nil
}

func (c *core) doExchange(ctx context.Context, grantType string, form url.Values, prev *tokenstore.Record) (*tokenstore.Record, error) {
	form.Set("client_id", c.clientID)
	form.Set("grant_type", grantType)

	issuedAt := c.now()
	tokens, err := c.postToken(ctx, form)
	if err != nil {
		return nil, err
	}

	expires, err := computeExpires(issuedAt, tokens)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		carryOver(tokens, &expires, prev)
	}

	id := c.resolveIdentity(ctx, tokens, prev)

	rec := &tokenstore.Record{
		Hash:          c.hash,
		Authenticator: c.name,
		BaseURL:       c.baseURL,
		Realm:         c.realm,
		ClientID:      c.clientID,
		Env:           c.env,
		Name:          id.account,
		Email:         id.email,
		Tokens:        *tokens,
		Expires:       expires,
		UpdatedAt:     issuedAt,
	}
	if prev != nil {
		rec.CreatedAt = prev.CreatedAt
	}

	if err := c.persist(ctx, rec); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "token issued",
		"grant_type", grantType,
		"account", rec.Name,
		"expires", rec.Expires.Access,
		"refreshable", rec.HasRefreshToken(),
	)
	return rec, nil
}

// postToken sends the form to the token endpoint and decodes the response,
// mapping failures onto the error taxonomy.
func (c *core) postToken(ctx context.Context, form url.Values) (*tokenstore.Tokens, error) {
	tokenURL := c.endpoints.Token

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidArgument, err, "Invalid token endpoint: %s", tokenURL)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestError(ctx, tokenURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, requestError(ctx, tokenURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, autherr.AuthFailed(failureReason(resp, body))
	}

	var tokens tokenstore.Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidServerResponse, err, "Authentication failed: Invalid server response")
	}
	if tokens.AccessToken == "" {
		return nil, autherr.New(autherr.CodeInvalidServerResponse, "Authentication failed: Invalid server response")
	}
	return &tokens, nil
}

// carryOver keeps the refresh token (with its expiry) and the id_token of prev
// when a refresh response omits them. Providers may keep the refresh token
// unchanged and leave it out of the response (RFC 6749 section 6).
func carryOver(tokens *tokenstore.Tokens, expires *tokenstore.Expires, prev *tokenstore.Record) {
	if tokens.RefreshToken == "" && prev.Tokens.RefreshToken != "" {
		tokens.RefreshToken = prev.Tokens.RefreshToken
		tokens.RefreshExpiresIn = prev.Tokens.RefreshExpiresIn
		if prev.Expires.Refresh != nil {
			refresh := *prev.Expires.Refresh
			expires.Refresh = &refresh
		}
	}
	if tokens.IDToken == "" {
		tokens.IDToken = prev.Tokens.IDToken
	}
}

// requestError classifies a failed provider request. A request aborted by the
// caller's context is cancelled or timed out, not a network failure.
func requestError(ctx context.Context, endpoint string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextOutcome(ctxErr)
	}
	return autherr.Network(endpoint, err)
}

// computeExpires derives absolute expiry instants from the relative lifetimes in
// the response. A refresh token without a positive refresh_expires_in is an offline
// token and never expires.
func computeExpires(issuedAt time.Time, tokens *tokenstore.Tokens) (tokenstore.Expires, error) {
	if tokens.ExpiresIn <= 0 {
		return tokenstore.Expires{}, autherr.New(autherr.CodeServerError,
			"Authentication failed: Server response is missing a valid expires_in")
	}

	expires := tokenstore.Expires{
		Access: issuedAt.Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	if tokens.RefreshToken != "" && tokens.RefreshExpiresIn > 0 {
		refresh := issuedAt.Add(time.Duration(tokens.RefreshExpiresIn) * time.Second)
		expires.Refresh = &refresh
	}
	return expires, nil
}
