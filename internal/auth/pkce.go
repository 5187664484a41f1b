package auth

import (
	"context"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

const errEmptyCode = "Expected code for interactive authentication to be a non-empty string"

// PKCE authenticates a human through the authorization-code grant with a PKCE
// challenge. Login opens a browser and captures the redirect on a loopback
// listener, or exchanges a code the caller already holds.
type PKCE struct {
	*core

	// verifier backs AuthCodeURL and direct code exchanges. Browser logins use a
	// fresh verifier per attempt.
	verifier string
}

// Compile-time check that PKCE implements Authenticator
var _ Authenticator = (*PKCE)(nil)

// NewPKCE creates a PKCE authenticator.
func NewPKCE(p Params) (*PKCE, error) {
	c, err := newCore(NamePKCE, p, nil)
	if err != nil {
		return nil, err
	}
	return &PKCE{core: c, verifier: oauth2.GenerateVerifier()}, nil
}

// AuthCodeURL returns the authorize URL for redirectURI using this
// authenticator's verifier, for callers that capture the code themselves and
// finish with LoginOptions.Code.
func (p *PKCE) AuthCodeURL(redirectURI string) string {
	return p.authorizeURL(oauth2.S256ChallengeFromVerifier(p.verifier), redirectURI)
}

// Verifier returns the PKCE verifier behind AuthCodeURL. Callers that finish
// the login in another process pass it back as LoginOptions.CodeVerifier.
func (p *PKCE) Verifier() string {
	return p.verifier
}

// Login runs the interactive flow. With opts.Code set the code is exchanged
// directly. With opts.Manual the result carries a PendingLogin instead of a token.
func (p *PKCE) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	if opts.Code != nil {
		if *opts.Code == "" {
			return nil, autherr.InvalidArgument(errEmptyCode)
		}
		verifier := p.verifier
		if opts.CodeVerifier != "" {
			verifier = opts.CodeVerifier
		}
		rec, err := p.exchangeCode(ctx, *opts.Code, verifier, opts.RedirectURI)
		if err != nil {
			return nil, err
		}
		return loginResultFromRecord(rec), nil
	}

	pending, err := p.startInteractive(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Manual {
		return &LoginResult{Pending: pending}, nil
	}
	return pending.Wait(ctx)
}

func (p *PKCE) exchangeCode(ctx context.Context, code, verifier, redirectURI string) (*tokenstore.Record, error) {
	form := url.Values{
		"code":          {code},
		"code_verifier": {verifier},
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return p.exchange(ctx, GrantAuthorizationCode, form, nil)
}

// authorizeURL builds the authorization request. url.Values encodes keys in
// sorted order.
func (p *PKCE) authorizeURL(challenge, redirectURI string) string {
	q := url.Values{
		"access_type":           {"offline"},
		"client_id":             {p.clientID},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"grant_type":            {GrantAuthorizationCode},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid"},
	}
	return p.endpoints.Auth + "?" + q.Encode()
}
