package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/realmauth/internal/tokenstore"
)

// Grant types sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
)

// Client assertion type for the SignedJWT strategy.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Authenticator names, also persisted on records.
const (
	NamePKCE          = "PKCE"
	NameClientSecret  = "ClientSecret"
	NameOwnerPassword = "OwnerPassword"
	NameSignedJWT     = "SignedJWT"
)

// Authenticator obtains and maintains tokens for one grant configuration.
type Authenticator interface {
	// Name identifies the grant strategy.
	Name() string

	// Hash is the fingerprint of the configuration and the token store key.
	Hash() string

	// Login obtains the initial token and persists it.
	Login(ctx context.Context, opts LoginOptions) (*LoginResult, error)

	// GetToken returns a usable token, refreshing when within the refresh
	// threshold or when refresh is true.
	GetToken(ctx context.Context, refresh bool) (*TokenSet, error)
}

// Params is the configuration shared by all strategies.
type Params struct {
	BaseURL  string
	Realm    string
	ClientID string
	Env      string

	// Endpoints overrides the static endpoints computed from BaseURL and Realm.
	Endpoints *Endpoints

	// TokenStore persists records. Nil disables persistence.
	TokenStore tokenstore.TokenStore

	HTTPClient *http.Client
	Logger     *slog.Logger

	// TokenRefreshThreshold is how long before access expiry GetToken refreshes.
	TokenRefreshThreshold time.Duration

	// InteractiveLoginTimeout bounds the PKCE redirect wait.
	InteractiveLoginTimeout time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// LoginOptions are the per-call options. Credential fields are consumed by the
// facade for strategy selection; the interactive fields apply to PKCE only.
type LoginOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Env          string
	Password     string
	Realm        string
	SecretFile   string
	Username     string

	// Code exchanges an authorization code directly, skipping the browser.
	// A non-nil empty code is rejected.
	Code *string

	// RedirectURI is sent along with a direct Code exchange and must match the
	// one the code was issued for.
	RedirectURI string

	// CodeVerifier is the PKCE verifier the Code was requested with. Empty uses
	// the authenticator's own verifier, which only matches codes requested
	// through AuthCodeURL on the same authenticator.
	CodeVerifier string

	// Manual returns the authorize URL in LoginResult.Pending instead of opening a browser.
	Manual bool

	// App opens the authorize URL with the given command and arguments instead of
	// the default browser. The URL is appended as the last argument.
	App []string

	// Wait additionally waits for App to exit before returning.
	Wait bool

	// Timeout overrides the interactive login timeout.
	Timeout time.Duration

	// OnURL is called with the authorize URL before the browser is launched.
	OnURL func(url string)
}

// TokenSet is a usable token as returned by GetToken.
type TokenSet struct {
	AccessToken   string
	RefreshToken  string
	IDToken       string
	TokenType     string
	Expiry        time.Time
	RefreshExpiry *time.Time

	Record *tokenstore.Record
}

// LoginResult is the outcome of a login. In manual mode only Pending is set.
type LoginResult struct {
	AccessToken string
	Account     string
	Name        string
	Email       string
	Record      *tokenstore.Record

	Pending *PendingLogin
}

// OAuth2Token converts the set for use with golang.org/x/oauth2.
func (t *TokenSet) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": t.IDToken})
	}
	return tok
}

func tokenSetFromRecord(rec *tokenstore.Record) *TokenSet {
	return &TokenSet{
		AccessToken:   rec.Tokens.AccessToken,
		RefreshToken:  rec.Tokens.RefreshToken,
		IDToken:       rec.Tokens.IDToken,
		TokenType:     rec.Tokens.TokenType,
		Expiry:        rec.Expires.Access,
		RefreshExpiry: rec.Expires.Refresh,
		Record:        rec,
	}
}

func loginResultFromRecord(rec *tokenstore.Record) *LoginResult {
	return &LoginResult{
		AccessToken: rec.Tokens.AccessToken,
		Account:     rec.Name,
		Name:        rec.Name,
		Email:       rec.Email,
		Record:      rec,
	}
}

// String returns a pointer to s, for LoginOptions.Code.
func String(s string) *string {
	return &s
}
