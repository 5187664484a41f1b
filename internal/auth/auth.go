package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokensource"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// Config holds the instance defaults. Per-call LoginOptions take precedence over
// these, and the environment table fills in what neither sets.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Env          string
	Password     string
	Realm        string
	SecretFile   string
	Username     string

	// TokenStore persists records. Nil disables persistence.
	TokenStore tokenstore.TokenStore

	// TokenRefreshThreshold is how long before expiry GetToken refreshes.
	TokenRefreshThreshold time.Duration

	// InteractiveLoginTimeout bounds the browser round trip.
	// Defaults to DefaultInteractiveLoginTimeout.
	InteractiveLoginTimeout time.Duration

	// Discovery makes endpoints come from the provider's OpenID configuration.
	Discovery bool

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Auth is the entry point: it resolves configuration layers, selects the grant
// strategy and manages the stored accounts.
type Auth struct {
	cfg        Config
	store      tokenstore.TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	resolver   *Resolver
	discovery  bool
}

// New validates cfg and creates an Auth.
func New(cfg Config) (*Auth, error) {
	if cfg.TokenRefreshThreshold < 0 {
		return nil, autherr.InvalidArgument("Token refresh threshold must be greater than or equal to zero")
	}
	if cfg.Env != "" {
		if _, err := LookupEnvironment(cfg.Env); err != nil {
			return nil, err
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InteractiveLoginTimeout <= 0 {
		cfg.InteractiveLoginTimeout = DefaultInteractiveLoginTimeout
	}

	return &Auth{
		cfg:        cfg,
		store:      cfg.TokenStore,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		resolver:   NewResolver(cfg.HTTPClient, cfg.Logger),
		discovery:  cfg.Discovery,
	}, nil
}

// resolve merges opts over the instance defaults and the environment table.
func (a *Auth) resolve(ctx context.Context, opts LoginOptions) (Params, LoginOptions, error) {
	envName := firstNonEmpty(opts.Env, a.cfg.Env, DefaultEnv)
	env, err := LookupEnvironment(envName)
	if err != nil {
		return Params{}, opts, err
	}

	p := Params{
		BaseURL:                 firstNonEmpty(opts.BaseURL, a.cfg.BaseURL, env.BaseURL),
		Realm:                   firstNonEmpty(opts.Realm, a.cfg.Realm, env.Realm),
		ClientID:                firstNonEmpty(opts.ClientID, a.cfg.ClientID),
		Env:                     envName,
		TokenStore:              a.store,
		HTTPClient:              a.httpClient,
		Logger:                  a.logger,
		TokenRefreshThreshold:   a.cfg.TokenRefreshThreshold,
		InteractiveLoginTimeout: a.cfg.InteractiveLoginTimeout,
		Now:                     a.cfg.Now,
	}
	if p.BaseURL != "" && p.Realm != "" {
		endpoints := a.resolver.Endpoints(ctx, p.BaseURL, p.Realm, a.discovery)
		p.Endpoints = &endpoints
	}

	creds := opts
	creds.Username = firstNonEmpty(opts.Username, a.cfg.Username)
	creds.Password = firstNonEmpty(opts.Password, a.cfg.Password)
	creds.ClientSecret = firstNonEmpty(opts.ClientSecret, a.cfg.ClientSecret)
	creds.SecretFile = firstNonEmpty(opts.SecretFile, a.cfg.SecretFile)
	return p, creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Authenticator returns the authenticator opts resolve to without logging in.
func (a *Auth) Authenticator(ctx context.Context, opts LoginOptions) (Authenticator, error) {
	p, creds, err := a.resolve(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewAuthenticator(p, creds)
}

// Login authenticates with the strategy opts resolve to. In manual mode the
// result only carries the pending interactive login.
func (a *Auth) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	authenticator, err := a.Authenticator(ctx, opts)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "auth.login")
	defer span.End()

	a.logger.DebugContext(ctx, "logging in", "authenticator", authenticator.Name(), "hash", authenticator.Hash())
	return authenticator.Login(ctx, opts)
}

// GetToken returns a usable token for the account opts resolve to.
func (a *Auth) GetToken(ctx context.Context, opts LoginOptions, refresh bool) (*TokenSet, error) {
	authenticator, err := a.Authenticator(ctx, opts)
	if err != nil {
		return nil, err
	}
	return authenticator.GetToken(ctx, refresh)
}

// AccountQuery identifies a stored account, by name or hash, or by the
// configuration in LoginOptions when neither is set.
type AccountQuery struct {
	LoginOptions

	AccountName string
	Hash        string
}

// GetAccount returns the stored record for q, or nil when there is none.
func (a *Auth) GetAccount(ctx context.Context, q AccountQuery) (*tokenstore.Record, error) {
	if a.store == nil {
		return nil, nil
	}

	query := tokenstore.Query{
		Hash:        q.Hash,
		AccountName: q.AccountName,
		BaseURL:     firstNonEmpty(q.BaseURL, a.cfg.BaseURL),
	}
	if query.Hash == "" && query.AccountName == "" {
		authenticator, err := a.Authenticator(ctx, q.LoginOptions)
		if err != nil {
			return nil, err
		}
		query.Hash = authenticator.Hash()
	}
	return a.store.Get(ctx, query)
}

// List returns every stored account that still has a usable token.
func (a *Auth) List(ctx context.Context) ([]*tokenstore.Record, error) {
	if a.store == nil {
		return []*tokenstore.Record{}, nil
	}
	return a.store.List(ctx)
}

// ServerInfoOptions addresses the provider to describe. URL wins over the
// base URL, realm and environment.
type ServerInfoOptions struct {
	URL     string
	BaseURL string
	Env     string
	Realm   string
}

// ServerInfo returns the provider's OpenID configuration document.
func (a *Auth) ServerInfo(ctx context.Context, opts ServerInfoOptions) (map[string]any, error) {
	wellKnown := opts.URL
	if wellKnown == "" {
		env, err := LookupEnvironment(firstNonEmpty(opts.Env, a.cfg.Env, DefaultEnv))
		if err != nil {
			return nil, err
		}
		baseURL := firstNonEmpty(opts.BaseURL, a.cfg.BaseURL, env.BaseURL)
		realm := firstNonEmpty(opts.Realm, a.cfg.Realm, env.Realm)
		wellKnown = ResolveEndpoints(baseURL, realm).WellKnown
	}

	md, err := a.resolver.Discover(ctx, wellKnown)
	if err != nil {
		return nil, err
	}
	return md.Raw, nil
}

// TokenSource returns an oauth2.TokenSource for the account opts resolve to.
func (a *Auth) TokenSource(ctx context.Context, opts LoginOptions) (*tokensource.TokenSource, error) {
	authenticator, err := a.Authenticator(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tokensource.New(tokenFunc(authenticator),
		tokensource.WithEarlyExpiry(a.cfg.TokenRefreshThreshold)), nil
}

// Client returns an HTTP client that authorizes requests as the account opts
// resolve to.
func (a *Auth) Client(ctx context.Context, opts LoginOptions) (*http.Client, error) {
	authenticator, err := a.Authenticator(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tokensource.NewClient(tokenFunc(authenticator),
		tokensource.WithEarlyExpiry(a.cfg.TokenRefreshThreshold),
		tokensource.WithTransport(a.httpClient.Transport)), nil
}

func tokenFunc(authenticator Authenticator) tokensource.Func {
	return func(ctx context.Context, refresh bool) (*oauth2.Token, error) {
		set, err := authenticator.GetToken(ctx, refresh)
		if err != nil {
			return nil, err
		}
		return set.OAuth2Token(), nil
	}
}

// UserInfo fetches the claims of the account opts resolve to from the
// provider's userinfo endpoint.
func (a *Auth) UserInfo(ctx context.Context, opts LoginOptions) (map[string]any, error) {
	p, creds, err := a.resolve(ctx, opts)
	if err != nil {
		return nil, err
	}
	authenticator, err := NewAuthenticator(p, creds)
	if err != nil {
		return nil, err
	}
	set, err := authenticator.GetToken(ctx, false)
	if err != nil {
		return nil, err
	}

	providerCtx := oidc.ClientContext(ctx, a.httpClient)
	provider := (&oidc.ProviderConfig{
		UserInfoURL: p.Endpoints.UserInfo,
	}).NewProvider(providerCtx)

	info, err := provider.UserInfo(providerCtx, oauth2.StaticTokenSource(set.OAuth2Token()))
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidServerResponse, err, "Invalid userinfo response: %v", err)
	}
	return claims, nil
}
