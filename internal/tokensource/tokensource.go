package tokensource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single Token call.
const DefaultTimeout = 30 * time.Second

// Func returns a usable token, forcing a refresh when refresh is true.
type Func func(ctx context.Context, refresh bool) (*oauth2.Token, error)

// Option configures a TokenSource.
type Option func(*config)

type config struct {
	timeout       time.Duration
	earlyExpiry   time.Duration
	baseTransport http.RoundTripper
}

// WithTimeout bounds each token lookup. Token has no context parameter, so this
// is the only way to bound a refresh.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithEarlyExpiry makes cached tokens count as expired d before their expiry.
func WithEarlyExpiry(d time.Duration) Option {
	return func(c *config) {
		c.earlyExpiry = d
	}
}

// WithTransport sets the base transport used by NewClient.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.baseTransport = transport
	}
}

// TokenSource adapts a Func to oauth2.TokenSource. Tokens are cached until they
// are about to expire.
type TokenSource struct {
	fetch   Func
	timeout time.Duration

	reuse oauth2.TokenSource

	mu     sync.Mutex
	forced *oauth2.Token
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// New creates a TokenSource backed by fetch.
func New(fetch Func, opts ...Option) *TokenSource {
	cfg := newConfig(opts)

	ts := &TokenSource{
		fetch:   fetch,
		timeout: cfg.timeout,
	}
	ts.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, sourceFunc(func() (*oauth2.Token, error) {
		return ts.get(false)
	}), cfg.earlyExpiry)
	return ts
}

func newConfig(opts []Option) *config {
	cfg := &config{
		timeout:       DefaultTimeout,
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Token returns a valid token, fetching a new one when the cached one expired.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	forced := ts.forced
	ts.mu.Unlock()
	if forced.Valid() {
		return forced, nil
	}
	return ts.reuse.Token()
}

// Refresh forces a refresh regardless of the cached token's expiry.
func (ts *TokenSource) Refresh() (*oauth2.Token, error) {
	tok, err := ts.get(true)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	ts.forced = tok
	ts.mu.Unlock()
	return tok, nil
}

func (ts *TokenSource) get(refresh bool) (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx, cancel := context.WithTimeout(context.Background(), ts.timeout)
	defer cancel()

	tok, err := ts.fetch(ctx, refresh)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	return tok, nil
}

type sourceFunc func() (*oauth2.Token, error)

func (f sourceFunc) Token() (*oauth2.Token, error) { return f() }

// NewClient returns an HTTP client that authorizes requests with tokens from
// fetch. A 401 answer triggers one forced refresh and a retry when the request
// body can be replayed.
func NewClient(fetch Func, opts ...Option) *http.Client {
	cfg := newConfig(opts)
	ts := New(fetch, opts...)

	return &http.Client{
		Transport: &retryTransport{
			base: &oauth2.Transport{
				Source: ts,
				Base:   cfg.baseTransport,
			},
			refreshed: &oauth2.Transport{
				Source: sourceFunc(ts.Refresh),
				Base:   cfg.baseTransport,
			},
		},
	}
}

// retryTransport retries a request once with a freshly refreshed token when the
// resource server rejects the cached one.
type retryTransport struct {
	base      http.RoundTripper
	refreshed http.RoundTripper
}

// Compile-time check that retryTransport implements http.RoundTripper.
var _ http.RoundTripper = (*retryTransport)(nil)

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	retry, err := replayable(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || retry == nil {
		return resp, err
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return t.refreshed.RoundTrip(retry)
}

// replayable returns a clone of req that can be sent again, or nil when the
// body cannot be rewound.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), nil
	}
	if req.GetBody == nil {
		return nil, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding request body: %w", err)
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	return retry, nil
}
