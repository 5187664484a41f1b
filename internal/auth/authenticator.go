package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

var tracer = otel.Tracer("github.com/florianilch/realmauth/internal/auth")

// DefaultInteractiveLoginTimeout bounds the browser round trip when neither the
// call nor the configuration sets one.
const DefaultInteractiveLoginTimeout = 120 * time.Second

// core holds the state and behavior shared by every grant strategy: the token
// exchange, refresh, identity resolution and persistence. Strategies embed it.
type core struct {
	name      string
	hash      string
	baseURL   string
	realm     string
	clientID  string
	env       string
	endpoints Endpoints

	store      tokenstore.TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	threshold  time.Duration
	timeout    time.Duration
	now        func() time.Time

	// reauth re-runs the strategy's grant when no refresh path exists. Nil for
	// interactive strategies.
	reauth func(ctx context.Context) (*tokenstore.Record, error)

	// clientAuth returns the client authentication parameters confidential
	// clients add to refresh requests.
	clientAuth func() (url.Values, error)

	mu      sync.Mutex
	current *tokenstore.Record

	refreshGroup singleflight.Group
}

func newCore(name string, p Params, hashFields map[string]any) (*core, error) {
	if strings.TrimSpace(p.BaseURL) == "" {
		return nil, autherr.InvalidArgument("Expected base URL to be a non-empty string")
	}
	if strings.TrimSpace(p.Realm) == "" {
		return nil, autherr.InvalidArgument("Expected realm to be a non-empty string")
	}
	if strings.TrimSpace(p.ClientID) == "" {
		return nil, autherr.InvalidArgument("Expected client id to be a non-empty string")
	}
	if p.TokenRefreshThreshold < 0 {
		return nil, autherr.InvalidArgument("Token refresh threshold must be greater than or equal to zero")
	}

	c := &core{
		name:       name,
		baseURL:    strings.TrimRight(p.BaseURL, "/"),
		realm:      p.Realm,
		clientID:   p.ClientID,
		env:        p.Env,
		store:      p.TokenStore,
		httpClient: p.HTTPClient,
		logger:     p.Logger,
		threshold:  p.TokenRefreshThreshold,
		timeout:    p.InteractiveLoginTimeout,
		now:        p.Now,
	}
	if p.Endpoints != nil {
		c.endpoints = *p.Endpoints
	} else {
		c.endpoints = ResolveEndpoints(c.baseURL, c.realm)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultInteractiveLoginTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.logger = c.logger.With("authenticator", name, "client_id", c.clientID)

	hash, err := computeHash(name, c.baseURL, c.realm, c.clientID, hashFields)
	if err != nil {
		return nil, err
	}
	c.hash = hash
	return c, nil
}

// computeHash fingerprints a configuration as "<clientId>:<sha256 hex>". The
// digest covers a JSON object whose keys encoding/json emits in sorted order,
// so equal configurations always produce the same hash.
func computeHash(name, baseURL, realm, clientID string, fields map[string]any) (string, error) {
	doc := map[string]any{
		"authenticator": name,
		"baseUrl":       baseURL,
		"realm":         realm,
		"clientId":      clientID,
	}
	for k, v := range fields {
		doc[k] = v
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", autherr.Wrap(autherr.CodeInvalidArgument, err, "Failed to compute authenticator hash")
	}
	sum := sha256.Sum256(canonical)
	return clientID + ":" + hex.EncodeToString(sum[:]), nil
}

func (c *core) Name() string { return c.name }

func (c *core) Hash() string { return c.hash }

// Endpoints returns the provider endpoints this authenticator talks to.
func (c *core) Endpoints() Endpoints { return c.endpoints }

// GetToken returns a usable token for this configuration.
//
// An access token that stays valid beyond the refresh threshold is returned as is.
// Otherwise a valid refresh token is redeemed. Without one, a still-valid access
// token is returned unless refresh was forced, and non-interactive strategies
// re-run their grant. Concurrent calls share one refresh.
func (c *core) GetToken(ctx context.Context, refresh bool) (*TokenSet, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if rec != nil && !refresh && now.Add(c.threshold).Before(rec.Expires.Access) {
		return tokenSetFromRecord(rec), nil
	}

	if rec != nil && rec.RefreshValid(now) {
		v, err, _ := c.refreshGroup.Do(c.hash, func() (any, error) {
			return c.refresh(ctx, rec)
		})
		if err != nil {
			return nil, err
		}
		return tokenSetFromRecord(v.(*tokenstore.Record)), nil
	}

	if rec != nil && !refresh && !rec.AccessExpired(now) {
		return tokenSetFromRecord(rec), nil
	}

	if c.reauth != nil {
		v, err, _ := c.refreshGroup.Do(c.hash, func() (any, error) {
			return c.reauth(ctx)
		})
		if err != nil {
			return nil, err
		}
		return tokenSetFromRecord(v.(*tokenstore.Record)), nil
	}

	if rec == nil {
		return nil, autherr.New(autherr.CodeInvalidToken, "Login required")
	}
	return nil, autherr.New(autherr.CodeInvalidToken, "Access token is expired and no refresh token is available")
}

// load returns the persisted record for this hash, or the in-memory one when no
// store is configured or the store has none.
func (c *core) load(ctx context.Context) (*tokenstore.Record, error) {
	if c.store != nil {
		rec, err := c.store.Get(ctx, tokenstore.Query{Hash: c.hash})
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone(), nil
}

func (c *core) refresh(ctx context.Context, prev *tokenstore.Record) (*tokenstore.Record, error) {
	c.logger.DebugContext(ctx, "refreshing access token", "hash", c.hash)

	form := url.Values{
		"refresh_token": {prev.Tokens.RefreshToken},
	}
	if c.clientAuth != nil {
		params, err := c.clientAuth()
		if err != nil {
			return nil, err
		}
		for k, v := range params {
			form[k] = v
		}
	}
	return c.exchange(ctx, GrantRefreshToken, form, prev)
}

// persist remembers rec in memory and, when configured, writes it to the store.
func (c *core) persist(ctx context.Context, rec *tokenstore.Record) error {
	c.mu.Lock()
	c.current = rec.Clone()
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Set(ctx, rec)
}
