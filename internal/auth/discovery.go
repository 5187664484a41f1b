package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/realmauth/internal/autherr"
)

// DefaultDiscoveryTTL is how long a fetched OpenID configuration is reused.
const DefaultDiscoveryTTL = 30 * time.Minute

// ProviderMetadata is a parsed OpenID configuration document.
type ProviderMetadata struct {
	oidc.ProviderConfig

	// EndSessionURL is the advertised logout endpoint (not part of oidc.ProviderConfig).
	EndSessionURL string

	// Raw holds the complete document as published by the provider.
	Raw map[string]any
}

type discoveryEntry struct {
	metadata  *ProviderMetadata
	fetchedAt time.Time
}

// Resolver computes provider endpoints and fetches OpenID discovery documents.
// Documents are cached per URL; concurrent fetches for the same URL are collapsed.
type Resolver struct {
	httpClient *http.Client
	logger     *slog.Logger
	ttl        time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]*discoveryEntry
	group singleflight.Group
}

// NewResolver creates a Resolver. A nil httpClient falls back to http.DefaultClient.
func NewResolver(httpClient *http.Client, logger *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		httpClient: httpClient,
		logger:     logger,
		ttl:        DefaultDiscoveryTTL,
		now:        time.Now,
		cache:      make(map[string]*discoveryEntry),
	}
}

// Endpoints returns the endpoints for baseURL/realm. When discover is set, endpoints
// advertised by the provider's OpenID configuration replace the static ones; a failed
// discovery is logged and the static endpoints are kept.
func (r *Resolver) Endpoints(ctx context.Context, baseURL, realm string, discover bool) Endpoints {
	endpoints := ResolveEndpoints(baseURL, realm)
	if !discover {
		return endpoints
	}

	md, err := r.Discover(ctx, endpoints.WellKnown)
	if err != nil {
		r.logger.WarnContext(ctx, "endpoint discovery failed, using static endpoints",
			"url", endpoints.WellKnown, "error", err)
		return endpoints
	}

	overrideIfSet(&endpoints.Auth, md.AuthURL)
	overrideIfSet(&endpoints.Token, md.TokenURL)
	overrideIfSet(&endpoints.UserInfo, md.UserInfoURL)
	overrideIfSet(&endpoints.Certs, md.JWKSURL)
	overrideIfSet(&endpoints.Logout, md.EndSessionURL)
	return endpoints
}

func overrideIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Discover fetches and parses the OpenID configuration at wellKnownURL.
func (r *Resolver) Discover(ctx context.Context, wellKnownURL string) (*ProviderMetadata, error) {
	if md, ok := r.cached(wellKnownURL); ok {
		return md, nil
	}

	result, err, _ := r.group.Do(wellKnownURL, func() (any, error) {
		if md, ok := r.cached(wellKnownURL); ok {
			return md, nil
		}

		md, err := r.fetch(ctx, wellKnownURL)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[wellKnownURL] = &discoveryEntry{metadata: md, fetchedAt: r.now()}
		r.mu.Unlock()
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProviderMetadata), nil
}

func (r *Resolver) cached(key string) (*ProviderMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[key]
	if !ok || r.now().Sub(entry.fetchedAt) >= r.ttl {
		return nil, false
	}
	return entry.metadata, true
}

func (r *Resolver) fetch(ctx context.Context, wellKnownURL string) (*ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidArgument, err, "Invalid discovery URL: %s", wellKnownURL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, requestError(ctx, wellKnownURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(ctx, wellKnownURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, autherr.AuthFailed(failureReason(resp, body))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidServerResponse, err, "Authentication failed: Invalid server response")
	}

	md := &ProviderMetadata{Raw: raw}
	if err := json.Unmarshal(body, &md.ProviderConfig); err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidServerResponse, err, "Authentication failed: Invalid server response")
	}
	if v, ok := raw["end_session_endpoint"].(string); ok {
		md.EndSessionURL = v
	}

	r.logger.DebugContext(ctx, "discovered provider configuration",
		"url", wellKnownURL, "issuer", md.IssuerURL)
	return md, nil
}

// failureReason picks the most descriptive message from a non-2xx response: the
// OAuth error_description or error field, the plain-text body, or the status text.
func failureReason(resp *http.Response, body []byte) string {
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(body, &oauthErr) == nil {
		switch {
		case oauthErr.ErrorDescription != "":
			return oauthErr.ErrorDescription
		case oauthErr.Message != "":
			return oauthErr.Message
		case oauthErr.Error != "":
			return oauthErr.Error
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "<") && len(text) <= 512 {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
