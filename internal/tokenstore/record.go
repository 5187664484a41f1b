package tokenstore

import (
	"encoding/json"
	"strings"
	"time"
)

// Tokens holds the raw token endpoint response. Known fields are typed; anything
// else the provider returned is kept in Extra and written back on save.
type Tokens struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownTokenFields = []string{
	"access_token", "refresh_token", "id_token", "token_type",
	"expires_in", "refresh_expires_in", "scope", "session_state",
}

type tokensAlias Tokens

// MarshalJSON merges Extra into the object.
func (t Tokens) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(tokensAlias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(t.Extra)+len(knownTokenFields))
	for k, v := range t.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the typed fields and collects unknown ones into Extra.
func (t *Tokens) UnmarshalJSON(data []byte) error {
	var alias tokensAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownTokenFields {
		delete(raw, k)
	}
	*t = Tokens(alias)
	if len(raw) > 0 {
		t.Extra = raw
	}
	return nil
}

// Expires holds absolute expiry instants. Refresh is nil when no refresh token was
// issued or the refresh token does not expire (offline tokens).
type Expires struct {
	Access  time.Time  `json:"access"`
	Refresh *time.Time `json:"refresh"`
}

// Record is the unit persisted per authenticated identity.
type Record struct {
	Hash          string  `json:"hash"`
	Authenticator string  `json:"authenticator"`
	BaseURL       string  `json:"baseUrl"`
	Realm         string  `json:"realm"`
	ClientID      string  `json:"clientId"`
	Env           string  `json:"env,omitempty"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	Tokens        Tokens  `json:"tokens"`
	Expires       Expires `json:"expires"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Account returns the principal's account name.
func (r *Record) Account() string {
	return r.Name
}

// HasRefreshToken reports whether a refresh token was issued.
func (r *Record) HasRefreshToken() bool {
	return r.Tokens.RefreshToken != ""
}

// AccessExpired reports whether the access token is expired at now.
func (r *Record) AccessExpired(now time.Time) bool {
	return !now.Before(r.Expires.Access)
}

// RefreshValid reports whether a refresh token exists and is not expired at now.
func (r *Record) RefreshValid(now time.Time) bool {
	if !r.HasRefreshToken() {
		return false
	}
	return r.Expires.Refresh == nil || now.Before(*r.Expires.Refresh)
}

// Expired reports whether neither the access token nor a refresh token is usable.
func (r *Record) Expired(now time.Time) bool {
	return r.AccessExpired(now) && !r.RefreshValid(now)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Expires.Refresh != nil {
		refresh := *r.Expires.Refresh
		c.Expires.Refresh = &refresh
	}
	if r.Tokens.Extra != nil {
		c.Tokens.Extra = make(map[string]any, len(r.Tokens.Extra))
		for k, v := range r.Tokens.Extra {
			c.Tokens.Extra[k] = v
		}
	}
	return &c
}

func (r *Record) matchesBaseURL(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	return normalizeURL(r.BaseURL) == normalizeURL(baseURL)
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}
