package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florianilch/realmauth/internal/tokenstore"
)

const (
	testRealm    = "test_realm"
	testClientID = "test_client"
)

// fakeIdP is a minimal Keycloak stand-in. It counts calls per endpoint and
// records every form posted to the token endpoint.
type fakeIdP struct {
	server *httptest.Server

	tokenCalls     atomic.Int32
	logoutCalls    atomic.Int32
	userinfoCalls  atomic.Int32
	wellKnownCalls atomic.Int32

	mu          sync.Mutex
	forms       []url.Values
	logoutForms []url.Values

	// Behavior knobs, guarded by mu. Use configure to change them.

	// token overrides the default token response when set.
	token func(w http.ResponseWriter, form url.Values)

	// tokenDelay is slept before answering token requests.
	tokenDelay time.Duration

	logoutStatus int
	userinfo     map[string]any
	wellKnown    func(w http.ResponseWriter)
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	f := &fakeIdP{
		logoutStatus: http.StatusNoContent,
		userinfo: map[string]any{
			"sub":                "4f2c",
			"preferred_username": "tester",
		},
	}

	prefix := "/auth/realms/" + testRealm
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+prefix+"/protocol/openid-connect/token", f.handleToken)
	mux.HandleFunc("POST "+prefix+"/protocol/openid-connect/logout", f.handleLogout)
	mux.HandleFunc("GET "+prefix+"/protocol/openid-connect/userinfo", f.handleUserInfo)
	mux.HandleFunc("GET "+prefix+"/.well-known/openid-configuration", f.handleWellKnown)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) URL() string { return f.server.URL }

func (f *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	n := f.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	delay, token := f.tokenDelay, f.token
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if token != nil {
		token(w, r.PostForm)
		return
	}

	resp := map[string]any{
		"access_token": "access-" + strconv.Itoa(int(n)),
		"token_type":   "Bearer",
		"expires_in":   300,
		"scope":        "openid profile",
	}
	if r.PostForm.Get("grant_type") != GrantClientCredentials {
		resp["refresh_token"] = "refresh-" + strconv.Itoa(int(n))
		resp["refresh_expires_in"] = 1800
	}
	writeTestJSON(w, http.StatusOK, resp)
}

func (f *fakeIdP) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.logoutCalls.Add(1)
	_ = r.ParseForm()
	f.mu.Lock()
	f.logoutForms = append(f.logoutForms, r.PostForm)
	status := f.logoutStatus
	f.mu.Unlock()
	w.WriteHeader(status)
}

func (f *fakeIdP) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	f.userinfoCalls.Add(1)
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	info := f.userinfo
	f.mu.Unlock()
	if info == nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	writeTestJSON(w, http.StatusOK, info)
}

func (f *fakeIdP) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	f.wellKnownCalls.Add(1)
	f.mu.Lock()
	override := f.wellKnown
	f.mu.Unlock()
	if override != nil {
		override(w)
		return
	}
	realmURL := f.URL() + "/auth/realms/" + testRealm
	writeTestJSON(w, http.StatusOK, map[string]any{
		"issuer":                 realmURL,
		"authorization_endpoint": realmURL + "/protocol/openid-connect/auth",
		"token_endpoint":         realmURL + "/protocol/openid-connect/token",
		"userinfo_endpoint":      realmURL + "/protocol/openid-connect/userinfo",
		"jwks_uri":               realmURL + "/protocol/openid-connect/certs",
		"end_session_endpoint":   realmURL + "/protocol/openid-connect/logout",
		"grant_types_supported":  []string{"authorization_code", "refresh_token", "password", "client_credentials"},
	})
}

// configure changes the fake's behavior while it may be serving requests.
func (f *fakeIdP) configure(fn func(f *fakeIdP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeIdP) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock safe for concurrent reads.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// params returns authenticator parameters pointing at the fake provider.
func (f *fakeIdP) params(store tokenstore.TokenStore, clock *testClock) Params {
	p := Params{
		BaseURL:    f.URL(),
		Realm:      testRealm,
		ClientID:   testClientID,
		TokenStore: store,
		HTTPClient: f.server.Client(),
		Logger:     discardLogger(),
	}
	if clock != nil {
		p.Now = clock.Now
	}
	return p
}
