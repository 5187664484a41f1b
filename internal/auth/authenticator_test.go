package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

func TestHashIsDeterministic(t *testing.T) {
	p := Params{BaseURL: "https://login.example.com", Realm: "Broker", ClientID: "cli"}

	a1, err := NewPKCE(p)
	require.NoError(t, err)
	a2, err := NewPKCE(p)
	require.NoError(t, err)
	assert.Equal(t, a1.Hash(), a2.Hash())
	assert.True(t, strings.HasPrefix(a1.Hash(), "cli:"))

	t.Run("trailing slash is ignored", func(t *testing.T) {
		p2 := p
		p2.BaseURL += "/"
		a, err := NewPKCE(p2)
		require.NoError(t, err)
		assert.Equal(t, a1.Hash(), a.Hash())
	})

	t.Run("distinguishing fields change the hash", func(t *testing.T) {
		other := p
		other.Realm = "Other"
		a, err := NewPKCE(other)
		require.NoError(t, err)
		assert.NotEqual(t, a1.Hash(), a.Hash())

		u1, err := NewOwnerPassword(p, "alice", "pw1")
		require.NoError(t, err)
		u2, err := NewOwnerPassword(p, "alice", "pw2")
		require.NoError(t, err)
		u3, err := NewOwnerPassword(p, "bob", "pw1")
		require.NoError(t, err)
		assert.Equal(t, u1.Hash(), u2.Hash(), "password is not part of the hash")
		assert.NotEqual(t, u1.Hash(), u3.Hash())
		assert.NotEqual(t, a1.Hash(), u1.Hash())
	})

	t.Run("client secret is not revealed", func(t *testing.T) {
		cs, err := NewClientSecret(p, "s3cr3t")
		require.NoError(t, err)
		assert.NotContains(t, cs.Hash(), "s3cr3t")
	})
}

func TestNewCoreValidatesParams(t *testing.T) {
	valid := Params{BaseURL: "https://login.example.com", Realm: "Broker", ClientID: "cli"}

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"missing base url", func(p *Params) { p.BaseURL = "" }},
		{"missing realm", func(p *Params) { p.Realm = "" }},
		{"missing client id", func(p *Params) { p.ClientID = " " }},
		{"negative threshold", func(p *Params) { p.TokenRefreshThreshold = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := NewPKCE(p)
			require.ErrorIs(t, err, autherr.ErrInvalidArgument)
		})
	}
}

func TestLoginUnreachableServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	a, err := NewOwnerPassword(Params{
		BaseURL:  "http://" + addr,
		Realm:    testRealm,
		ClientID: testClientID,
		Logger:   discardLogger(),
	}, "user", "pass")
	require.NoError(t, err)

	_, err = a.Login(context.Background(), LoginOptions{})
	require.ErrorIs(t, err, autherr.ErrNetwork)

	var authErr *autherr.Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "ECONNREFUSED", authErr.TransportCode)
	assert.Contains(t, err.Error(), "request to http://"+addr)
}

func TestLoginTokenEndpointFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, form url.Values)
		want    error
		message string
	}{
		{
			name: "plain text rejection",
			handler: func(w http.ResponseWriter, form url.Values) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("Unauthorized"))
			},
			want:    autherr.ErrAuthFailed,
			message: "Authentication failed: Unauthorized",
		},
		{
			name: "oauth error description",
			handler: func(w http.ResponseWriter, form url.Values) {
				writeTestJSON(w, http.StatusBadRequest, map[string]string{
					"error":             "invalid_grant",
					"error_description": "Invalid user credentials",
				})
			},
			want:    autherr.ErrAuthFailed,
			message: "Authentication failed: Invalid user credentials",
		},
		{
			name: "empty body falls back to status text",
			handler: func(w http.ResponseWriter, form url.Values) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want:    autherr.ErrAuthFailed,
			message: "Authentication failed: Service Unavailable",
		},
		{
			name: "missing access token",
			handler: func(w http.ResponseWriter, form url.Values) {
				writeTestJSON(w, http.StatusOK, map[string]any{"expires_in": 300})
			},
			want:    autherr.ErrInvalidServerResponse,
			message: "Authentication failed: Invalid server response",
		},
		{
			name: "non json body",
			handler: func(w http.ResponseWriter, form url.Values) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("{{{{"))
			},
			want:    autherr.ErrInvalidServerResponse,
			message: "Authentication failed: Invalid server response",
		},
		{
			name: "missing expires_in",
			handler: func(w http.ResponseWriter, form url.Values) {
				writeTestJSON(w, http.StatusOK, map[string]any{"access_token": "a"})
			},
			want: autherr.ErrServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := newFakeIdP(t)
			idp.configure(func(f *fakeIdP) { f.token = tt.handler })

			store := tokenstore.NewMemoryStore()
			a, err := NewOwnerPassword(idp.params(store, nil), "user", "pass")
			require.NoError(t, err)

			_, err = a.Login(context.Background(), LoginOptions{})
			require.ErrorIs(t, err, tt.want)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}

			records, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, records, "failed logins must not persist anything")
		})
	}
}

func TestLoginPersistsRecord(t *testing.T) {
	idp := newFakeIdP(t)
	clock := newTestClock()
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))

	a, err := NewOwnerPassword(idp.params(store, clock), "user", "pass")
	require.NoError(t, err)

	res, err := a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, "access-1", res.AccessToken)
	assert.Equal(t, "tester", res.Account, "account comes from userinfo for opaque tokens")

	form := idp.lastForm()
	assert.Equal(t, GrantPassword, form.Get("grant_type"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, "user", form.Get("username"))
	assert.Equal(t, "pass", form.Get("password"))

	rec, err := store.Get(context.Background(), tokenstore.Query{Hash: a.Hash()})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, NameOwnerPassword, rec.Authenticator)
	assert.Equal(t, idp.URL(), rec.BaseURL)
	assert.Equal(t, testRealm, rec.Realm)
	assert.Equal(t, testClientID, rec.ClientID)
	assert.Equal(t, "access-1", rec.Tokens.AccessToken)
	assert.Equal(t, "refresh-1", rec.Tokens.RefreshToken)
	assert.Equal(t, "openid profile", rec.Tokens.Scope)
	assert.Equal(t, clock.Now().Add(300*time.Second), rec.Expires.Access)
	require.NotNil(t, rec.Expires.Refresh)
	assert.Equal(t, clock.Now().Add(1800*time.Second), *rec.Expires.Refresh)
}

func TestIdentityFromIDToken(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                "4f2c",
		"preferred_username": "tester",
		"email":              "tester@example.com",
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	idp := newFakeIdP(t)
	idp.configure(func(f *fakeIdP) {
		f.token = func(w http.ResponseWriter, form url.Values) {
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token": "opaque",
				"id_token":     idToken,
				"expires_in":   300,
			})
		}
	})

	a, err := NewOwnerPassword(idp.params(nil, nil), "user", "pass")
	require.NoError(t, err)

	res, err := a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tester@example.com", res.Account)
	assert.Equal(t, "tester@example.com", res.Email)
	assert.Zero(t, idp.userinfoCalls.Load(), "id_token claims make userinfo unnecessary")
}

func TestIdentityFallsBackToClientID(t *testing.T) {
	idp := newFakeIdP(t)
	idp.configure(func(f *fakeIdP) { f.userinfo = nil })

	a, err := NewClientSecret(idp.params(nil, nil), "secret")
	require.NoError(t, err)

	res, err := a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, testClientID, res.Account)
	assert.EqualValues(t, 1, idp.userinfoCalls.Load())
}

func TestGetTokenRefreshLifecycle(t *testing.T) {
	idp := newFakeIdP(t)
	clock := newTestClock()
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))

	p := idp.params(store, clock)
	p.TokenRefreshThreshold = 60 * time.Second
	a, err := NewOwnerPassword(p, "user", "pass")
	require.NoError(t, err)

	_, err = a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, idp.tokenCalls.Load())

	t.Run("valid beyond threshold returns stored token", func(t *testing.T) {
		clock.Advance(200 * time.Second)
		set, err := a.GetToken(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "access-1", set.AccessToken)
		assert.EqualValues(t, 1, idp.tokenCalls.Load())
	})

	t.Run("within threshold refreshes", func(t *testing.T) {
		clock.Advance(60 * time.Second)
		set, err := a.GetToken(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "access-2", set.AccessToken)

		form := idp.lastForm()
		assert.Equal(t, GrantRefreshToken, form.Get("grant_type"))
		assert.Equal(t, "refresh-1", form.Get("refresh_token"))

		rec, err := store.Get(context.Background(), tokenstore.Query{Hash: a.Hash()})
		require.NoError(t, err)
		assert.Equal(t, "access-2", rec.Tokens.AccessToken, "refresh is persisted")
		assert.Equal(t, "tester", rec.Name, "identity survives the refresh")
	})

	t.Run("forced refresh", func(t *testing.T) {
		set, err := a.GetToken(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "access-3", set.AccessToken)
	})
}

func TestGetTokenWithoutRefreshPath(t *testing.T) {
	t.Run("pkce without login", func(t *testing.T) {
		idp := newFakeIdP(t)
		a, err := NewPKCE(idp.params(tokenstore.NewMemoryStore(), nil))
		require.NoError(t, err)

		_, err = a.GetToken(context.Background(), false)
		require.ErrorIs(t, err, autherr.ErrInvalidToken)
		assert.Zero(t, idp.tokenCalls.Load())
	})

	t.Run("pkce with expired tokens", func(t *testing.T) {
		idp := newFakeIdP(t)
		clock := newTestClock()
		a, err := NewPKCE(idp.params(nil, clock))
		require.NoError(t, err)

		_, err = a.Login(context.Background(), LoginOptions{Code: String("code")})
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, err = a.GetToken(context.Background(), false)
		require.ErrorIs(t, err, autherr.ErrInvalidToken)
		assert.EqualValues(t, 1, idp.tokenCalls.Load())
	})

	t.Run("client credentials re-authenticate", func(t *testing.T) {
		idp := newFakeIdP(t)
		clock := newTestClock()
		a, err := NewClientSecret(idp.params(nil, clock), "secret")
		require.NoError(t, err)

		_, err = a.Login(context.Background(), LoginOptions{})
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		set, err := a.GetToken(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "access-2", set.AccessToken)
		assert.Equal(t, GrantClientCredentials, idp.lastForm().Get("grant_type"))
	})
}

func TestGetTokenSharesConcurrentRefresh(t *testing.T) {
	idp := newFakeIdP(t)
	clock := newTestClock()
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))

	a, err := NewOwnerPassword(idp.params(store, clock), "user", "pass")
	require.NoError(t, err)
	_, err = a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)

	idp.configure(func(f *fakeIdP) { f.tokenDelay = 200 * time.Millisecond })

	const callers = 5
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		tokens = make([]string, callers)
		errs   = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			set, err := a.GetToken(context.Background(), true)
			errs[i] = err
			if set != nil {
				tokens[i] = set.AccessToken
			}
		}()
	}
	close(start)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	assert.EqualValues(t, 2, idp.tokenCalls.Load(), "one login plus one shared refresh")
}

func TestOfflineRefreshTokenNeverExpires(t *testing.T) {
	idp := newFakeIdP(t)
	idp.configure(func(f *fakeIdP) {
		f.token = func(w http.ResponseWriter, form url.Values) {
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token":       "a",
				"refresh_token":      "offline",
				"expires_in":         300,
				"refresh_expires_in": 0,
			})
		}
	})
	clock := newTestClock()
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))

	a, err := NewOwnerPassword(idp.params(store, clock), "user", "pass")
	require.NoError(t, err)
	_, err = a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), tokenstore.Query{Hash: a.Hash()})
	require.NoError(t, err)
	assert.Nil(t, rec.Expires.Refresh)

	clock.Advance(365 * 24 * time.Hour)
	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRefreshKeepsOmittedRefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	clock := newTestClock()
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(clock.Now))

	idp.configure(func(f *fakeIdP) {
		f.token = func(w http.ResponseWriter, form url.Values) {
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token":       "access-login",
				"refresh_token":      "refresh-login",
				"id_token":           "id-login",
				"expires_in":         300,
				"refresh_expires_in": 1800,
			})
		}
	})

	a, err := NewOwnerPassword(idp.params(store, clock), "user", "pass")
	require.NoError(t, err)
	_, err = a.Login(context.Background(), LoginOptions{})
	require.NoError(t, err)

	loginRec, err := store.Get(context.Background(), tokenstore.Query{Hash: a.Hash()})
	require.NoError(t, err)
	require.NotNil(t, loginRec.Expires.Refresh)

	// The refresh response carries neither a refresh token nor an id_token.
	idp.configure(func(f *fakeIdP) {
		f.token = func(w http.ResponseWriter, form url.Values) {
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token": "access-refreshed",
				"expires_in":   300,
			})
		}
	})

	set, err := a.GetToken(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", set.AccessToken)
	assert.Equal(t, "refresh-login", idp.lastForm().Get("refresh_token"))

	rec, err := store.Get(context.Background(), tokenstore.Query{Hash: a.Hash()})
	require.NoError(t, err)
	assert.Equal(t, "refresh-login", rec.Tokens.RefreshToken)
	assert.Equal(t, "id-login", rec.Tokens.IDToken)
	require.NotNil(t, rec.Expires.Refresh)
	assert.Equal(t, *loginRec.Expires.Refresh, *rec.Expires.Refresh, "refresh expiry is unchanged")

	t.Run("session survives access expiry", func(t *testing.T) {
		clock.Advance(10 * time.Minute)

		records, err := store.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, records, 1)

		set, err := a.GetToken(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, "access-refreshed", set.AccessToken)
		assert.Equal(t, "refresh-login", idp.lastForm().Get("refresh_token"))
	})
}

func TestLoginAbortedByContext(t *testing.T) {
	idp := newFakeIdP(t)
	idp.configure(func(f *fakeIdP) { f.tokenDelay = 500 * time.Millisecond })

	a, err := NewClientSecret(idp.params(nil, nil), "secret")
	require.NoError(t, err)

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		_, err := a.Login(ctx, LoginOptions{})
		require.ErrorIs(t, err, autherr.ErrCancelled)
		assert.NotErrorIs(t, err, autherr.ErrNetwork)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := a.Login(ctx, LoginOptions{})
		require.ErrorIs(t, err, autherr.ErrTimeout)
		assert.Equal(t, "Authentication failed: Timed out", err.Error())
	})
}
