package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// ClientSecret authenticates a confidential client with the client_credentials grant.
type ClientSecret struct {
	*core
	secret string
}

// Compile-time check that ClientSecret implements Authenticator
var _ Authenticator = (*ClientSecret)(nil)

// NewClientSecret creates a ClientSecret authenticator.
func NewClientSecret(p Params, clientSecret string) (*ClientSecret, error) {
	if clientSecret == "" {
		return nil, autherr.InvalidArgument("Expected client secret to be a non-empty string")
	}

	// The hash must not reveal the secret itself.
	sum := sha256.Sum256([]byte(clientSecret))
	c, err := newCore(NameClientSecret, p, map[string]any{
		"clientSecret": hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return nil, err
	}

	a := &ClientSecret{core: c, secret: clientSecret}
	c.reauth = a.grant
	c.clientAuth = a.credentials
	return a, nil
}

func (a *ClientSecret) Login(ctx context.Context, _ LoginOptions) (*LoginResult, error) {
	rec, err := a.grant(ctx)
	if err != nil {
		return nil, err
	}
	return loginResultFromRecord(rec), nil
}

func (a *ClientSecret) grant(ctx context.Context) (*tokenstore.Record, error) {
	form, _ := a.credentials()
	return a.exchange(ctx, GrantClientCredentials, form, nil)
}

func (a *ClientSecret) credentials() (url.Values, error) {
	return url.Values{"client_secret": {a.secret}}, nil
}
