package auth

import (
	"context"
	"net/url"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// OwnerPassword authenticates with the resource owner password grant.
type OwnerPassword struct {
	*core
	username string
	password string
}

// Compile-time check that OwnerPassword implements Authenticator
var _ Authenticator = (*OwnerPassword)(nil)

// NewOwnerPassword creates an OwnerPassword authenticator. Only the username is
// part of the hash.
func NewOwnerPassword(p Params, username, password string) (*OwnerPassword, error) {
	if username == "" {
		return nil, autherr.InvalidArgument("Expected username to be a non-empty string")
	}
	if password == "" {
		return nil, autherr.InvalidArgument("Expected password to be a non-empty string")
	}

	c, err := newCore(NameOwnerPassword, p, map[string]any{"username": username})
	if err != nil {
		return nil, err
	}

	a := &OwnerPassword{core: c, username: username, password: password}
	c.reauth = a.grant
	return a, nil
}

func (a *OwnerPassword) Login(ctx context.Context, _ LoginOptions) (*LoginResult, error) {
	rec, err := a.grant(ctx)
	if err != nil {
		return nil, err
	}
	return loginResultFromRecord(rec), nil
}

func (a *OwnerPassword) grant(ctx context.Context) (*tokenstore.Record, error) {
	return a.exchange(ctx, GrantPassword, url.Values{
		"username": {a.username},
		"password": {a.password},
	}, nil)
}
