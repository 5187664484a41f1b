package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/florianilch/realmauth/internal/tokenstore"
)

type identity struct {
	account string
	email   string
}

// resolveIdentity determines who a token belongs to. Claims come from the
// id_token, then from the access token when it is a JWT, then from the userinfo
// endpoint. A refresh without identity claims keeps the previous identity, and
// the client id is the last resort.
func (c *core) resolveIdentity(ctx context.Context, tokens *tokenstore.Tokens, prev *tokenstore.Record) identity {
	for _, raw := range []string{tokens.IDToken, tokens.AccessToken} {
		if id, ok := identityFromJWT(raw); ok {
			return id
		}
	}

	if prev != nil && prev.Name != "" {
		return identity{account: prev.Name, email: prev.Email}
	}

	info, err := c.userInfo(ctx, tokens.AccessToken)
	if err == nil {
		if id, ok := identityFromClaims(info); ok {
			return id
		}
	} else {
		c.logger.WarnContext(ctx, "failed to resolve account from userinfo, using client id", "error", err)
	}

	return identity{account: c.clientID}
}

// identityFromJWT reads identity claims without verifying the signature. The
// token was received directly from the token endpoint, so it is trusted as is.
func identityFromJWT(raw string) (identity, bool) {
	if raw == "" {
		return identity{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return identity{}, false
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims map[string]any) (identity, bool) {
	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}

	id := identity{email: str("email")}
	for _, key := range []string{"email", "preferred_username", "sub"} {
		if v := str(key); v != "" {
			id.account = v
			break
		}
	}
	if id.account == "" {
		return identity{}, false
	}
	return id, true
}

// userInfo queries the userinfo endpoint with accessToken.
func (c *core) userInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	provider := (&oidc.ProviderConfig{
		IssuerURL:   c.baseURL + "/auth/realms/" + c.realm,
		AuthURL:     c.endpoints.Auth,
		TokenURL:    c.endpoints.Token,
		UserInfoURL: c.endpoints.UserInfo,
		JWKSURL:     c.endpoints.Certs,
	}).NewProvider(oidc.ClientContext(ctx, c.httpClient))

	info, err := provider.UserInfo(oidc.ClientContext(ctx, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	var claims map[string]any
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo claims: %w", err)
	}
	return claims, nil
}
