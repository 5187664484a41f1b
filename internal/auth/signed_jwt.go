package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/florianilch/realmauth/internal/autherr"
	"github.com/florianilch/realmauth/internal/tokenstore"
)

// assertionLifetime is how long a client assertion is valid.
const assertionLifetime = 60 * time.Second

// SignedJWT authenticates a service account with the client_credentials grant,
// proving its identity with a JWT signed by its private key.
type SignedJWT struct {
	*core
	secretFile string
	key        crypto.Signer
	method     jwt.SigningMethod
}

// Compile-time check that SignedJWT implements Authenticator
var _ Authenticator = (*SignedJWT)(nil)

// NewSignedJWT creates a SignedJWT authenticator using the PEM encoded private
// key in secretFile. RSA, EC and Ed25519 keys are supported.
func NewSignedJWT(p Params, secretFile string) (*SignedJWT, error) {
	if secretFile == "" {
		return nil, autherr.InvalidArgument("Expected secret file to be a non-empty string")
	}
	abs, err := filepath.Abs(secretFile)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidArgument, err, "Invalid secret file: %s", secretFile)
	}

	pem, err := os.ReadFile(abs)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeInvalidArgument, err, "Secret file %s cannot be read: %v", abs, err)
	}
	key, method, err := parsePrivateKey(pem)
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeSigningError, err, "Invalid private key in %s: %v", abs, err)
	}

	c, err := newCore(NameSignedJWT, p, map[string]any{"secretFile": abs})
	if err != nil {
		return nil, err
	}

	a := &SignedJWT{core: c, secretFile: abs, key: key, method: method}
	c.reauth = a.grant
	c.clientAuth = a.credentials
	return a, nil
}

func parsePrivateKey(pem []byte) (crypto.Signer, jwt.SigningMethod, error) {
	if rsaKey, err := jwt.ParseRSAPrivateKeyFromPEM(pem); err == nil {
		return rsaKey, jwt.SigningMethodRS256, nil
	}
	if ecKey, err := jwt.ParseECPrivateKeyFromPEM(pem); err == nil {
		return ecKey, ecdsaMethod(ecKey), nil
	}
	edKey, err := jwt.ParseEdPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, nil, err
	}
	signer, ok := edKey.(crypto.Signer)
	if !ok {
		return nil, nil, jwt.ErrInvalidKeyType
	}
	return signer, jwt.SigningMethodEdDSA, nil
}

func ecdsaMethod(key *ecdsa.PrivateKey) jwt.SigningMethod {
	switch key.Curve {
	case elliptic.P384():
		return jwt.SigningMethodES384
	case elliptic.P521():
		return jwt.SigningMethodES512
	default:
		return jwt.SigningMethodES256
	}
}

func (a *SignedJWT) Login(ctx context.Context, _ LoginOptions) (*LoginResult, error) {
	rec, err := a.grant(ctx)
	if err != nil {
		return nil, err
	}
	return loginResultFromRecord(rec), nil
}

func (a *SignedJWT) grant(ctx context.Context) (*tokenstore.Record, error) {
	form, err := a.credentials()
	if err != nil {
		return nil, err
	}
	return a.exchange(ctx, GrantClientCredentials, form, nil)
}

// credentials signs a fresh assertion on every call.
func (a *SignedJWT) credentials() (url.Values, error) {
	assertion, err := a.assertion()
	if err != nil {
		return nil, err
	}
	return url.Values{
		"client_assertion_type": {ClientAssertionTypeJWTBearer},
		"client_assertion":      {assertion},
	}, nil
}

func (a *SignedJWT) assertion() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.clientID,
		Subject:   a.clientID,
		Audience:  jwt.ClaimStrings{a.endpoints.Token},
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(a.method, claims).SignedString(a.key)
	if err != nil {
		return "", autherr.Wrap(autherr.CodeSigningError, err, "Failed to sign client assertion: %v", err)
	}
	return signed, nil
}
