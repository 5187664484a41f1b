// Package tokensource adapts an authenticator's token lookup to the
// golang.org/x/oauth2 interfaces.
//
// The lookup itself (refresh, persistence, re-authentication) stays with the
// caller; this package only caches the result and wires it into HTTP clients.
//
// # Token Sources
//
//	ts := tokensource.New(func(ctx context.Context, refresh bool) (*oauth2.Token, error) {
//		set, err := authenticator.GetToken(ctx, refresh)
//		if err != nil {
//			return nil, err
//		}
//		return set.OAuth2Token(), nil
//	})
//	// TokenSource implements oauth2.TokenSource and can be used with oauth2.Transport
//
// # HTTP Clients
//
// NewClient returns an *http.Client that sets the Authorization header and
// retries once with a refreshed token when the server answers 401:
//
//	client := tokensource.NewClient(fetch, tokensource.WithTransport(customTransport))
package tokensource
