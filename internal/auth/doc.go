// Package auth obtains and maintains OAuth2/OpenID Connect tokens from a
// Keycloak-style identity provider.
//
// Four grant strategies implement Authenticator:
//   - PKCE: authorization code with a PKCE challenge, for interactive logins
//     through the browser and a loopback redirect listener
//   - ClientSecret: client_credentials with a client secret
//   - OwnerPassword: the resource owner password grant
//   - SignedJWT: client_credentials with a client assertion signed by the
//     service account's private key
//
// Each authenticator is identified by a hash of its configuration, which is the
// key of its record in the token store. GetToken refreshes tokens transparently.
//
// # Facade
//
// Auth resolves options in layers (call, then instance, then environment),
// picks the strategy and manages the stored accounts:
//
//	a, err := auth.New(auth.Config{ClientID: "my-cli", TokenStore: store})
//	res, err := a.Login(ctx, auth.LoginOptions{})
//	fmt.Println(res.Account)
//
// In manual mode Login returns the authorize URL without opening a browser:
//
//	res, err := a.Login(ctx, auth.LoginOptions{Manual: true})
//	fmt.Println(res.Pending.URL)
//	res, err = res.Pending.Wait(ctx)
//
// Errors are *autherr.Error values and can be matched with errors.Is against
// the autherr sentinels.
package auth
