package auth

// NewAuthenticator picks the grant strategy for the credentials in opts. The
// first match wins: username and password, then client secret, then secret
// file, and PKCE otherwise.
func NewAuthenticator(p Params, opts LoginOptions) (Authenticator, error) {
	switch {
	case opts.Username != "" && opts.Password != "":
		return NewOwnerPassword(p, opts.Username, opts.Password)
	case opts.ClientSecret != "":
		return NewClientSecret(p, opts.ClientSecret)
	case opts.SecretFile != "":
		return NewSignedJWT(p, opts.SecretFile)
	default:
		return NewPKCE(p)
	}
}
