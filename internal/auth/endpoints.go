package auth

import (
	"net/url"
	"strings"

	"github.com/florianilch/realmauth/internal/autherr"
)

// Environment holds the defaults for one named deployment.
type Environment struct {
	BaseURL string
	Realm   string
}

// DefaultEnv is used when neither the call nor the instance names an environment.
const DefaultEnv = "prod"

// Environments maps environment names to their defaults.
var Environments = map[string]Environment{
	"dev": {
		BaseURL: "https://login-dev.axway.com",
		Realm:   "Broker",
	},
	"preprod": {
		BaseURL: "https://login-preprod.axway.com",
		Realm:   "Broker",
	},
	"prod": {
		BaseURL: "https://login.axway.com",
		Realm:   "Broker",
	},
}

// LookupEnvironment returns the named environment or an INVALID_VALUE error.
func LookupEnvironment(name string) (Environment, error) {
	env, ok := Environments[name]
	if !ok {
		return Environment{}, autherr.New(autherr.CodeInvalidValue, "Invalid environment: %s", name)
	}
	return env, nil
}

// Endpoints are the provider URLs for one realm.
type Endpoints struct {
	Auth      string `json:"auth"`
	Token     string `json:"token"`
	Logout    string `json:"logout"`
	UserInfo  string `json:"userinfo"`
	Certs     string `json:"certs"`
	WellKnown string `json:"wellKnown"`
}

// ResolveEndpoints computes the static endpoint set for baseURL and realm.
func ResolveEndpoints(baseURL, realm string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	realmBase := base + "/auth/realms/" + url.PathEscape(realm)
	oidcBase := realmBase + "/protocol/openid-connect"

	return Endpoints{
		Auth:      oidcBase + "/auth",
		Token:     oidcBase + "/token",
		Logout:    oidcBase + "/logout",
		UserInfo:  oidcBase + "/userinfo",
		Certs:     oidcBase + "/certs",
		WellKnown: realmBase + "/.well-known/openid-configuration",
	}
}
