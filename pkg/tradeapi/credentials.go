package tradeapi

import (
	"net/http"
)

// Header names used for key based authentication.
const (
	HeaderKeyID     = "APCA-API-KEY-ID"
	HeaderSecretKey = "APCA-API-SECRET-KEY"
)

// Credentials authenticate requests either with an API key pair or with an
// OAuth bearer token. Exactly one of the two forms must be set.
type Credentials struct {
	KeyID      string
	SecretKey  string
	OAuthToken string
}

// Validate reports whether exactly one authentication method is configured.
func (c Credentials) Validate() error {
	hasKey := c.KeyID != ""
	hasSecret := c.SecretKey != ""
	hasToken := c.OAuthToken != ""

	switch {
	case hasToken && (hasKey || hasSecret):
		return &ValidationError{Field: "credentials", Reason: "OAuth token and API key are mutually exclusive"}
	case hasToken:
		return nil
	case hasKey && !hasSecret:
		return &ValidationError{Field: "credentials", Reason: "API secret key is required with an API key ID"}
	case hasSecret && !hasKey:
		return &ValidationError{Field: "credentials", Reason: "API key ID is required with an API secret key"}
	case !hasKey:
		return &ValidationError{Field: "credentials", Reason: "either an API key pair or an OAuth token is required"}
	}
	return nil
}

// UsesOAuth returns true when the credentials carry a bearer token.
func (c Credentials) UsesOAuth() bool {
	return c.OAuthToken != ""
}

// apply sets the authentication headers on req.
func (c Credentials) apply(req *http.Request) {
	if c.UsesOAuth() {
		req.Header.Set("Authorization", "Bearer "+c.OAuthToken)
		return
	}
	req.Header.Set(HeaderKeyID, c.KeyID)
	req.Header.Set(HeaderSecretKey, c.SecretKey)
}
