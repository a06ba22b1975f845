package app

import (
	"github.com/finbase/revrec/internal/auth"
)

// defaultRefreshTokenLength is the number of random bytes backing a refresh
// token before base64 encoding.
const defaultRefreshTokenLength = 48

// JWTServiceConfig maps the loaded auth settings onto auth.JWTConfig,
// substituting the package default when no access-token TTL is configured.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	out := auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: c.JWT.TTL,
	}
	if out.AccessTokenTTL <= 0 {
		out.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	return out
}

// SessionServiceConfig maps the loaded auth settings onto auth.SessionConfig.
// Zero or negative values fall back to safe defaults so an empty config file
// still yields a working session service.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	out := auth.SessionConfig{
		RefreshTokenTTL: c.Session.RefreshTTL,
		RefreshLength:   c.Session.RefreshLength,
	}
	if out.RefreshTokenTTL <= 0 {
		out.RefreshTokenTTL = auth.DefaultRefreshTokenTTL
	}
	if out.RefreshLength <= 0 {
		out.RefreshLength = defaultRefreshTokenLength
	}
	return out
}
