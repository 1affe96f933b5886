package session

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if !looksLikeJWT(token) {
		return "", errBadAuthorization
	}
	return token, nil
}

// looksLikeJWT rejects values that cannot be a compact JWS before parsing.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
