package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// bearerToken extracts the JWT from an Authorization header value. The scheme
// matches case-insensitively; the token must have three dot separated parts.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errBadAuthorization
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 || strings.Contains(token, "..") || strings.HasPrefix(token, ".") || strings.HasSuffix(token, ".") {
		return "", errBadAuthorization
	}
	return token, nil
}

// streamAuthorization returns the Authorization header of the request. An
// EventSource cannot set headers, so a token query parameter is accepted in
// its place.
func streamAuthorization(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if token := c.QueryParam("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}
