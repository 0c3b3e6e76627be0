package api

import (
	"errors"
	"net/http"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// authHeader returns the Authorization header of r. Browsers cannot set
// headers on an EventSource, so when allowQuery is set a token query
// parameter stands in for it.
func authHeader(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if allowQuery {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return bearerPrefix + token
		}
	}
	return ""
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, bearerPrefix)
	if !ok || token == "" {
		return nil, errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return nil, errBadAuthorization
	}
	return unsafe.Slice(unsafe.StringData(token), len(token)), nil
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
