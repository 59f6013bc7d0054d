package server

import (
	"net/http"
	"strings"
)

// tokenFromRequest reads the player token from the Authorization header.
// Event streams cannot set headers from a browser, so they may pass it as
// the token query parameter instead.
func tokenFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(auth, "Bearer "); found && token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
