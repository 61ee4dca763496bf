package middleware

import (
	"crypto/subtle"
	"net/http"

	"inkdown-notes/pkg/response"

	"github.com/gorilla/websocket"
)

// APITokenHeader carries the local API token.
const APITokenHeader = "X-API-Token"

// APITokenMiddleware rejects requests that do not present token. Browsers
// cannot set headers on a websocket handshake, so upgrade requests may pass
// it as the "token" query parameter instead.
func APITokenMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get(APITokenHeader)
			if presented == "" && websocket.IsWebSocketUpgrade(r) {
				presented = r.URL.Query().Get("token")
			}
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				response.Unauthorized(w, "Missing or invalid API token.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
