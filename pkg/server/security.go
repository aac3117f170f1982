package server

import (
	"net/http"
)

// headersMiddleware sets the headers shared by every response of the read
// API.
func (s *Server) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// the status changes every poll interval, don't let proxies keep it
		w.Header().Set("Cache-Control", "no-cache")

		if s.serverName != "" {
			w.Header().Set("Server", s.serverName)
		}

		next.ServeHTTP(w, r)
	})
}
