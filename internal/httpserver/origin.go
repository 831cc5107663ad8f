package httpserver

import "net/http"

// withOriginPolicy rejects browser requests from origins outside the
// allow-list and adds CORS headers for the ones it accepts.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		normalizedOrigin, ok := s.origins.Check(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if normalizedOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", normalizedOrigin)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Add("Vary", "Origin")
		}
		next(w, r)
	}
}
