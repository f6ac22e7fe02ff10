package viewer

import "net/http"

// noCache disables all browser caching. The queue and stream endpoints
// return live state the dashboard polls between SSE events; a cached
// roster or toggle state would show the host stale callers.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		// No conditional caching either
		w.Header().Del("ETag")
		w.Header().Del("Last-Modified")

		next.ServeHTTP(w, r)
	})
}
