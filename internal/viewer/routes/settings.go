package routes

import "net/http"

// registerSettingsRoutes exposes the effective runtime config. The config
// dependency is a getter so hot reloads are reflected.
func registerSettingsRoutes(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/api/config", func(w http.ResponseWriter, r *http.Request) {
		if fn, ok := d.Cfg.(func() any); ok {
			writeJSON(w, fn())
			return
		}
		writeJSON(w, d.Cfg)
	})
}
