package routes

import (
	"fmt"
	"net/http"

	"github.com/petervdpas/onair/internal/show"
)

func registerShowRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/show — live flag, name and queue counts.
	handleGet(mux, "/api/show", func(w http.ResponseWriter, r *http.Request) {
		waiting, live := d.Registry.Counts()
		writeJSON(w, map[string]any{
			"live":    d.Registry.IsLive(),
			"name":    d.Registry.ShowName(),
			"waiting": waiting,
			"on_air":  live,
		})
	})

	// POST /api/show/start
	handlePost(mux, "/api/show/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Name string `json:"name"`
	}) {
		if err := d.Registry.StartShow(req.Name); err != nil {
			status := http.StatusInternalServerError
			switch err {
			case show.ErrShowLive:
				status = http.StatusConflict
			case show.ErrEmptyName:
				status = http.StatusBadRequest
			}
			http.Error(w, fmt.Sprintf("start show failed: %v", err), status)
			return
		}
		if d.Metrics != nil {
			d.Metrics.SetShowLive(true)
			d.Metrics.TrackOperation("start-show", "ok")
		}
		writeJSON(w, map[string]string{"status": "started", "name": d.Registry.ShowName()})
	})

	// POST /api/show/end
	handlePost(mux, "/api/show/end", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		d.Registry.EndShow()
		if d.Metrics != nil {
			d.Metrics.SetShowLive(false)
			d.Metrics.TrackOperation("end-show", "ok")
		}
		writeJSON(w, map[string]string{"status": "ended"})
	})
}
