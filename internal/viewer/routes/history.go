package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/petervdpas/onair/internal/storage"
)

// registerHistoryRoutes adds read access to the archived show log.
func registerHistoryRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/history?limit=N — past shows, newest first.
	handleGet(mux, "/api/history", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		shows, err := d.DB.Shows(limit)
		if err != nil {
			http.Error(w, "history query failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if shows == nil {
			shows = []storage.ShowRecord{}
		}
		writeJSON(w, shows)
	})

	// GET /api/history/{id}/calls — archived callers for one show.
	mux.HandleFunc("/api/history/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tail := strings.TrimPrefix(r.URL.Path, "/api/history/")
		parts := strings.SplitN(tail, "/", 2)
		if len(parts) != 2 || parts[1] != "calls" {
			http.Error(w, "invalid path — expected /api/history/{id}/calls", http.StatusBadRequest)
			return
		}
		showID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.Error(w, "invalid show id", http.StatusBadRequest)
			return
		}
		calls, err := d.DB.CallLog(showID)
		if err != nil {
			http.Error(w, "call log query failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if calls == nil {
			calls = []storage.CallRecord{}
		}
		writeJSON(w, calls)
	})
}
