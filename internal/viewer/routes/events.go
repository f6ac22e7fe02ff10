package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// registerEventRoutes adds the roster SSE feed. Each connection gets its
// own subscription channel; unsubscribed on disconnect so the registry
// never accumulates stale listeners.
func registerEventRoutes(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch := d.Registry.Subscribe()
		defer d.Registry.Unsubscribe(ch)

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
				flusher.Flush()
			}
		}
	})
}
