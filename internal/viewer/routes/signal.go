package routes

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	// Guest pages are served from other origins (phones on the LAN).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerSignalRoutes adds the guest signaling socket.
// GET /api/signal/{caller} — WebSocket carrying SDP and ICE envelopes.
func registerSignalRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("/api/signal/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		callerID := strings.TrimPrefix(r.URL.Path, "/api/signal/")
		callerID = strings.TrimSuffix(callerID, "/")
		if callerID == "" {
			http.Error(w, "missing caller id", http.StatusBadRequest)
			return
		}
		// Only callers the host actually queued may attach a socket.
		if _, err := d.Registry.Caller(callerID); err != nil {
			http.Error(w, "unknown caller", http.StatusNotFound)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("SIGNAL [%s]: WebSocket upgrade error: %v", callerID, err)
			return
		}
		d.Realtime.Attach(callerID, conn)
	})
}
