package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/petervdpas/onair/internal/show"
	"github.com/petervdpas/onair/internal/stream"
)

func registerQueueRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/queue — full roster in display order.
	handleGet(mux, "/api/queue", func(w http.ResponseWriter, r *http.Request) {
		callers := d.Registry.Callers()
		if callers == nil {
			callers = []show.CallerView{}
		}
		writeJSON(w, callers)
	})

	// POST /api/queue/add
	handlePost(mux, "/api/queue/add", func(w http.ResponseWriter, r *http.Request, req struct {
		Name    string `json:"name"`
		Contact string `json:"contact"`
	}) {
		v, err := d.Registry.AddCaller(req.Name, req.Contact)
		if err != nil {
			writeQueueErr(w, "add", err)
			trackOp(d, "add", err)
			return
		}
		trackOp(d, "add", nil)
		writeJSON(w, v)
	})

	// POST /api/queue/promote — waiting caller goes on air.
	handlePost(mux, "/api/queue/promote", func(w http.ResponseWriter, r *http.Request, req struct {
		ID string `json:"id"`
	}) {
		if req.ID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		if err := d.Registry.Promote(r.Context(), req.ID); err != nil {
			writeQueueErr(w, "promote", err)
			trackOp(d, "promote", err)
			return
		}
		trackOp(d, "promote", nil)
		writeJSON(w, map[string]string{"status": "live", "id": req.ID})
	})

	// POST /api/queue/offair — live caller back to the queue.
	handlePost(mux, "/api/queue/offair", func(w http.ResponseWriter, r *http.Request, req struct {
		ID string `json:"id"`
	}) {
		if req.ID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		if err := d.Registry.TakeOffAir(req.ID); err != nil {
			writeQueueErr(w, "offair", err)
			trackOp(d, "offair", err)
			return
		}
		trackOp(d, "offair", nil)
		writeJSON(w, map[string]string{"status": "waiting", "id": req.ID})
	})

	// POST /api/queue/reject — terminal removal.
	handlePost(mux, "/api/queue/reject", func(w http.ResponseWriter, r *http.Request, req struct {
		ID string `json:"id"`
	}) {
		if req.ID == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		if err := d.Registry.Reject(req.ID); err != nil {
			writeQueueErr(w, "reject", err)
			trackOp(d, "reject", err)
			return
		}
		trackOp(d, "reject", nil)
		writeJSON(w, map[string]string{"status": "removed", "id": req.ID})
	})

	// POST /api/queue/notes
	handlePost(mux, "/api/queue/notes", func(w http.ResponseWriter, r *http.Request, req struct {
		ID    string `json:"id"`
		Notes string `json:"notes"`
	}) {
		if err := d.Registry.SetNotes(req.ID, req.Notes); err != nil {
			writeQueueErr(w, "notes", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/queue/priority
	handlePost(mux, "/api/queue/priority", func(w http.ResponseWriter, r *http.Request, req struct {
		ID       string `json:"id"`
		Priority bool   `json:"priority"`
	}) {
		if err := d.Registry.SetPriority(req.ID, req.Priority); err != nil {
			writeQueueErr(w, "priority", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// POST /api/queue/mute
	handlePost(mux, "/api/queue/mute", func(w http.ResponseWriter, r *http.Request, req struct {
		ID    string `json:"id"`
		Muted bool   `json:"muted"`
	}) {
		if err := d.Registry.SetMuted(req.ID, req.Muted); err != nil {
			writeQueueErr(w, "mute", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
}

// writeQueueErr maps roster and media errors to HTTP statuses the
// dashboard can branch on.
func writeQueueErr(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, show.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, show.ErrShowNotLive),
		errors.Is(err, show.ErrBadTransition),
		errors.Is(err, show.ErrLiveLimit):
		status = http.StatusConflict
	case errors.Is(err, show.ErrEmptyName):
		status = http.StatusBadRequest
	case errors.Is(err, stream.ErrMediaAccessDenied),
		errors.Is(err, stream.ErrScreenShareDenied):
		status = http.StatusForbidden
	case errors.Is(err, stream.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, stream.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, stream.ErrPeerConnectionFailed):
		status = http.StatusBadGateway
	}
	http.Error(w, fmt.Sprintf("%s failed: %v", op, err), status)
}

func trackOp(d Deps, op string, err error) {
	if d.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.Metrics.TrackOperation(op, status)
}
