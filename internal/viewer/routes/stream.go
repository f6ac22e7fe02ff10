package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/petervdpas/onair/internal/stream"
)

func registerStreamRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/stream — current media state and participant grid.
	handleGet(mux, "/api/stream", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Stream.State())
	})

	// POST /api/stream/start — bring up the host's camera and microphone.
	handlePost(mux, "/api/stream/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Video *bool `json:"video"`
		Audio *bool `json:"audio"`
	}) {
		c := stream.Constraints{Video: true, Audio: true}
		if req.Video != nil {
			c.Video = *req.Video
		}
		if req.Audio != nil {
			c.Audio = *req.Audio
		}
		if err := d.Stream.StartLocalStream(r.Context(), c); err != nil {
			writeStreamErr(w, "start stream", err)
			return
		}
		writeJSON(w, d.Stream.State())
	})

	// POST /api/stream/stop
	handlePost(mux, "/api/stream/stop", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		d.Stream.StopLocalStream()
		writeJSON(w, d.Stream.State())
	})

	// POST /api/stream/video — camera on/off.
	handlePost(mux, "/api/stream/video", func(w http.ResponseWriter, r *http.Request, req struct {
		Enabled bool `json:"enabled"`
	}) {
		d.Stream.ToggleVideo(req.Enabled)
		writeJSON(w, d.Stream.State())
	})

	// POST /api/stream/audio — microphone on/off.
	handlePost(mux, "/api/stream/audio", func(w http.ResponseWriter, r *http.Request, req struct {
		Enabled bool `json:"enabled"`
	}) {
		d.Stream.ToggleAudio(req.Enabled)
		writeJSON(w, d.Stream.State())
	})

	// POST /api/stream/screen — toggle screen sharing.
	handlePost(mux, "/api/stream/screen", func(w http.ResponseWriter, r *http.Request, req struct{}) {
		sharing, err := d.Stream.ToggleScreenShare(r.Context())
		if err != nil {
			writeStreamErr(w, "screen share", err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.SetScreenSharing(sharing)
		}
		writeJSON(w, map[string]bool{"sharing": sharing})
	})
}

func writeStreamErr(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
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
