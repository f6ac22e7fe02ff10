// internal/viewer/routes/register.go
package routes

import (
	"net/http"

	"github.com/petervdpas/onair/internal/monitor"
	"github.com/petervdpas/onair/internal/realtime"
	"github.com/petervdpas/onair/internal/show"
	"github.com/petervdpas/onair/internal/storage"
	"github.com/petervdpas/onair/internal/stream"
)

type Deps struct {
	Registry *show.Registry
	Stream   *stream.Manager
	Realtime *realtime.Manager
	DB       *storage.DB

	CfgPath string
	Cfg     interface{} // Config interface to avoid import cycle
	Metrics *monitor.Monitor
}

func Register(mux *http.ServeMux, d Deps) {
	registerShowRoutes(mux, d)
	registerQueueRoutes(mux, d)
	registerStreamRoutes(mux, d)
	registerEventRoutes(mux, d)
	registerSettingsRoutes(mux, d)

	if d.Realtime != nil {
		registerSignalRoutes(mux, d)
	}
	if d.DB != nil {
		registerHistoryRoutes(mux, d)
	}
}
