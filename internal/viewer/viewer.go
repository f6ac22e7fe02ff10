package viewer

import (
	"net/http"

	"github.com/petervdpas/onair/internal/monitor"
	"github.com/petervdpas/onair/internal/realtime"
	"github.com/petervdpas/onair/internal/show"
	"github.com/petervdpas/onair/internal/storage"
	"github.com/petervdpas/onair/internal/stream"
	"github.com/petervdpas/onair/internal/viewer/routes"
)

type Viewer struct {
	Registry *show.Registry
	Stream   *stream.Manager
	Realtime *realtime.Manager
	DB       *storage.DB

	CfgPath string
	Cfg     any // Config interface to avoid import cycle
	Logs    *LogBuffer
	Metrics *monitor.Monitor

	// bcrypt hash for Basic Auth. Empty disables auth (localhost use).
	AuthHash string
}

func Start(addr string, v Viewer) error {
	mux := http.NewServeMux()

	if v.Logs != nil {
		mux.HandleFunc("/api/logs", v.Logs.ServeLogsJSON)
		mux.HandleFunc("/api/logs/stream", v.Logs.ServeLogsSSE)
		mux.HandleFunc("/api/logs/clear", v.Logs.ServeLogsClear)
	}

	mux.Handle("/metrics", monitor.Handler())

	deps := routes.Deps{
		Registry: v.Registry,
		Stream:   v.Stream,
		Realtime: v.Realtime,
		DB:       v.DB,
		CfgPath:  v.CfgPath,
		Cfg:      v.Cfg,
		Metrics:  v.Metrics,
	}
	routes.Register(mux, deps)

	handler := noCache(mux)
	if v.AuthHash != "" {
		handler = basicAuth(v.AuthHash, handler)
	}

	return http.ListenAndServe(addr, handler)
}
