// Package api is the loopback HTTP control surface the desktop UI drives.
// Terminal I/O does not pass through here; the UI discovers the WebSocket
// bridge port via /ws-port and streams keystrokes there directly.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rshell/backend/internal/bridge"
	"github.com/rshell/backend/internal/config"
	"github.com/rshell/backend/internal/registry"
)

type Handler struct {
	reg    *registry.Registry
	bridge *bridge.Server
	cfg    *config.Config
}

func New(reg *registry.Registry, br *bridge.Server, cfg *config.Config) *Handler {
	return &Handler{reg: reg, bridge: br, cfg: cfg}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", h.health)
	r.Get("/ws-port", h.wsPort)

	r.Route("/connections", func(r chi.Router) {
		r.Get("/", h.listConnections)
		r.Post("/", h.createConnection)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.closeConnection)
			r.Post("/cancel", h.cancelConnection)
			r.Post("/exec", h.exec)

			r.Get("/files", h.listFiles)
			r.Get("/files/download", h.downloadFile)
			r.Post("/files/upload", h.uploadFile)
			r.Post("/files/mkdir", h.mkdir)
			r.Post("/files/delete", h.deleteFile)
			r.Post("/files/rename", h.renameFile)

			r.Get("/stats", h.systemStats)
			r.Get("/stats/processes", h.processList)
			r.Get("/stats/network", h.networkStats)
			r.Get("/stats/disks", h.diskUsage)
			r.Post("/processes/{pid}/kill", h.killProcess)

			r.Get("/logs/sources", h.logSources)
			r.Get("/logs/files", h.logFiles)
			r.Get("/logs/read", h.readLog)
			r.Get("/logs/search", h.searchLog)

			r.Get("/gpu", h.detectGPU)
			r.Get("/gpu/stats", h.gpuStats)
		})
	})

	r.Route("/local", func(r chi.Router) {
		r.Get("/home", h.localHome)
		r.Get("/files", h.localList)
		r.Post("/files/mkdir", h.localMkdir)
		r.Post("/files/delete", h.localDelete)
		r.Post("/files/rename", h.localRename)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.cfg.Version,
	})
}

// wsPort tells the UI where the terminal bridge listens. 503 until the
// bridge has bound a port.
func (h *Handler) wsPort(w http.ResponseWriter, r *http.Request) {
	port := h.bridge.Port()
	if port == 0 {
		fail(w, http.StatusServiceUnavailable, "terminal bridge not running")
		return
	}
	ok(w, map[string]int{"port": port})
}
