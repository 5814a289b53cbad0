package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rshell/backend/internal/stats"
	"github.com/rshell/backend/internal/transport"
)

func (h *Handler) systemStats(w http.ResponseWriter, r *http.Request) {
	var report stats.SystemStats
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var collectErr error
		report, collectErr = stats.Collect(c)
		return collectErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, report)
}

func (h *Handler) processList(w http.ResponseWriter, r *http.Request) {
	sortBy := r.URL.Query().Get("sort")
	var procs []stats.Process
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var listErr error
		procs, listErr = stats.Processes(c, sortBy)
		return listErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, procs)
}

func (h *Handler) networkStats(w http.ResponseWriter, r *http.Request) {
	var ifaces []stats.Interface
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var netErr error
		ifaces, netErr = stats.NetworkInterfaces(c)
		return netErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, ifaces)
}

func (h *Handler) diskUsage(w http.ResponseWriter, r *http.Request) {
	var disks []stats.DiskStats
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var dfErr error
		disks, dfErr = stats.DiskUsage(c)
		return dfErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, disks)
}

type killRequest struct {
	Signal string `json:"signal"`
}

func (h *Handler) killProcess(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if !decode(w, r, &req) {
		return
	}
	pid := chi.URLParam(r, "pid")
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		return stats.KillProcess(c, pid, req.Signal)
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}
