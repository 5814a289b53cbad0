package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rshell/backend/internal/stats"
	"github.com/rshell/backend/internal/transport"
)

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (h *Handler) logSources(w http.ResponseWriter, r *http.Request) {
	var sources []stats.LogSource
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		sources = stats.DiscoverLogSources(c)
		return nil
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, sources)
}

func (h *Handler) logFiles(w http.ResponseWriter, r *http.Request) {
	var files []string
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var listErr error
		files, listErr = stats.ListLogFiles(c)
		return listErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, files)
}

// readLog serves both source ids ("journal:sshd") and plain file paths.
func (h *Handler) readLog(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		fail(w, http.StatusBadRequest, "source query parameter is required")
		return
	}
	lines := queryInt(r, "lines")

	var content string
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var readErr error
		content, readErr = stats.ReadLog(c, source, lines)
		return readErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, content)
}

func (h *Handler) searchLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	query := q.Get("q")
	if source == "" || query == "" {
		fail(w, http.StatusBadRequest, "source and q query parameters are required")
		return
	}
	regex := q.Get("regex") == "true"
	limit := queryInt(r, "limit")

	var matches string
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var searchErr error
		matches, searchErr = stats.SearchLog(c, source, query, regex, limit)
		return searchErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, matches)
}

func (h *Handler) detectGPU(w http.ResponseWriter, r *http.Request) {
	var detection stats.GPUDetection
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		detection = stats.DetectGPU(c)
		return nil
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, detection)
}

func (h *Handler) gpuStats(w http.ResponseWriter, r *http.Request) {
	var gpus []stats.GPUStats
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var gpuErr error
		gpus, gpuErr = stats.GPUStatsReport(c)
		return gpuErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, gpus)
}
