package api

import (
	"net/http"

	"github.com/rshell/backend/internal/localfs"
)

func (h *Handler) localHome(w http.ResponseWriter, r *http.Request) {
	home, err := localfs.Home()
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, home)
}

func (h *Handler) localList(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		fail(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	entries, err := localfs.List(dir)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, entries)
}

func (h *Handler) localMkdir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := localfs.Mkdir(req.Path); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (h *Handler) localDelete(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := localfs.Delete(req.Path, req.IsDir); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (h *Handler) localRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := localfs.Rename(req.OldPath, req.NewPath); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}
