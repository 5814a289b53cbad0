package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/rshell/backend/internal/transport"
)

// uploadLimit bounds in-memory transfers. Both directions hold the whole
// file, so this caps a single request's footprint. Variable so tests can
// shrink it.
var uploadLimit int64 = 512 << 20

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		fail(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	var entries []transport.Entry
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var listErr error
		entries, listErr = c.ListDir(dir)
		return listErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, entries)
}

func (h *Handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	remote := r.URL.Query().Get("path")
	if remote == "" {
		fail(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	var data []byte
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var dlErr error
		data, dlErr = c.Download(remote)
		return dlErr
	})
	if err != nil {
		failErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(remote)))
	w.Write(data)
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	remote := r.URL.Query().Get("path")
	if remote == "" {
		fail(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	// Oversize bodies must fail loudly, never upload a truncated file.
	r.Body = http.MaxBytesReader(w, r.Body, uploadLimit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d byte limit", uploadLimit))
			return
		}
		fail(w, http.StatusBadRequest, "read upload body: "+err.Error())
		return
	}

	var written int64
	err = h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var upErr error
		written, upErr = c.Upload(data, remote)
		return upErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]int64{"bytes": written})
}

type pathRequest struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

func (h *Handler) mkdir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		fail(w, http.StatusBadRequest, "path is required")
		return
	}
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		return c.Mkdir(req.Path)
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		fail(w, http.StatusBadRequest, "path is required")
		return
	}
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		return c.Delete(req.Path, req.IsDir)
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func (h *Handler) renameFile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		fail(w, http.StatusBadRequest, "old_path and new_path are required")
		return
	}
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		return c.Rename(req.OldPath, req.NewPath)
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}
