package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rshell/backend/internal/localfs"
	"github.com/rshell/backend/internal/registry"
	"github.com/rshell/backend/internal/transport"
)

// response is the uniform envelope every mutating or fallible endpoint
// returns. Output is endpoint-specific.
type response struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, output any) {
	writeJSON(w, http.StatusOK, response{Success: true, Output: output})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, response{Success: false, Error: msg})
}

// failErr maps internal errors onto HTTP statuses. Connection-level dial
// failures are upstream problems, not client mistakes.
func failErr(w http.ResponseWriter, err error) {
	var connErr *transport.ConnectError
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrPtyNotFound):
		fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrPtyUnsupported), errors.Is(err, transport.ErrUnsupported):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, localfs.ErrForbiddenPath):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &connErr):
		fail(w, http.StatusBadGateway, err.Error())
	default:
		fail(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON request body into v. A false return means the error
// response was already written.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
