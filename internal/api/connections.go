package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rshell/backend/internal/transport"
)

type createConnectionRequest struct {
	ID         string `json:"id"`
	Protocol   string `json:"protocol"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthMethod string `json:"auth_method"`
	Password   string `json:"password"`
	KeyPath    string `json:"key_path"`
	Passphrase string `json:"passphrase"`
	Secure     bool   `json:"secure"`
	Anonymous  bool   `json:"anonymous"`

	// TimeoutSeconds overrides the configured dial timeout when positive.
	TimeoutSeconds int `json:"timeout_seconds"`
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !decode(w, r, &req) {
		return
	}

	proto, err := transport.ParseProtocol(req.Protocol)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Host == "" {
		fail(w, http.StatusBadRequest, "host is required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	cfg := transport.Config{
		Protocol:  proto,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		Secure:    req.Secure,
		Anonymous: req.Anonymous,
		Timeout:   h.cfg.DialTimeout,
	}
	if req.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort(proto)
	}

	switch req.AuthMethod {
	case "", "password":
		cfg.Credential = transport.Credential{
			Method:   transport.AuthPassword,
			Password: req.Password,
		}
	case "public_key":
		cfg.Credential = transport.Credential{
			Method:     transport.AuthPublicKey,
			KeyPath:    req.KeyPath,
			Passphrase: req.Passphrase,
		}
	default:
		fail(w, http.StatusBadRequest, "unknown auth method "+req.AuthMethod)
		return
	}

	if err := h.reg.Create(r.Context(), id, cfg); err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]string{"id": id})
}

func defaultPort(p transport.Protocol) int {
	switch p {
	case transport.ProtocolFTP:
		return 21
	default:
		return 22
	}
}

func (h *Handler) cancelConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok(w, map[string]bool{"cancelled": h.reg.CancelPending(id)})
}

func (h *Handler) closeConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Close(chi.URLParam(r, "id")); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

type connectionInfo struct {
	ID       string `json:"id"`
	Protocol string `json:"protocol"`
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	ids := h.reg.List()
	infos := make([]connectionInfo, 0, len(ids))
	for _, id := range ids {
		proto, found := h.reg.ConnectionType(id)
		if !found {
			continue
		}
		infos = append(infos, connectionInfo{ID: id, Protocol: proto.String()})
	}
	ok(w, infos)
}

type execRequest struct {
	Command string `json:"command"`
}

func (h *Handler) exec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Command == "" {
		fail(w, http.StatusBadRequest, "command is required")
		return
	}

	var output string
	err := h.reg.Use(chi.URLParam(r, "id"), func(c transport.Client) error {
		var execErr error
		output, execErr = c.ExecuteCommand(req.Command)
		return execErr
	})
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, output)
}
