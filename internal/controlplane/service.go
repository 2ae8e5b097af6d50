package controlplane

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"

	"github.com/okets/folder-mcp/internal/errs"
	"github.com/okets/folder-mcp/internal/logging"
	"github.com/okets/folder-mcp/pkg/api"
)

// Service exposes a Facade over HTTP+JSON, the daemon's local control
// plane. It is grounded on the teacher's own daemon HTTP service: an
// httprouter.Router wrapped in authentication and security-header
// middleware, served over a connection-bounded listener.
type Service struct {
	facade *Facade
	logger *logging.Logger
}

// NewService constructs a Service backed by facade.
func NewService(facade *Facade, logger *logging.Logger) *Service {
	return &Service{facade: facade, logger: logger}
}

// Register registers the control plane's endpoints with router.
func (s *Service) Register(router *httprouter.Router) {
	router.HandlerFunc(http.MethodPost, "/api/v0/folders/validate", s.validateFolder)
	router.HandlerFunc(http.MethodPost, "/api/v0/folders", s.addFolder)
	router.HandlerFunc(http.MethodDelete, "/api/v0/folders", s.removeFolder)
	router.HandlerFunc(http.MethodGet, "/api/v0/folders", s.listFolders)
	router.HandlerFunc(http.MethodGet, "/api/v0/status", s.status)
	router.HandlerFunc(http.MethodPost, "/api/v0/search", s.search)
}

// Handler builds the full middleware-wrapped HTTP handler for router,
// requiring basic-auth token if non-empty and always applying the standard
// security headers.
func Handler(router *httprouter.Router, token string) http.Handler {
	handler := http.Handler(router)
	if token != "" {
		handler = api.RequireAuthentication(handler, token)
	}
	return api.AddSecurityHeaders(handler)
}

// NewListener binds addr and bounds its concurrent connection count to
// maxConnections, a concrete expression of the daemon's bounded-concurrency
// policy (spec §5) applied to the control-plane listener.
func NewListener(addr string, maxConnections int) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientIO, "CONTROLPLANE_LISTEN_FAILED", err, "unable to bind control-plane listener")
	}
	if maxConnections > 0 {
		listener = netutil.LimitListener(listener, maxConnections)
	}
	return listener, nil
}

func (s *Service) validateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.facade.ValidateFolder(req.Path))
}

func (s *Service) addFolder(w http.ResponseWriter, r *http.Request) {
	var req AddFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.facade.AddFolder(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) removeFolder(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	s.facade.RemoveFolder(path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.ListFolders())
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	snapshot, daemonStatus, ok := s.facade.Status(path)
	if !ok {
		http.Error(w, "folder not found", http.StatusNotFound)
		return
	}
	if path == "" {
		writeJSON(w, http.StatusOK, daemonStatus)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Service) search(w http.ResponseWriter, r *http.Request) {
	var req SearchQuery
	if !decodeJSON(w, r, &req) {
		return
	}
	hits, err := s.facade.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	api.SetContentTypeJSON(w)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an errs.Kind to an HTTP status code and writes a JSON
// error body, falling back to 500 for errors outside the taxonomy.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := errs.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case errs.KindValidation, errs.KindConfiguration:
			status = http.StatusBadRequest
		case errs.KindTransientIO, errs.KindModel:
			status = http.StatusServiceUnavailable
		case errs.KindCorruption, errs.KindSupervisor, errs.KindFatalInternal:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}
