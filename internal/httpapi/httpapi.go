// Package httpapi is the HTTP Surface: a thin net/http adapter in front
// of the registry and config packages. It never touches catalogue or
// scanner internals directly, keeping the core's public API free of
// net/http types per SPEC_FULL.md §6.
//
// Grounded on original_source/server/WebService.cpp: every handler below
// corresponds 1:1 to one of its crow:: route functions, with
// create_error_response's "always HTTP 200, envelope carries the
// failure" behavior preserved exactly.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/anything-indexer/anything/internal/catalogue"
	"github.com/anything-indexer/anything/internal/config"
	"github.com/anything-indexer/anything/internal/logging"
	"github.com/anything-indexer/anything/internal/registry"
	"github.com/anything-indexer/anything/internal/scantarget"
)

var log = logging.For("httpapi")

// Server wires the registry and config into an http.Handler.
type Server struct {
	reg    *registry.Registry
	cfg    config.Config
	router *httprouter.Router
}

// NewServer builds a Server ready to Handler().
func NewServer(reg *registry.Registry, cfg config.Config) *Server {
	s := &Server{reg: reg, cfg: cfg, router: httprouter.New()}
	s.router.GET("/api/scan_obj/:uid", cors(s.listScanObjs))
	s.router.POST("/api/scan_obj/:uid", cors(s.addScanObj))
	s.router.DELETE("/api/scan_obj/:uid/:id", cors(s.deleteScanObj))
	s.router.GET("/api/filedb/:uid/:search_text", cors(s.searchFileDB))
	s.router.POST("/api/audit/events", cors(s.auditEvent))
	s.router.OPTIONS("/*path", corsPreflight)
	return s
}

// Handler returns the server's root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// cors wraps an httprouter.Handle with the CORS headers every response
// in WebService.cpp carries, matching set_cors_headers, and tags the
// request with a correlation id. The id is logged on the
// "request received" line and returned as X-Request-Id; the handler's
// own log lines do not carry it.
func cors(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		reqID := uuid.NewString()
		log.Printf("request received: id=%s path=%s", reqID, r.URL.Path)

		setCORSHeaders(w)
		w.Header().Set("X-Request-Id", reqID)
		h(w, r, ps)
	}
}

func corsPreflight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Content-Type", "application/json")
}

// writeOK writes {"result":"ok", ...fields} with HTTP 200.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	envelope := map[string]any{"result": "ok"}
	for k, v := range fields {
		envelope[k] = v
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope)
}

// writeError writes {"result":"error","message":msg} with HTTP 200,
// matching create_error_response's always-200 policy: failure is
// encoded in the envelope, never the status line.
func writeError(w http.ResponseWriter, msg string) {
	log.Printf("request failed: %s", msg)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": "error", "message": msg})
}

func scanObjJSON(t *scantarget.Target) map[string]any {
	lastScan := ""
	if !t.LastSuccessfulScanTime.IsZero() {
		lastScan = t.LastSuccessfulScanTime.Format("2006-01-02T15:04:05")
	}
	return map[string]any{
		"id":                        t.ID,
		"directory_path":            t.DirectoryPath,
		"display_name":              t.DisplayName,
		"description":               t.Description,
		"is_active":                 t.IsActive,
		"is_recursive":              t.IsRecursive,
		"last_successful_scan_time": lastScan,
	}
}

// listScanObjs handles GET /api/scan_obj/{uid}.
func (s *Server) listScanObjs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := ps.ByName("uid")
	dbPath := s.cfg.UserDBPath(uid)

	store, err := scantarget.Open(s.reg.Pool(), dbPath)
	if err != nil {
		writeError(w, "failed to open scan target store: "+err.Error())
		return
	}
	defer store.Close()

	targets, err := store.List(false)
	if err != nil {
		writeError(w, "failed to list scan objects: "+err.Error())
		return
	}

	objs := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		objs = append(objs, scanObjJSON(t))
	}
	writeOK(w, map[string]any{"count": len(objs), "scan_objs": objs})
}

// addScanObj handles POST /api/scan_obj/{uid}.
func (s *Server) addScanObj(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := ps.ByName("uid")

	var body struct {
		DirectoryPath string `json:"directory_path"`
		Description   string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid JSON")
		return
	}
	if body.DirectoryPath == "" {
		writeError(w, "missing required field: 'directory_path'")
		return
	}

	dbPath := s.cfg.UserDBPath(uid)
	target, err := s.reg.AddTarget(dbPath, body.DirectoryPath, body.Description)
	if err != nil {
		writeError(w, "failed to add scan object: "+err.Error())
		return
	}
	writeOK(w, map[string]any{"scan_obj": scanObjJSON(target)})
}

// deleteScanObj handles DELETE /api/scan_obj/{uid}/{id}.
func (s *Server) deleteScanObj(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := ps.ByName("uid")
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeError(w, "invalid scan object id")
		return
	}

	dbPath := s.cfg.UserDBPath(uid)
	if err := s.reg.RemoveTarget(dbPath, id); err != nil {
		writeError(w, "failed to delete scan object: "+err.Error())
		return
	}
	writeOK(w, nil)
}

// searchFileDB handles GET /api/filedb/{uid}/{search_text}.
func (s *Server) searchFileDB(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	uid := ps.ByName("uid")
	searchText := ps.ByName("search_text")
	if decoded, err := url.QueryUnescape(searchText); err == nil {
		searchText = decoded
	}

	dbPath := s.cfg.UserDBPath(uid)
	store, err := catalogue.Open(s.reg.Pool(), dbPath)
	if err != nil {
		writeError(w, "failed to open catalogue: "+err.Error())
		return
	}
	defer store.Close()

	entries, err := store.Search(searchText, "file_name", 0)
	if err != nil {
		writeError(w, "search failed: "+err.Error())
		return
	}

	objs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		objs = append(objs, map[string]any{
			"id":             e.ID,
			"file_name":      e.FileName,
			"file_path":      e.FilePath,
			"file_extension": e.FileExtension,
			"mime_type":      e.MimeType,
			"is_directory":   e.IsDirectory,
		})
	}
	writeOK(w, map[string]any{"count": len(objs), "filedb_objs": objs})
}

// auditEvent handles POST /api/audit/events, the ingest endpoint the
// external audisp collaborator posts to (spec.md §6).
func (s *Server) auditEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid JSON")
		return
	}
	if body.Path == "" || body.Type == "" {
		writeError(w, "missing required fields: 'path' and 'type'")
		return
	}

	kind, ok := parseChangeKind(body.Type)
	if !ok {
		writeError(w, "invalid event type: "+body.Type)
		return
	}

	s.reg.OnFileChange(body.Path, kind)
	writeOK(w, nil)
}

func parseChangeKind(s string) (registry.ChangeKind, bool) {
	switch registry.ChangeKind(s) {
	case registry.Create, registry.Mkdir, registry.Delete, registry.Rmdir:
		return registry.ChangeKind(s), true
	default:
		return "", false
	}
}

