package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/buildinfo"
	"github.com/xelth-com/eckposgo/internal/config"
	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/sync"
	"github.com/xelth-com/eckposgo/internal/websocket"
)

// Options wires the router to the conflict engine
type Options struct {
	Resolver  *sync.ConflictResolver
	Batch     *sync.BatchCoordinator
	Hub       *websocket.Hub      // optional; nil disables /ws/conflicts
	Gatherer  prometheus.Gatherer // optional; nil disables /metrics
	JWTSecret string
	Conflicts config.ConflictConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

// Router wraps the mux router and the conflict engine
type Router struct {
	*mux.Router
	resolver  *sync.ConflictResolver
	batch     *sync.BatchCoordinator
	hub       *websocket.Hub
	conflicts config.ConflictConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(opts Options) *Router {
	r := &Router{
		Router:    mux.NewRouter(),
		resolver:  opts.Resolver,
		batch:     opts.Batch,
		hub:       opts.Hub,
		conflicts: opts.Conflicts,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	auth := middleware.Auth(opts.JWTSecret)

	// Conflict routes (protected); static paths before {id}
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)

	conflicts := api.PathPrefix("/conflicts").Subrouter()
	conflicts.HandleFunc("", r.listConflicts).Methods("GET")
	conflicts.HandleFunc("/detect", r.detectConflict).Methods("POST")
	conflicts.HandleFunc("/summary", r.getSummary).Methods("GET")
	conflicts.HandleFunc("/bulk-resolve", r.bulkResolve).Methods("POST")
	conflicts.HandleFunc("/auto-resolve", r.autoResolve).Methods("POST")
	conflicts.HandleFunc("/purge", r.purge).Methods("POST")
	conflicts.HandleFunc("/{id}", r.getConflict).Methods("GET")
	conflicts.HandleFunc("/{id}/audit", r.getAudit).Methods("GET")
	conflicts.HandleFunc("/{id}/fields", r.getFieldPlan).Methods("GET")
	conflicts.HandleFunc("/{id}/resolve", r.resolveConflict).Methods("POST")
	conflicts.HandleFunc("/{id}/manual", r.manualResolve).Methods("POST")
	conflicts.HandleFunc("/{id}/ignore", r.ignoreConflict).Methods("POST")

	// Rule routes (protected)
	rules := api.PathPrefix("/conflict-rules").Subrouter()
	rules.HandleFunc("", r.listRules).Methods("GET")
	rules.HandleFunc("", r.upsertRule).Methods("PUT")
	rules.HandleFunc("/reset", r.resetRules).Methods("POST")
	rules.HandleFunc("/{entityType}", r.deleteRule).Methods("DELETE")
	rules.HandleFunc("/{entityType}/{property}", r.deleteRule).Methods("DELETE")

	// Event stream for review consoles (protected)
	if r.hub != nil {
		r.Handle("/ws/conflicts", auth(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(r.hub, w, req)
		}))).Methods("GET")
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Server string `json:"server"`
		buildinfo.Info
	}{"ok", "eckpos", buildinfo.Current(r.now())})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondEngineError maps engine error classes to HTTP statuses
func (r *Router) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sync.ErrInvalidArgument), errors.Is(err, sync.ErrInvalidResolution):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sync.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sync.ErrAlreadyResolved):
		respondError(w, http.StatusConflict, err.Error())
	default:
		r.log.Error("conflict engine failure", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondResult sends a resolution outcome. Deferrals are 202, failures carry
// the status of their error class.
func (r *Router) respondResult(w http.ResponseWriter, res *sync.Result) {
	switch {
	case res.Success:
		respondJSON(w, http.StatusOK, res)
	case res.Deferred():
		respondJSON(w, http.StatusAccepted, res)
	default:
		respondJSON(w, resultStatus(res), res)
	}
}

func resultStatus(res *sync.Result) int {
	switch res.Code {
	case sync.ErrNotFound.Code:
		return http.StatusNotFound
	case sync.ErrAlreadyResolved.Code:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(req *http.Request, v any) error {
	if req.Body == nil {
		return nil
	}
	err := json.NewDecoder(req.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return sync.ErrInvalidArgument.WithMessagef("invalid request body: %v", err)
	}
	return nil
}
