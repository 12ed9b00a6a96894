package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
	"github.com/xelth-com/eckposgo/internal/sync"
)

type manualResolveBody struct {
	Resolution models.ResolutionType `json:"resolution"`
	Notes      string                `json:"notes"`
	MergedData string                `json:"mergedData"`
}

type ignoreBody struct {
	Reason string `json:"reason"`
}

type bulkResolveBody struct {
	IDs        []string              `json:"ids"`
	Resolution models.ResolutionType `json:"resolution"`
	Notes      string                `json:"notes"`
}

type purgeBody struct {
	Before        *time.Time `json:"before,omitempty"`
	OlderThanDays *int       `json:"olderThanDays,omitempty"`
}

// batchOutcome reports a batch run; member failures do not fail the request
type batchOutcome struct {
	Count  int      `json:"count"`
	Errors []string `json:"errors"`
}

func newBatchOutcome(n int, err error) batchOutcome {
	out := batchOutcome{Count: n, Errors: []string{}}
	for _, e := range multierr.Errors(err) {
		out.Errors = append(out.Errors, e.Error())
	}
	return out
}

// detectConflict records a conflict between two submitted copies
func (r *Router) detectConflict(w http.ResponseWriter, req *http.Request) {
	var body sync.DetectRequest
	if err := decodeJSON(req, &body); err != nil {
		r.respondEngineError(w, err)
		return
	}

	c, err := r.resolver.DetectConflict(req.Context(), body)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	if c == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"detected": false})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"detected": true, "conflict": c})
}

// listConflicts returns one page of conflicts, newest first
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	q, err := parseConflictQuery(req)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}

	store := r.resolver.Store()
	total, err := store.Conflicts.Count(req.Context(), q.Scopes()...)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	items, err := store.Conflicts.Find(req.Context(), q.PageScopes()...)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	if items == nil {
		items = []models.Conflict{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"total":    total,
		"page":     q.Page,
		"pageSize": min(q.PageSize, repository.MaxPageSize),
	})
}

func parseConflictQuery(req *http.Request) (repository.ConflictQuery, error) {
	v := req.URL.Query()
	q := repository.ConflictQuery{
		EntityType: v.Get("entityType"),
		Status:     models.ConflictStatus(v.Get("status")),
		Page:       1,
		PageSize:   repository.DefaultPageSize,
	}

	if s := v.Get("entityId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, sync.ErrInvalidArgument.WithMessagef("invalid entityId %q", s)
		}
		q.EntityID = &id
	}
	if s := v.Get("resolved"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, sync.ErrInvalidArgument.WithMessagef("invalid resolved flag %q", s)
		}
		q.Resolved = &b
	}
	if s := v.Get("includeInactive"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, sync.ErrInvalidArgument.WithMessagef("invalid includeInactive flag %q", s)
		}
		q.IncludeInactive = b
	}
	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, sync.ErrInvalidArgument.WithMessagef("invalid page %q", s)
		}
		q.Page = n
	}
	if s := v.Get("pageSize"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, sync.ErrInvalidArgument.WithMessagef("invalid pageSize %q", s)
		}
		q.PageSize = n
	}
	return q, nil
}

// getSummary returns dashboard counts over active conflicts
func (r *Router) getSummary(w http.ResponseWriter, req *http.Request) {
	s, err := r.batch.GetConflictSummary(req.Context())
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// getConflict returns a single conflict
func (r *Router) getConflict(w http.ResponseWriter, req *http.Request) {
	c, ok := r.loadConflict(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// getAudit returns the audit history of a conflict, oldest first
func (r *Router) getAudit(w http.ResponseWriter, req *http.Request) {
	c, ok := r.loadConflict(w, req)
	if !ok {
		return
	}

	history, err := r.resolver.Audit().History(req.Context(), c.ID)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	if history == nil {
		history = []models.ConflictAuditEntry{}
	}
	respondJSON(w, http.StatusOK, history)
}

// getFieldPlan proposes a per-field merge
func (r *Router) getFieldPlan(w http.ResponseWriter, req *http.Request) {
	plan, err := r.resolver.PlanFieldResolution(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// resolveConflict applies the rule table to one conflict
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	res, err := r.resolver.ResolveByID(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	r.respondResult(w, res)
}

// manualResolve applies the caller's verdict
func (r *Router) manualResolve(w http.ResponseWriter, req *http.Request) {
	var body manualResolveBody
	if err := decodeJSON(req, &body); err != nil {
		r.respondEngineError(w, err)
		return
	}

	res, err := r.resolver.ManualResolve(req.Context(), &sync.ManualResolveRequest{
		ConflictID: mux.Vars(req)["id"],
		Resolution: body.Resolution,
		UserID:     middleware.UserFromContext(req.Context()),
		Notes:      body.Notes,
		MergedData: body.MergedData,
	})
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	r.respondResult(w, res)
}

// ignoreConflict closes a conflict without a verdict
func (r *Router) ignoreConflict(w http.ResponseWriter, req *http.Request) {
	var body ignoreBody
	if err := decodeJSON(req, &body); err != nil {
		r.respondEngineError(w, err)
		return
	}

	c, ok := r.loadConflict(w, req)
	if !ok {
		return
	}

	ignored, err := r.resolver.Ignore(req.Context(), c.ID, middleware.UserFromContext(req.Context()), body.Reason)
	if err != nil {
		r.respondEngineError(w, err)
		return
	}
	if !ignored {
		respondError(w, http.StatusConflict, "conflict "+c.ID+" is already resolved")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ignored": true, "conflictId": c.ID})
}

// bulkResolve applies one verdict to many conflicts
func (r *Router) bulkResolve(w http.ResponseWriter, req *http.Request) {
	var body bulkResolveBody
	if err := decodeJSON(req, &body); err != nil {
		r.respondEngineError(w, err)
		return
	}
	if len(body.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids are required")
		return
	}

	n, err := r.batch.BulkResolve(req.Context(), body.IDs, body.Resolution,
		middleware.UserFromContext(req.Context()), body.Notes)
	// a bare class error is a rejected request, member failures arrive wrapped
	if _, rejected := err.(*sync.ConflictError); rejected {
		r.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newBatchOutcome(n, err))
}

// autoResolve runs an auto-resolve sweep now
func (r *Router) autoResolve(w http.ResponseWriter, req *http.Request) {
	n, err := r.batch.AutoResolveAll(req.Context())
	if err != nil {
		r.log.Warn("auto-resolve sweep finished with errors", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, newBatchOutcome(n, err))
}

// purge deactivates conflicts resolved before the cutoff. Without a body the
// configured retention applies.
func (r *Router) purge(w http.ResponseWriter, req *http.Request) {
	var body purgeBody
	if err := decodeJSON(req, &body); err != nil {
		r.respondEngineError(w, err)
		return
	}

	cutoff := r.conflicts.RetentionCutoff(r.now())
	switch {
	case body.Before != nil:
		cutoff = *body.Before
	case body.OlderThanDays != nil:
		if *body.OlderThanDays < 0 {
			respondError(w, http.StatusBadRequest, "olderThanDays must not be negative")
			return
		}
		cutoff = r.now().AddDate(0, 0, -*body.OlderThanDays)
	}

	n, err := r.batch.PurgeResolved(req.Context(), cutoff)
	if err != nil {
		r.log.Warn("purge finished with errors", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, newBatchOutcome(n, err))
}

func (r *Router) loadConflict(w http.ResponseWriter, req *http.Request) (*models.Conflict, bool) {
	id := mux.Vars(req)["id"]
	c, err := r.resolver.Store().Conflicts.GetByID(req.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conflict "+id+" not found")
		return nil, false
	}
	if err != nil {
		r.respondEngineError(w, err)
		return nil, false
	}
	return c, true
}
