package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/sync"
)

// listRules returns the active rule table
func (r *Router) listRules(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.resolver.Rules().GetAllRules())
}

// upsertRule adds or replaces a rule; it applies to the next resolution
func (r *Router) upsertRule(w http.ResponseWriter, req *http.Request) {
	var rule sync.Rule
	if err := decodeJSON(req, &rule); err != nil {
		r.respondEngineError(w, err)
		return
	}
	if err := r.resolver.Rules().AddOrUpdateRule(&rule); err != nil {
		r.respondEngineError(w, err)
		return
	}

	r.log.Info("conflict rule updated",
		zap.String("entity_type", rule.EntityType),
		zap.String("property", rule.PropertyName),
		zap.String("resolution", string(rule.DefaultResolution)),
		zap.String("user_id", middleware.UserFromContext(req.Context())))
	respondJSON(w, http.StatusOK, rule)
}

// deleteRule removes an entity-wide or property rule
func (r *Router) deleteRule(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	entityType, property := vars["entityType"], vars["property"]

	if !r.resolver.Rules().RemovePropertyRule(entityType, property) {
		respondError(w, http.StatusNotFound, "no rule for "+entityType+" "+property)
		return
	}

	r.log.Info("conflict rule removed",
		zap.String("entity_type", entityType),
		zap.String("property", property),
		zap.String("user_id", middleware.UserFromContext(req.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// resetRules restores the startup rule set
func (r *Router) resetRules(w http.ResponseWriter, req *http.Request) {
	r.resolver.Rules().ResetToDefaultRules()
	r.log.Info("conflict rules reset",
		zap.String("user_id", middleware.UserFromContext(req.Context())))
	respondJSON(w, http.StatusOK, r.resolver.Rules().GetAllRules())
}
