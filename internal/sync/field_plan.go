package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

// FieldVerdict is the planned outcome for one conflicting field
type FieldVerdict struct {
	Field       string                `json:"field"`
	Resolution  models.ResolutionType `json:"resolution"`
	Source      string                `json:"source,omitempty"` // "local" or "remote"; empty when a human must decide
	Rule        string                `json:"rule"`
	NeedsReview bool                  `json:"needsReview"`
}

// FieldPlan proposes a per-field merge of a conflict. MergedData holds the
// decided fields plus the remote value of every field still needing review.
type FieldPlan struct {
	ConflictID    string         `json:"conflictId"`
	Fields        []FieldVerdict `json:"fields"`
	PendingFields []string       `json:"pendingFields"`
	MergedData    string         `json:"mergedData"`
	Complete      bool           `json:"complete"`
}

// PlanFieldResolution applies property rules field by field without changing
// the conflict. Feed MergedData back through ManualResolve with Merged to apply it.
func (cr *ConflictResolver) PlanFieldResolution(ctx context.Context, id string) (*FieldPlan, error) {
	c, err := cr.store.Conflicts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound.WithMessagef("conflict %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	local, err := ParsePayload(c.LocalData)
	if err != nil {
		return nil, ErrInvalidArgument.WithMessagef("local copy of %s: %v", id, err)
	}
	remote, err := ParsePayload(c.RemoteData)
	if err != nil {
		return nil, ErrInvalidArgument.WithMessagef("remote copy of %s: %v", id, err)
	}

	merged := make(Payload, len(local)+len(remote))
	for k, v := range local {
		merged[k] = v
	}

	plan := &FieldPlan{ConflictID: c.ID, Fields: []FieldVerdict{}, PendingFields: []string{}}
	for _, field := range diffFields(local, remote) {
		rule := cr.rules.GetApplicableRule(c.EntityType, field)
		v := FieldVerdict{Field: field, Resolution: rule.DefaultResolution, Rule: ruleLabel(rule)}

		source := ""
		if !rule.NeedsHuman() {
			_, _, source = pickSide(rule.DefaultResolution, c)
		}
		switch source {
		case "local":
			setOrDelete(merged, field, local)
		case "remote":
			setOrDelete(merged, field, remote)
		default:
			v.NeedsReview = true
			setOrDelete(merged, field, remote)
			plan.PendingFields = append(plan.PendingFields, field)
		}
		v.Source = source
		plan.Fields = append(plan.Fields, v)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("compose merged payload for %s: %w", id, err)
	}
	plan.MergedData = string(out)
	plan.Complete = len(plan.PendingFields) == 0
	return plan, nil
}

func setOrDelete(dst Payload, field string, src Payload) {
	if v, ok := src[field]; ok {
		dst[field] = v
		return
	}
	delete(dst, field)
}
