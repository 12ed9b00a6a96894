package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

// errLostRace aborts a unit of work whose conditional update matched no row
var errLostRace = errors.New("conflict was resolved concurrently")

// ConflictResolver detects conflicts and drives them through their state machine:
//
//	Detected -> AutoResolved | PendingManual -> Resolved
//	Detected | PendingManual -> Ignored
type ConflictResolver struct {
	store    *repository.Store
	rules    *RuleTable
	audit    *AuditTrail
	log      *zap.Logger
	now      func() time.Time
	notifier Notifier
	metrics  *Metrics
}

// Option configures a ConflictResolver
type Option func(*ConflictResolver)

// WithLogger sets the structured logger
func WithLogger(log *zap.Logger) Option {
	return func(cr *ConflictResolver) { cr.log = log }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(cr *ConflictResolver) { cr.now = now }
}

// WithNotifier sets the observer of committed transitions
func WithNotifier(n Notifier) Option {
	return func(cr *ConflictResolver) { cr.notifier = n }
}

// WithMetrics sets the outcome counters
func WithMetrics(m *Metrics) Option {
	return func(cr *ConflictResolver) { cr.metrics = m }
}

// NewConflictResolver creates a resolver over store using rules as policy
func NewConflictResolver(store *repository.Store, rules *RuleTable, opts ...Option) *ConflictResolver {
	cr := &ConflictResolver{
		store:    store,
		rules:    rules,
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(cr)
	}
	if cr.rules == nil {
		cr.rules = NewRuleTable()
	}
	cr.audit = NewAuditTrail(store, cr.now)
	return cr
}

// Rules returns the policy table
func (cr *ConflictResolver) Rules() *RuleTable { return cr.rules }

// Audit returns the audit trail
func (cr *ConflictResolver) Audit() *AuditTrail { return cr.audit }

// Store returns the underlying conflict store
func (cr *ConflictResolver) Store() *repository.Store { return cr.store }

// DetectConflict records a conflict when the two copies really disagree.
// It returns nil without error when they do not.
func (cr *ConflictResolver) DetectConflict(ctx context.Context, req DetectRequest) (*models.Conflict, error) {
	if strings.TrimSpace(req.EntityType) == "" {
		return nil, ErrInvalidArgument.WithMessage("entity type is required")
	}
	if !HasMeaningfulDifference(req.LocalData, req.RemoteData) {
		return nil, nil
	}

	fields := ConflictingFields(req.LocalData, req.RemoteData)
	c := &models.Conflict{
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		LocalData:         req.LocalData,
		RemoteData:        req.RemoteData,
		LocalTimestamp:    req.LocalTimestamp.UTC(),
		RemoteTimestamp:   req.RemoteTimestamp.UTC(),
		ConflictingFields: fields,
		Status:            models.ConflictStatusDetected,
		IsActive:          true,
	}

	err := cr.store.Commit(ctx, func(tx *repository.Store) error {
		if err := tx.Conflicts.Add(ctx, c); err != nil {
			return err
		}
		details := fmt.Sprintf("%d conflicting field(s): %s", len(fields), strings.Join(fields, ", "))
		return cr.audit.record(ctx, tx, c, ActionDetected, "", nil, details)
	})
	if err != nil {
		return nil, fmt.Errorf("detect conflict %s/%d: %w", req.EntityType, req.EntityID, err)
	}

	cr.log.Info("conflict detected",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", c.EntityType),
		zap.Int64("entity_id", c.EntityID),
		zap.Strings("fields", fields))
	cr.metrics.incDetected(c.EntityType)
	cr.notifier.Publish(eventFor(c, EventDetected, cr.now()))
	return c, nil
}

// Resolve applies the entity-wide rule of the conflict's type. Rules that need
// a human park the conflict in PendingManual and report Success=false.
func (cr *ConflictResolver) Resolve(ctx context.Context, c *models.Conflict) (*Result, error) {
	if c == nil {
		return nil, ErrInvalidArgument.WithMessage("conflict is required")
	}
	if c.IsResolved || c.Status.IsTerminal() {
		res := failed(ErrAlreadyResolved, c.ID, "conflict %s is already resolved", c.ID)
		res.OldStatus, res.NewStatus = c.Status, c.Status
		return res, nil
	}

	rule := cr.rules.GetApplicableRule(c.EntityType, "")
	fields := []string(c.ConflictingFields)
	if len(fields) == 0 {
		fields = ConflictingFields(c.LocalData, c.RemoteData)
	}

	if gate, ok := cr.manualGate(rule, c.EntityType, fields); ok {
		return cr.park(ctx, c, gate)
	}

	winning, losing, side := pickSide(rule.DefaultResolution, c)
	if side == "" {
		// Merged or an unknown policy never picks a side on its own
		return cr.park(ctx, c, rule)
	}

	oldStatus := c.Status
	next := *c
	now := cr.now()
	next.Status = models.ConflictStatusAutoResolved
	next.IsResolved = true
	next.ResolvedAt = &now
	next.ResolvedByUserID = nil
	next.AppliedResolution = rule.DefaultResolution
	next.ResolvedData = winning
	next.ResolutionNotes = fmt.Sprintf("%s kept the %s copy (%s)", rule.DefaultResolution, side, rule.Description)

	details := describeResolution(next.ResolutionNotes, fields, losing, winning)
	if err := cr.commitTransition(ctx, c, &next, string(rule.DefaultResolution), nil, details); err != nil {
		if errors.Is(err, errLostRace) {
			return cr.alreadyResolved(ctx, c), nil
		}
		return nil, err
	}

	cr.log.Info("conflict auto-resolved",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", c.EntityType),
		zap.String("resolution", string(rule.DefaultResolution)),
		zap.String("winner", side))
	cr.metrics.incResolved(c.EntityType, string(rule.DefaultResolution), "auto")
	cr.notifier.Publish(eventFor(c, EventAutoResolved, now))

	return &Result{
		Success:           true,
		Message:           next.ResolutionNotes,
		ConflictID:        c.ID,
		OldStatus:         oldStatus,
		NewStatus:         c.Status,
		AppliedResolution: c.AppliedResolution,
		ResultingData:     winning,
	}, nil
}

// ResolveByID loads a conflict and resolves it
func (cr *ConflictResolver) ResolveByID(ctx context.Context, id string) (*Result, error) {
	c, err := cr.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return failed(ErrNotFound, id, "conflict %s not found", id), nil
	}
	return cr.Resolve(ctx, c)
}

// ManualResolve applies an operator's verdict verbatim. A conflict accepts one
// verdict only; later attempts fail with "already resolved".
func (cr *ConflictResolver) ManualResolve(ctx context.Context, req *ManualResolveRequest) (*Result, error) {
	if req == nil {
		return nil, ErrInvalidArgument.WithMessage("manual resolution request is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrInvalidArgument.WithMessage("acting user id is required")
	}

	c, err := cr.load(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return failed(ErrNotFound, req.ConflictID, "conflict %s not found", req.ConflictID), nil
	}
	if c.IsResolved {
		return cr.alreadyResolved(ctx, c), nil
	}

	var winning, losing string
	switch req.Resolution {
	case models.ResolutionLocalWins, models.ResolutionRemoteWins, models.ResolutionLastWriteWins:
		winning, losing, _ = pickSide(req.Resolution, c)
	case models.ResolutionMerged:
		if strings.TrimSpace(req.MergedData) == "" {
			return failed(ErrInvalidArgument, c.ID, "merged data required for %s", models.ResolutionMerged), nil
		}
		if _, err := ParsePayload(req.MergedData); err != nil {
			return failed(ErrInvalidArgument, c.ID, "malformed merged data: %v", err), nil
		}
		winning, losing = req.MergedData, c.RemoteData
	default:
		return failed(ErrInvalidResolution, c.ID, "invalid resolution %q for a manual verdict", req.Resolution), nil
	}

	userID := req.UserID
	next := *c
	now := cr.now()
	next.Status = models.ConflictStatusResolved
	next.IsResolved = true
	next.ResolvedAt = &now
	next.ResolvedByUserID = &userID
	next.ResolutionNotes = req.Notes
	next.AppliedResolution = req.Resolution
	next.ResolvedData = winning

	reason := req.Notes
	if reason == "" {
		reason = fmt.Sprintf("manual %s", req.Resolution)
	}
	details := describeResolution(reason, c.ConflictingFields, losing, winning)
	oldStatus := c.Status
	if err := cr.commitTransition(ctx, c, &next, string(req.Resolution), &userID, details); err != nil {
		if errors.Is(err, errLostRace) {
			return cr.alreadyResolved(ctx, c), nil
		}
		return nil, err
	}

	cr.log.Info("conflict resolved manually",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", c.EntityType),
		zap.String("resolution", string(req.Resolution)),
		zap.String("user_id", userID))
	cr.metrics.incResolved(c.EntityType, string(req.Resolution), "manual")
	cr.notifier.Publish(eventFor(c, EventResolved, now))

	return &Result{
		Success:           true,
		Message:           fmt.Sprintf("conflict resolved with %s", req.Resolution),
		ConflictID:        c.ID,
		OldStatus:         oldStatus,
		NewStatus:         c.Status,
		AppliedResolution: c.AppliedResolution,
		ResultingData:     winning,
	}, nil
}

// Ignore closes a conflict without choosing a payload. It returns false when
// the conflict does not exist or is already closed.
func (cr *ConflictResolver) Ignore(ctx context.Context, id, userID, reason string) (bool, error) {
	c, err := cr.load(ctx, id)
	if err != nil {
		return false, err
	}
	if c == nil || c.IsResolved {
		return false, nil
	}

	var actor *string
	if userID != "" {
		actor = &userID
	}

	next := *c
	now := cr.now()
	next.Status = models.ConflictStatusIgnored
	next.IsResolved = true
	next.ResolvedAt = &now
	next.ResolvedByUserID = actor
	next.ResolutionNotes = strings.TrimSpace(IgnoredNotesPrefix + " " + reason)
	next.AppliedResolution = ""
	next.ResolvedData = ""

	if err := cr.commitTransition(ctx, c, &next, ActionIgnored, actor, next.ResolutionNotes); err != nil {
		if errors.Is(err, errLostRace) {
			return false, nil
		}
		return false, err
	}

	cr.log.Info("conflict ignored",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", c.EntityType),
		zap.String("reason", reason))
	cr.metrics.incIgnored(c.EntityType)
	cr.notifier.Publish(eventFor(c, EventIgnored, now))
	return true, nil
}

// manualGate returns the rule that forces human review: the entity-wide rule
// itself, or a property rule covering one of the conflicting fields.
func (cr *ConflictResolver) manualGate(rule Rule, entityType string, fields []string) (Rule, bool) {
	if rule.NeedsHuman() {
		return rule, true
	}
	if len(fields) == 0 {
		return Rule{}, false
	}

	// payload keys arrive in whatever case the sending service uses
	conflicting := make(map[string]bool, len(fields))
	for _, f := range fields {
		conflicting[strings.ToLower(f)] = true
	}
	for _, pr := range cr.rules.PropertyRules(entityType) {
		if pr.NeedsHuman() && conflicting[strings.ToLower(pr.PropertyName)] {
			return pr, true
		}
	}
	return Rule{}, false
}

// park moves a conflict to PendingManual. This is a deferral, not an error.
// A conflict that is already parked is left untouched.
func (cr *ConflictResolver) park(ctx context.Context, c *models.Conflict, rule Rule) (*Result, error) {
	oldStatus := c.Status

	reason := fmt.Sprintf("manual review required by rule %s", ruleLabel(rule))
	if rule.Description != "" {
		reason += ": " + rule.Description
	}
	deferred := &Result{
		Success:           false,
		Message:           reason,
		ConflictID:        c.ID,
		OldStatus:         oldStatus,
		NewStatus:         models.ConflictStatusPendingManual,
		AppliedResolution: models.ResolutionManual,
	}
	if oldStatus == models.ConflictStatusPendingManual {
		cr.log.Debug("conflict still awaiting manual review",
			zap.String("conflict_id", c.ID),
			zap.String("rule", ruleLabel(rule)))
		return deferred, nil
	}

	next := *c
	next.Status = models.ConflictStatusPendingManual
	next.AppliedResolution = models.ResolutionManual

	if err := cr.commitTransition(ctx, c, &next, ActionPendingManual, nil, reason); err != nil {
		if errors.Is(err, errLostRace) {
			return cr.alreadyResolved(ctx, c), nil
		}
		return nil, err
	}

	cr.log.Info("conflict parked for manual review",
		zap.String("conflict_id", c.ID),
		zap.String("entity_type", c.EntityType),
		zap.String("rule", ruleLabel(rule)))
	cr.metrics.incDeferred(c.EntityType)
	cr.notifier.Publish(eventFor(c, EventPendingManual, cr.now()))
	return deferred, nil
}

// commitTransition writes next over c and appends the audit entry in one unit
// of work. The write only matches while the conflict is still unresolved.
// On success c takes the new state.
func (cr *ConflictResolver) commitTransition(ctx context.Context, c, next *models.Conflict, action string, userID *string, details string) error {
	err := cr.store.Commit(ctx, func(tx *repository.Store) error {
		rows, err := tx.Conflicts.UpdateColumns(ctx, resolutionColumns(next),
			repository.ByIDs(c.ID), repository.Unresolved())
		if err != nil {
			return err
		}
		if rows == 0 {
			return errLostRace
		}
		return cr.audit.record(ctx, tx, next, action, c.Status, userID, details)
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return err
		}
		return fmt.Errorf("commit %s for conflict %s: %w", action, c.ID, err)
	}
	*c = *next
	return nil
}

func (cr *ConflictResolver) load(ctx context.Context, id string) (*models.Conflict, error) {
	if id == "" {
		return nil, nil
	}
	c, err := cr.store.Conflicts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (cr *ConflictResolver) alreadyResolved(ctx context.Context, c *models.Conflict) *Result {
	res := failed(ErrAlreadyResolved, c.ID, "conflict %s is already resolved", c.ID)
	if fresh, err := cr.store.Conflicts.GetByID(ctx, c.ID); err == nil {
		res.OldStatus, res.NewStatus = fresh.Status, fresh.Status
		res.AppliedResolution = fresh.AppliedResolution
	}
	return res
}

// pickSide returns the winning and losing payloads for a side-picking
// resolution. LastWriteWins keeps the strictly later copy; on a tie the
// central (remote) copy wins. side is empty for resolutions that pick no side.
func pickSide(resolution models.ResolutionType, c *models.Conflict) (winning, losing, side string) {
	switch resolution {
	case models.ResolutionLocalWins:
		return c.LocalData, c.RemoteData, "local"
	case models.ResolutionRemoteWins:
		return c.RemoteData, c.LocalData, "remote"
	case models.ResolutionLastWriteWins:
		if c.LocalTimestamp.After(c.RemoteTimestamp) {
			return c.LocalData, c.RemoteData, "local"
		}
		return c.RemoteData, c.LocalData, "remote"
	default:
		return "", "", ""
	}
}

func resolutionColumns(c *models.Conflict) map[string]any {
	return map[string]any{
		"status":              c.Status,
		"is_resolved":         c.IsResolved,
		"resolved_at":         c.ResolvedAt,
		"resolved_by_user_id": c.ResolvedByUserID,
		"resolution_notes":    c.ResolutionNotes,
		"applied_resolution":  c.AppliedResolution,
		"resolved_data":       c.ResolvedData,
	}
}

func ruleLabel(r Rule) string {
	if r.PropertyName == "" {
		return r.EntityType
	}
	return r.EntityType + "." + r.PropertyName
}
