package worldstate

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/synapsehub/hub/internal/apierr"
	"github.com/synapsehub/hub/internal/clock"
)

// BumpHook is invoked synchronously after a mutation, per spec §5, with
// the freshly-incremented version. The hook must not call back into
// Version() — bumpLocked runs while e.mu is already held.
type BumpHook func(version int64)

// negationPairs are substring pairs the contradiction detector looks
// for: a hit on one side of a pair without its negation marker, paired
// against a later/earlier hit with it (or the opposite pole), flags a
// contradiction (spec §4.6).
var negationPairs = [][2]string{
	{"working", "not working"},
	{"passing", "failing"},
}

// Engine is the single actor owning the belief graph, observation log,
// conflict table, goal table, and the world-state work queue.
type Engine struct {
	mu sync.Mutex

	clock clock.Clock
	bump  BumpHook
	log   *slog.Logger

	version int64

	entities map[EntityKind]map[string]*Entity
	goals    map[string]*Goal
	observations []Observation
	conflicts    []Conflict
	gates        []*ApprovalGate
	work         []*WorkItem
}

// NewEngine constructs an empty convergence engine.
func NewEngine(c clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		clock: c,
		log:   log,
		entities: map[EntityKind]map[string]*Entity{
			KindFile:     {},
			KindEndpoint: {},
			KindUI:       {},
			KindFlow:     {},
			KindTest:     {},
		},
		goals: make(map[string]*Goal),
	}
}

// SetBumpHook registers the fabric's version-bump callback.
func (e *Engine) SetBumpHook(hook BumpHook) {
	e.mu.Lock()
	e.bump = hook
	e.mu.Unlock()
}

func (e *Engine) bumpLocked() {
	e.version++
	if e.bump != nil {
		e.bump(e.version)
	}
}

// Version returns the current belief-graph version.
func (e *Engine) Version() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Patch is a partial update to one table: nil value under a key deletes
// that entity, a non-nil map upserts it (spec §4.6).
type Patch struct {
	Kind    EntityKind
	Updates map[string]map[string]any // key -> fields, nil map means delete
}

// ApplyPatch merges a patch into the named table, stamping last_updated
// on every touched entity and incrementing version once.
func (e *Engine) ApplyPatch(p Patch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	table := e.entities[p.Kind]
	for key, fields := range p.Updates {
		if fields == nil {
			delete(table, key)
			continue
		}
		existing, ok := table[key]
		if !ok {
			existing = &Entity{Kind: p.Kind, Key: key, Fields: make(map[string]any)}
			table[key] = existing
		}
		for k, v := range fields {
			existing.Fields[k] = v
		}
		existing.LastUpdated = now
	}
	e.bumpLocked()
}

// GetEntities returns a snapshot of one table.
func (e *Engine) GetEntities(kind EntityKind) []Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	table := e.entities[kind]
	out := make([]Entity, 0, len(table))
	for _, ent := range table {
		out = append(out, *ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AssertFact appends an observation, scanning the last 50 observations
// for a lexical contradiction before appending. A hit records a conflict
// and enqueues tester-role repair work at priority 10 (spec §4.6).
func (e *Engine) AssertFact(agent, assertion string, confidence float64, source string) (Observation, *Conflict) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obs := Observation{
		ID:         newID(),
		Agent:      agent,
		Assertion:  assertion,
		Confidence: confidence,
		Source:     source,
		Timestamp:  e.clock.Now(),
	}

	conflict := e.detectContradictionLocked(obs)

	e.observations = append(e.observations, obs)
	if len(e.observations) > ObservationRingSize {
		e.observations = e.observations[len(e.observations)-ObservationRingSize:]
	}

	if conflict != nil {
		e.conflicts = append(e.conflicts, *conflict)
		if len(e.conflicts) > ConflictTableLimit {
			e.conflicts = e.conflicts[len(e.conflicts)-ConflictTableLimit:]
		}
		e.enqueueWorkLocked("resolve contradiction: "+conflict.Detail, Role("tester"), 10, nil)
	}

	e.bumpLocked()
	return obs, conflict
}

func (e *Engine) detectContradictionLocked(next Observation) *Conflict {
	window := e.observations
	if len(window) > 50 {
		window = window[len(window)-50:]
	}
	lower := strings.ToLower(next.Assertion)

	for _, prior := range window {
		priorLower := strings.ToLower(prior.Assertion)
		for _, pair := range negationPairs {
			pos, neg := pair[0], pair[1]
			if contradicts(lower, priorLower, pos, neg) {
				return &Conflict{
					ID:           newID(),
					ObservationA: prior.ID,
					ObservationB: next.ID,
					Detail:       prior.Assertion + " vs " + next.Assertion,
					CreatedAt:    e.clock.Now(),
				}
			}
		}
	}
	return nil
}

// contradicts reports whether a and b assert opposite poles of a
// positive/negative pair: one contains pos without containing neg, the
// other contains neg.
func contradicts(a, b, pos, neg string) bool {
	aPos := strings.Contains(a, pos) && !strings.Contains(a, neg)
	bNeg := strings.Contains(b, neg)
	if aPos && bNeg {
		return true
	}
	bPos := strings.Contains(b, pos) && !strings.Contains(b, neg)
	aNeg := strings.Contains(a, neg)
	return bPos && aNeg
}

// ProposeGoal creates a pending goal and enqueues planner-role work at
// priority 10 (spec §4.6).
func (e *Engine) ProposeGoal(description string, criteria []string) Goal {
	e.mu.Lock()
	defer e.mu.Unlock()

	goal := &Goal{
		ID:              newID(),
		Description:     description,
		SuccessCriteria: criteria,
		Status:          GoalPending,
		CreatedAt:       e.clock.Now(),
	}
	e.goals[goal.ID] = goal
	id := goal.ID
	e.enqueueWorkLocked("plan: "+description, Role("planner"), 10, &id)
	e.bumpLocked()
	return *goal
}

// EvaluateGoal classifies each success criterion by keyword against the
// entity tables and the recent observation log, then derives status
// transitions (spec §4.6).
func (e *Engine) EvaluateGoal(id string) (EvalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	goal, ok := e.goals[id]
	if !ok {
		return EvalResult{}, errNotFound(id)
	}

	var missing []string
	for _, criterion := range goal.SuccessCriteria {
		if !e.criterionMetLocked(criterion) {
			missing = append(missing, criterion)
		}
	}

	total := len(goal.SuccessCriteria)
	met := total - len(missing)
	progress := 1.0
	if total > 0 {
		progress = float64(met) / float64(total)
	}
	satisfied := len(missing) == 0

	prevStatus := goal.Status
	switch {
	case satisfied:
		goal.Status = GoalSatisfied
	case progress > 0.5:
		goal.Status = GoalConverging
	case prevStatus == GoalSatisfied || prevStatus == GoalConverging:
		goal.Status = GoalRegressed
		n := len(missing)
		if n > 3 {
			n = 3
		}
		for _, m := range missing[:n] {
			e.enqueueWorkLocked("fix regression: "+m, Role("fixer"), 8, &id)
		}
	default:
		goal.Status = GoalInProgress
	}

	if goal.Status != prevStatus {
		e.bumpLocked()
	}

	return EvalResult{Satisfied: satisfied, Progress: progress, Missing: missing}, nil
}

func (e *Engine) criterionMetLocked(criterion string) bool {
	lower := strings.ToLower(criterion)

	switch {
	case (strings.Contains(lower, "endpoint") || strings.Contains(lower, "api")) && strings.Contains(lower, "implemented"):
		return e.anyEntityMatchesRoute(KindEndpoint, lower, "implemented")
	case (strings.Contains(lower, "endpoint") || strings.Contains(lower, "api")) && strings.Contains(lower, "tested"):
		return e.anyEntityMatchesRoute(KindEndpoint, lower, "tested")
	case strings.Contains(lower, "test") && strings.Contains(lower, "pass"):
		return e.allTestsPassingLocked()
	case strings.Contains(lower, "ui") || strings.Contains(lower, "frontend"):
		return e.anyEntityFlagLocked(KindUI, "functional")
	case strings.Contains(lower, "flow") || strings.Contains(lower, "working"):
		return e.anyEntityFlagLocked(KindFlow, "working")
	default:
		return e.recentObservationMatchesLocked(lower)
	}
}

func (e *Engine) anyEntityMatchesRoute(kind EntityKind, criterion, flag string) bool {
	for key, ent := range e.entities[kind] {
		if !strings.Contains(strings.ToLower(key), routeFragment(criterion)) {
			continue
		}
		if v, ok := ent.Fields[flag].(bool); ok && v {
			return true
		}
	}
	return false
}

// routeFragment is a best-effort extraction of the route substring a
// criterion names; since criteria are free text, any non-keyword token
// is treated as a candidate route fragment.
func routeFragment(criterion string) string {
	for _, stop := range []string{"endpoint", "api", "implemented", "tested", "is", "the", "for"} {
		criterion = strings.ReplaceAll(criterion, stop, "")
	}
	return strings.TrimSpace(criterion)
}

func (e *Engine) allTestsPassingLocked() bool {
	tests := e.entities[KindTest]
	if len(tests) == 0 {
		return false
	}
	for _, t := range tests {
		if v, ok := t.Fields["passing"].(bool); !ok || !v {
			return false
		}
	}
	return true
}

func (e *Engine) anyEntityFlagLocked(kind EntityKind, flag string) bool {
	for _, ent := range e.entities[kind] {
		if v, ok := ent.Fields[flag].(bool); ok && v {
			return true
		}
	}
	return false
}

func (e *Engine) recentObservationMatchesLocked(criterion string) bool {
	window := e.observations
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	for i := len(window) - 1; i >= 0; i-- {
		obs := window[i]
		if obs.Confidence > 0.7 && strings.Contains(strings.ToLower(obs.Assertion), criterion) {
			return true
		}
	}
	return false
}

// roleMatch maps a requester's role to acceptable work roles (spec
// §4.6): coder accepts coder or fixer work, fixer accepts fixer or
// coder, every other role only matches itself.
func roleMatch(itemRole, requesterRole Role) bool {
	switch requesterRole {
	case Role("coder"):
		return itemRole == Role("coder") || itemRole == Role("fixer")
	case Role("fixer"):
		return itemRole == Role("fixer") || itemRole == Role("coder")
	default:
		return itemRole == requesterRole
	}
}

// EnqueueWork appends a work item and resorts the queue by descending
// priority, stable among equals (spec §4.6).
func (e *Engine) EnqueueWork(description string, forRole Role, priority int, goalID *string) WorkItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	item := e.enqueueWorkLocked(description, forRole, priority, goalID)
	e.bumpLocked()
	return *item
}

func (e *Engine) enqueueWorkLocked(description string, forRole Role, priority int, goalID *string) *WorkItem {
	item := &WorkItem{
		ID:          newID(),
		Description: description,
		ForRole:     forRole,
		GoalID:      goalID,
		Priority:    priority,
		Status:      WorkQueued,
		CreatedAt:   e.clock.Now(),
	}
	e.work = append(e.work, item)
	sort.SliceStable(e.work, func(i, j int) bool { return e.work[i].Priority > e.work[j].Priority })
	return item
}

// AssignWork picks the first queued item matching the requester's role
// under roleMatch and flips it to assigned.
func (e *Engine) AssignWork(agentID string, role Role) (*WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range e.work {
		if item.Status == WorkQueued && roleMatch(item.ForRole, role) {
			item.Status = WorkAssigned
			item.AssignedTo = &agentID
			now := e.clock.Now()
			item.AssignedAt = &now
			e.bumpLocked()
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

// CompleteWork marks a work item completed and re-evaluates its
// associated goal, if any.
func (e *Engine) CompleteWork(id string) (*WorkItem, error) {
	e.mu.Lock()
	item := e.findWorkLocked(id)
	if item == nil {
		e.mu.Unlock()
		return nil, errNotFound(id)
	}
	item.Status = WorkCompleted
	now := e.clock.Now()
	item.CompletedAt = &now
	goalID := item.GoalID
	e.bumpLocked()
	copyItem := *item
	e.mu.Unlock()

	if goalID != nil {
		e.EvaluateGoal(*goalID)
	}
	return &copyItem, nil
}

// ReportFailure asserts the failure as an observation, marks matching
// endpoints failing, and enqueues fixer work at priority 9 (spec §4.6).
func (e *Engine) ReportFailure(area, reason string) {
	e.AssertFact("system", area+" failing: "+reason, 1.0, "failure-report")

	e.mu.Lock()
	lowerArea := strings.ToLower(area)
	for key, ent := range e.entities[KindEndpoint] {
		if strings.Contains(strings.ToLower(key), lowerArea) {
			ent.Fields["failing"] = true
			ent.LastUpdated = e.clock.Now()
		}
	}
	e.enqueueWorkLocked("fix failure in "+area+": "+reason, Role("fixer"), 9, nil)
	e.bumpLocked()
	e.mu.Unlock()
}

func (e *Engine) findWorkLocked(id string) *WorkItem {
	for _, item := range e.work {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// ListWork returns a snapshot of the work queue.
func (e *Engine) ListWork() []WorkItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WorkItem, len(e.work))
	for i, w := range e.work {
		out[i] = *w
	}
	return out
}

// ListGoals returns a snapshot of all goals.
func (e *Engine) ListGoals() []Goal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Goal, 0, len(e.goals))
	for _, g := range e.goals {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListConflicts returns a snapshot of the conflict table.
func (e *Engine) ListConflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Conflict, len(e.conflicts))
	copy(out, e.conflicts)
	return out
}

// ResolveConflict records a human/agent resolution for an open conflict
// (spec §7: conflicts are first-class entities users can see and
// resolve).
func (e *Engine) ResolveConflict(id, resolution string) (Conflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.conflicts {
		if e.conflicts[i].ID != id {
			continue
		}
		if e.conflicts[i].ResolvedAt != nil {
			return e.conflicts[i], apierr.New(apierr.InvalidInput, "conflict already resolved")
		}
		now := e.clock.Now()
		e.conflicts[i].ResolvedAt = &now
		e.conflicts[i].Resolution = &resolution
		e.bumpLocked()
		return e.conflicts[i], nil
	}
	return Conflict{}, apierr.New(apierr.NotFound, "no conflict "+id)
}

// ProposeApprovalGate opens a new pending approval gate, discarding the
// oldest entry once the bounded ring (spec §5, ≤20) is full.
func (e *Engine) ProposeApprovalGate(description string) ApprovalGate {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := &ApprovalGate{ID: newID(), Description: description, Status: GatePending, CreatedAt: e.clock.Now()}
	e.gates = append(e.gates, gate)
	if len(e.gates) > ApprovalGateLimit {
		e.gates = e.gates[len(e.gates)-ApprovalGateLimit:]
	}
	e.bumpLocked()
	return *gate
}

// ResolveApprovalGate transitions a pending gate to approved or rejected.
func (e *Engine) ResolveApprovalGate(id string, approved bool) (ApprovalGate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.gates {
		if g.ID != id {
			continue
		}
		if g.Status != GatePending {
			return *g, apierr.New(apierr.InvalidInput, "approval gate already resolved")
		}
		now := e.clock.Now()
		g.Status = GateApproved
		if !approved {
			g.Status = GateRejected
		}
		g.ResolvedAt = &now
		e.bumpLocked()
		return *g, nil
	}
	return ApprovalGate{}, apierr.New(apierr.NotFound, "no approval gate "+id)
}

// ListApprovalGates returns a snapshot of the approval-gate ring.
func (e *Engine) ListApprovalGates() []ApprovalGate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ApprovalGate, len(e.gates))
	for i, g := range e.gates {
		out[i] = *g
	}
	return out
}

// tick re-evaluates non-satisfied goals, retires work completed over 60s
// ago, and requeues work stuck assigned over 30s (spec §4.6).
func (e *Engine) tick(now time.Time) {
	var goalIDs []string
	e.mu.Lock()
	for _, g := range e.goals {
		if g.Status != GoalSatisfied {
			goalIDs = append(goalIDs, g.ID)
		}
	}

	changed := false
	kept := e.work[:0]
	for _, item := range e.work {
		if item.Status == WorkCompleted && item.CompletedAt != nil && now.Sub(*item.CompletedAt) > 60*time.Second {
			changed = true
			continue
		}
		if item.Status == WorkAssigned && item.AssignedAt != nil && now.Sub(*item.AssignedAt) > 30*time.Second {
			item.Status = WorkQueued
			item.AssignedTo = nil
			item.AssignedAt = nil
			changed = true
		}
		kept = append(kept, item)
	}
	e.work = kept
	if changed {
		e.bumpLocked()
	}
	e.mu.Unlock()

	for _, id := range goalIDs {
		e.EvaluateGoal(id)
	}
}

// Ticker drives the 2s convergence tick (spec §5).
type Ticker struct {
	engine *Engine
	period time.Duration
	stop   chan struct{}
}

// NewTicker constructs a convergence ticker for engine.
func NewTicker(engine *Engine, period time.Duration) *Ticker {
	return &Ticker{engine: engine, period: period, stop: make(chan struct{})}
}

// Start runs the convergence loop until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.engine.tick(time.Now())
			}
		}
	}()
}

// Stop halts the convergence loop.
func (t *Ticker) Stop() { close(t.stop) }

func newID() string { return clock.NewID() }

func errNotFound(id string) error {
	return apierr.New(apierr.NotFound, "no such id %q", id)
}
