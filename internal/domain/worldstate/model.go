// Package worldstate implements the belief-graph convergence engine
// (spec §4.6): entity tables, assertions with contradiction detection,
// goal evaluation, and the prioritized work queue that drives automatic
// repair. A single actor mutex serializes all mutation per spec §5.
package worldstate

import "time"

// EntityKind names one of the five belief-graph tables (spec §3).
type EntityKind string

const (
	KindFile     EntityKind = "file"
	KindEndpoint EntityKind = "endpoint"
	KindUI       EntityKind = "ui"
	KindFlow     EntityKind = "flow"
	KindTest     EntityKind = "test"
)

// Entity is a shallow-merged record in one of the belief-graph tables.
// Fields is an open bag because each table's schema differs (an endpoint
// tracks implemented/tested/failing; a flow tracks working; etc.) and the
// spec treats applyPatch as a generic upsert over arbitrary fields.
type Entity struct {
	Kind        EntityKind     `json:"kind"`
	Key         string         `json:"key"`
	Fields      map[string]any `json:"fields"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// GoalStatus is the lifecycle status of a goal (spec §3).
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalInProgress GoalStatus = "in_progress"
	GoalConverging GoalStatus = "converging"
	GoalSatisfied  GoalStatus = "satisfied"
	GoalRegressed  GoalStatus = "regressed"
)

// Goal is a target condition evaluated against the belief graph.
type Goal struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	SuccessCriteria []string   `json:"successCriteria"`
	Status          GoalStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// EvalResult is the outcome of evaluating a goal's criteria (spec §4.6).
type EvalResult struct {
	Satisfied bool     `json:"satisfied"`
	Progress  float64  `json:"progress"`
	Missing   []string `json:"missing"`
}

// Observation is an appended assertion in the observation log (spec §3).
type Observation struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Assertion  string    `json:"assertion"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conflict records a lexical contradiction detected between two
// observations (spec §4.6). Promoted to a resolvable entity per spec §7
// ("conflicts … are first-class entities users can see and resolve").
type Conflict struct {
	ID           string     `json:"id"`
	ObservationA string     `json:"observationA"`
	ObservationB string     `json:"observationB"`
	Detail       string     `json:"detail"`
	CreatedAt    time.Time  `json:"createdAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	Resolution   *string    `json:"resolution,omitempty"`
}

// WorkStatus mirrors workspace.WorkStatus but belongs to the world-state
// queue, which has its own assignment rule (spec §4.6) distinct from the
// workspace-level queue (spec §4.1).
type WorkStatus string

const (
	WorkQueued    WorkStatus = "queued"
	WorkAssigned  WorkStatus = "assigned"
	WorkCompleted WorkStatus = "completed"
)

// Role is the acceptable-role tag for world-state work items. Kept as a
// plain string rather than reusing workspace.Role so this package has no
// dependency on the workspace domain.
type Role string

// WorkItem is a unit of work in the world-state queue.
type WorkItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	ForRole     Role       `json:"forRole"`
	GoalID      *string    `json:"goalId,omitempty"`
	Priority    int        `json:"priority"`
	Status      WorkStatus `json:"status"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const (
	ObservationRingSize = 500

	// ConflictTableLimit bounds the conflict table per spec §5's bounded
	// rings (conflicts ≤ 20).
	ConflictTableLimit = 20

	// ApprovalGateLimit bounds the approval-gate ring per spec §5's
	// bounded rings (approval gates ≤ 20).
	ApprovalGateLimit = 20
)

// GateStatus is the lifecycle status of an approval gate.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
)

// ApprovalGate is a first-class, user-resolvable entity (spec §7:
// "Conflicts and approval gates are first-class entities users can see
// and resolve"). The spec budgets a bounded ring for it (§5) but never
// fully specifies its shape; this resolves the Open Question with the
// minimal shape the rest of the belief graph implies (see DESIGN.md).
type ApprovalGate struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      GateStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}
