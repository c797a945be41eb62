// Package workspace implements the workspace state machine (spec §3,
// §4.1–§4.3): agents, TTL locks, the intent log, handoffs, and the work
// queue, guarded by a single actor so every mutation and the version
// bump it triggers observe spec §5's serialization invariant.
package workspace

import "time"

// AgentStatus is the lifecycle status of an agent (spec §3).
type AgentStatus string

const (
	StatusIdle         AgentStatus = "idle"
	StatusWorking      AgentStatus = "working"
	StatusWaiting      AgentStatus = "waiting"
	StatusDisconnected AgentStatus = "disconnected"
)

// Role is the agent's declared responsibility. The set is fixed by spec
// §3; "any" matches work posted for any role.
type Role string

const (
	RoleAny      Role = "any"
	RolePlanner  Role = "planner"
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
	RoleCoder    Role = "coder"
	RoleTester   Role = "tester"
	RoleRefactor Role = "refactor"
	RoleObserver Role = "observer"
	RoleFixer    Role = "fixer"
)

// Agent is a fleet participant, AI or human (spec §3).
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Client      string      `json:"client"` // open enum tag: planner/coder/tester UIs, web assistants, terminals
	Role        Role        `json:"role"`
	Status      AgentStatus `json:"status"`
	CurrentTask *string     `json:"currentTask,omitempty"`
	JoinedAt    time.Time   `json:"joinedAt"`
	LastSeen    time.Time   `json:"lastSeen"`
	Autonomous  bool        `json:"autonomous"`
	Color       string      `json:"color"`
}

// Lock is an exclusive, time-bounded claim on a path (spec §3).
type Lock struct {
	Path      string    `json:"path"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Client    string    `json:"client"`
	Role      Role      `json:"role"`
	LockedAt  time.Time `json:"lockedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason,omitempty"`
}

// IntentAction is the kind of announcement an intent records.
type IntentAction string

const (
	ActionWorking   IntentAction = "working"
	ActionBlocked   IntentAction = "blocked"
	ActionCompleted IntentAction = "completed"
	ActionTargetSet IntentAction = "target_set"
	ActionHandoff   IntentAction = "handoff"
)

// Intent is an append-only announcement of what an agent is doing or has
// done (spec §3). Never mutated after append.
type Intent struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agentId"`
	AgentName   string       `json:"agentName"`
	Client      string       `json:"client"`
	Action      IntentAction `json:"action"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Handoff is a message attached to a recently released lock, consumed
// when the receiving role next polls work (spec §3).
type Handoff struct {
	Path    string    `json:"path"`
	From    string    `json:"from"`
	To      Role      `json:"to"`
	Message string    `json:"message"`
	AddedAt time.Time `json:"addedAt"`
}

// WorkStatus is the lifecycle status of a work item.
type WorkStatus string

const (
	WorkPending   WorkStatus = "pending"
	WorkAssigned  WorkStatus = "assigned"
	WorkCompleted WorkStatus = "completed"
)

// WorkItem is a unit of work posted for a role to pick up (spec §3).
type WorkItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	ForRole     Role       `json:"forRole"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	Status      WorkStatus `json:"status"`
	Context     string     `json:"context,omitempty"`
	Priority    int        `json:"priority"`
	Result      string     `json:"result,omitempty"`
	GoalID      *string    `json:"goalId,omitempty"`
}

// ringSize bounds are named per spec §3/§5 so call sites reference the
// same constants rather than magic numbers.
const (
	IntentRingSize = 50
)

// matchesRole reports whether work posted for itemRole may be handed to
// a requester of requesterRole. Distinct from the fixer/coder cross-matching spec §4.6 defines
// for the world-state work queue — the workspace work queue (§4.1) only
// matches exact role or "any".
func matchesRole(itemRole, requesterRole Role) bool {
	if itemRole == RoleAny {
		return true
	}
	return itemRole == requesterRole
}
