package workspace

import (
	"sort"
	"sync"
	"time"

	"github.com/synapsehub/hub/internal/apierr"
	"github.com/synapsehub/hub/internal/clock"
)

// BumpHook is invoked synchronously after the mutation that triggered it,
// per spec §5, with the freshly-incremented version. The change-
// notification fabric registers the single hook at startup (spec §4.8).
// Taking the version as an argument (rather than having the hook call
// back into Version()) avoids re-locking mu from inside bumpLocked.
type BumpHook func(version int64)

// Store is the single actor owning workspace state: agents, locks,
// intents, handoffs, and the work queue. All access is serialized by mu,
// standing in for the single-threaded event loop spec §5 assumes.
type Store struct {
	mu sync.Mutex

	clock clock.Clock
	bump  BumpHook

	version int64
	target  string

	agents  map[string]*Agent
	locks   map[string]*Lock // path -> lock
	intents []Intent
	work    []*WorkItem

	// handoffs keyed by (path, role) per spec §4.1 "unlock_file ... stores
	// a handoff record keyed by (path, to)".
	handoffs map[handoffKey]Handoff
}

type handoffKey struct {
	path string
	to   Role
}

// New creates an empty workspace store.
func New(c clock.Clock) *Store {
	return &Store{
		clock:    c,
		agents:   make(map[string]*Agent),
		locks:    make(map[string]*Lock),
		handoffs: make(map[handoffKey]Handoff),
	}
}

// SetBumpHook registers the fabric's version-bump callback (spec §4.8).
func (s *Store) SetBumpHook(hook BumpHook) {
	s.mu.Lock()
	s.bump = hook
	s.mu.Unlock()
}

// bumpLocked increments the version and invokes the bump hook. Must be
// called while s.mu is held, as the last step of a mutating method.
func (s *Store) bumpLocked() {
	s.version++
	if s.bump != nil {
		s.bump(s.version)
	}
}

// Version returns the current workspace version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// JoinWorkspace creates an agent and returns its ID (spec §4.1).
func (s *Store) JoinWorkspace(name, client string, role Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	id := newAgentID()
	s.agents[id] = &Agent{
		ID:       id,
		Name:     name,
		Client:   client,
		Role:     role,
		Status:   StatusIdle,
		JoinedAt: now,
		LastSeen: now,
		Color:    colorFor(id),
	}
	s.bumpLocked()
	return id
}

// Touch refreshes lastSeen for an authenticated agent (spec §3), called
// by the control-plane dispatcher on every tool call.
func (s *Store) Touch(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent, ok := s.agents[agentID]; ok {
		agent.LastSeen = s.clock.Now()
		if agent.Status == StatusDisconnected {
			agent.Status = StatusIdle
		}
	}
}

// SetTarget sets the shared workspace target/goal string.
func (s *Store) SetTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.bumpLocked()
}

// GetTarget returns the shared workspace target.
func (s *Store) GetTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// ListAgents returns a snapshot of all agents.
func (s *Store) ListAgents() []Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// PostIntent appends an intent for agentID (spec §4.1).
func (s *Store) PostIntent(agentID string, action IntentAction, description string) Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent := s.appendIntentLocked(agentID, action, description)
	s.bumpLocked()
	return intent
}

// appendIntentLocked must be called with s.mu held. It does not bump the
// version itself — callers that append an intent as part of a larger
// mutation bump once at the end of the whole operation.
func (s *Store) appendIntentLocked(agentID string, action IntentAction, description string) Intent {
	name, client := s.agentDisplayLocked(agentID)
	intent := Intent{
		ID:          newID(),
		AgentID:     agentID,
		AgentName:   name,
		Client:      client,
		Action:      action,
		Description: description,
		Timestamp:   s.clock.Now(),
	}
	s.intents = append(s.intents, intent)
	if len(s.intents) > IntentRingSize {
		s.intents = s.intents[len(s.intents)-IntentRingSize:]
	}
	return intent
}

func (s *Store) agentDisplayLocked(agentID string) (name, client string) {
	if agent, ok := s.agents[agentID]; ok {
		return agent.Name, agent.Client
	}
	return "unknown", "unknown"
}

// ReadIntents returns the most recent limit intents, oldest first.
func (s *Store) ReadIntents(limit int) []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.intents) {
		limit = len(s.intents)
	}
	start := len(s.intents) - limit
	out := make([]Intent, limit)
	copy(out, s.intents[start:])
	return out
}

// LockFile acquires an exclusive lock on path for agentID (spec §4.1).
func (s *Store) LockFile(agentID, path, reason string, ttl time.Duration) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.locks[path]; ok {
		if existing.AgentID != agentID && existing.ExpiresAt.After(now) {
			return Lock{}, apierr.New(apierr.LockHeld, "path %q is locked by %s", path, existing.AgentName)
		}
	}

	name, client := s.agentDisplayLocked(agentID)
	role := RoleAny
	if agent, ok := s.agents[agentID]; ok {
		role = agent.Role
	}

	lock := Lock{
		Path:      path,
		AgentID:   agentID,
		AgentName: name,
		Client:    client,
		Role:      role,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
	}
	s.locks[path] = &lock

	s.appendIntentLocked(agentID, ActionWorking, "locked "+path)
	s.bumpLocked()
	return lock, nil
}

// RenewLock extends the expiry of an existing lock owned by agentID.
func (s *Store) RenewLock(agentID, path string, ttl time.Duration) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		return Lock{}, apierr.New(apierr.NotFound, "no lock on %q", path)
	}
	if lock.AgentID != agentID {
		return Lock{}, apierr.New(apierr.LockHeld, "path %q is locked by %s", path, lock.AgentName)
	}
	lock.ExpiresAt = s.clock.Now().Add(ttl)
	s.bumpLocked()
	return *lock, nil
}

// CheckLocks returns all locks, or the lock on a single path if given.
func (s *Store) CheckLocks(path string) []Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" {
		if lock, ok := s.locks[path]; ok {
			return []Lock{*lock}
		}
		return nil
	}
	out := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// UnlockFile releases agentID's lock on path, optionally recording a
// handoff for the next agent of role `to` (spec §4.1).
func (s *Store) UnlockFile(agentID, path string, handoffTo *Role, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		return apierr.New(apierr.NotFound, "no lock on %q", path)
	}
	if lock.AgentID != agentID {
		return apierr.New(apierr.LockHeld, "path %q is locked by %s", path, lock.AgentName)
	}
	delete(s.locks, path)

	if handoffTo != nil {
		s.handoffs[handoffKey{path: path, to: *handoffTo}] = Handoff{
			Path:    path,
			From:    agentID,
			To:      *handoffTo,
			Message: message,
			AddedAt: s.clock.Now(),
		}
		s.appendIntentLocked(agentID, ActionHandoff, "handed off "+path+" to "+string(*handoffTo))
	}

	s.bumpLocked()
	return nil
}

// ForceUnlock removes any lock on path regardless of owner (admin
// operation named but not detailed in spec §3/§4.1).
func (s *Store) ForceUnlock(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		return apierr.New(apierr.NotFound, "no lock on %q", path)
	}
	delete(s.locks, path)
	s.appendIntentLocked(lock.AgentID, ActionHandoff, "lock on "+path+" was force-released")
	s.bumpLocked()
	return nil
}

// PollWork returns the oldest pending work item matching role, assigns
// it, updates the agent's currentTask, and delivers any pending handoff
// for that role (spec §4.1).
func (s *Store) PollWork(agentID string, role Role) (*WorkItem, *Handoff) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var picked *WorkItem
	for _, item := range s.work {
		if item.Status == WorkPending && matchesRole(item.ForRole, role) {
			if picked == nil || item.CreatedAt.Before(picked.CreatedAt) {
				picked = item
			}
		}
	}

	var handoff *Handoff
	for key, h := range s.handoffs {
		if key.to == role {
			hCopy := h
			handoff = &hCopy
			delete(s.handoffs, key)
			break
		}
	}

	if picked == nil && handoff == nil {
		return nil, nil
	}

	if picked != nil {
		picked.Status = WorkAssigned
		picked.AssignedTo = &agentID
		if agent, ok := s.agents[agentID]; ok {
			agent.CurrentTask = &picked.Description
		}
	}

	s.bumpLocked()
	if picked == nil {
		return nil, handoff
	}
	copyItem := *picked
	return &copyItem, handoff
}

// ClaimWork explicitly assigns a pending work item to agentID.
func (s *Store) ClaimWork(agentID, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findWorkLocked(id)
	if item == nil {
		return nil, apierr.New(apierr.NotFound, "no work item %q", id)
	}
	if item.Status != WorkPending {
		return nil, apierr.New(apierr.InvalidInput, "work item %q is not pending", id)
	}
	item.Status = WorkAssigned
	item.AssignedTo = &agentID
	if agent, ok := s.agents[agentID]; ok {
		agent.CurrentTask = &item.Description
	}
	s.bumpLocked()
	copyItem := *item
	return &copyItem, nil
}

// CompleteWork marks a work item completed (spec §4.1).
func (s *Store) CompleteWork(agentID, id, result string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findWorkLocked(id)
	if item == nil {
		return nil, apierr.New(apierr.NotFound, "no work item %q", id)
	}
	item.Status = WorkCompleted
	item.Result = result
	if agent, ok := s.agents[agentID]; ok && agent.CurrentTask != nil && *agent.CurrentTask == item.Description {
		agent.CurrentTask = nil
		agent.Status = StatusIdle
	}
	s.bumpLocked()
	copyItem := *item
	return &copyItem, nil
}

func (s *Store) findWorkLocked(id string) *WorkItem {
	for _, item := range s.work {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// EnqueueWork appends a work item posted directly through the workspace
// API (as opposed to the world-state engine's own queue, spec §4.6).
func (s *Store) EnqueueWork(createdBy, description string, forRole Role, priority int, context string) WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &WorkItem{
		ID:          newID(),
		Description: description,
		ForRole:     forRole,
		CreatedBy:   createdBy,
		CreatedAt:   s.clock.Now(),
		Status:      WorkPending,
		Priority:    priority,
		Context:     context,
	}
	s.work = append(s.work, item)
	sort.SliceStable(s.work, func(i, j int) bool { return s.work[i].Priority > s.work[j].Priority })
	s.bumpLocked()
	return *item
}

// Snapshot returns the data backing GET /state (spec §6).
type Snapshot struct {
	Agents    []Agent    `json:"agents"`
	Locks     []Lock     `json:"locks"`
	Intents   []Intent   `json:"intents"`
	WorkQueue []WorkItem `json:"workQueue"`
	Target    string     `json:"target"`
	Version   int64      `json:"version"`
}

// Snapshot returns a full point-in-time view of workspace state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, *a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].JoinedAt.Before(agents[j].JoinedAt) })

	locks := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, *l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Path < locks[j].Path })

	work := make([]WorkItem, 0, len(s.work))
	for _, w := range s.work {
		work = append(work, *w)
	}

	intents := make([]Intent, len(s.intents))
	copy(intents, s.intents)

	return Snapshot{
		Agents:    agents,
		Locks:     locks,
		Intents:   intents,
		WorkQueue: work,
		Target:    s.target,
		Version:   s.version,
	}
}

// sweepLocks deletes expired locks, clearing the owning agent's current
// task and recording a handoff intent (spec §4.2). If anything changed
// it bumps the version once; it returns whether anything changed.
func (s *Store) sweepLocks(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for path, lock := range s.locks {
		if !lock.ExpiresAt.After(now) {
			delete(s.locks, path)
			if agent, ok := s.agents[lock.AgentID]; ok && agent.CurrentTask != nil && *agent.CurrentTask == path {
				agent.CurrentTask = nil
				agent.Status = StatusIdle
			}
			s.appendIntentLocked(lock.AgentID, ActionHandoff, "lock on "+path+" expired and was reclaimed")
			changed = true
		}
	}
	if changed {
		s.bumpLocked()
	}
	return changed
}

// sweepPresence demotes or removes agents based on lastSeen staleness
// (spec §4.3). Returns whether anything changed.
func (s *Store) sweepPresence(now time.Time, disconnectAfter, removeAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for id, agent := range s.agents {
		idle := now.Sub(agent.LastSeen)
		switch {
		case idle >= removeAfter:
			delete(s.agents, id)
			changed = true
		case idle >= disconnectAfter:
			if agent.Status != StatusDisconnected {
				agent.Status = StatusDisconnected
				agent.CurrentTask = nil
				changed = true
			}
		}
	}
	if changed {
		s.bumpLocked()
	}
	return changed
}

func newID() string             { return clock.NewID() }
func newAgentID() string        { return clock.NewID() }
func colorFor(id string) string { return clock.ColorFor(id) }
