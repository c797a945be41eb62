package cascade

import (
	"reflect"
	"sync"

	"github.com/synapsehub/hub/internal/clock"
)

// Subscriber receives cascade events synchronously, in registration
// order; a panicking handler is recovered and swallowed (spec §4.7).
type Subscriber func(Event)

// Engine owns the contract registry, binding table, editor rosters, and
// pending change lists for the cascade merge demo.
type Engine struct {
	mu sync.Mutex

	clock clock.Clock

	contracts   map[string]*Contract // "METHOD:endpoint"
	bindings    []*Binding
	log         []Event
	subscribers []Subscriber

	editors map[string]map[string]bool // path -> agent set
	pending map[string][]ChangeRange   // path -> accepted changes
}

// NewEngine constructs an empty cascade engine.
func NewEngine(c clock.Clock) *Engine {
	return &Engine{
		clock:     c,
		contracts: make(map[string]*Contract),
		editors:   make(map[string]map[string]bool),
		pending:   make(map[string][]ChangeRange),
	}
}

// Subscribe registers a cascade-log subscriber.
func (e *Engine) Subscribe(sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, sub)
}

func (e *Engine) emitLocked(evt Event) {
	evt.ID = clock.NewID()
	evt.Timestamp = e.clock.Now()
	e.log = append(e.log, evt)
	if len(e.log) > EventRingSize {
		e.log = e.log[len(e.log)-EventRingSize:]
	}
	for _, sub := range e.subscribers {
		notify(sub, evt)
	}
}

func notify(sub Subscriber, evt Event) {
	defer func() { recover() }()
	sub(evt)
}

// RegisterContract upserts the contract keyed by METHOD:endpoint. First
// registration emits endpoint_added; a structural schema change bumps
// the contract's version, emits contract_changed (or field_changed for
// a pointwise update), and marks every matching binding stale with a
// frontend_adapted event per affected binding (spec §4.7).
func (e *Engine) RegisterContract(c Contract) Contract {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := c.Method + ":" + c.Endpoint
	existing, exists := e.contracts[key]
	now := e.clock.Now()

	if !exists {
		c.Version = 1
		c.LastUpdated = now
		e.contracts[key] = &c
		e.emitLocked(Event{Type: EventEndpointAdded, Source: key, Target: key, Details: "registered " + key})
		return c
	}

	reqChanged := !reflect.DeepEqual(existing.RequestFields, c.RequestFields)
	respChanged := !reflect.DeepEqual(existing.ResponseFields, c.ResponseFields)
	if !reqChanged && !respChanged {
		return *existing
	}

	existing.RequestFields = c.RequestFields
	existing.ResponseFields = c.ResponseFields
	existing.Version++
	existing.LastUpdated = now

	pointwise := isPointwiseLocked(reqChanged, respChanged)
	if pointwise {
		e.emitLocked(Event{Type: EventFieldChanged, Source: key, Target: key, Details: "field changed on " + key})
	} else {
		e.emitLocked(Event{Type: EventContractChanged, Source: key, Target: key, Details: "contract changed on " + key})
	}

	for _, b := range e.bindings {
		if b.Endpoint != key {
			continue
		}
		b.NeedsUpdate = true
		e.emitLocked(Event{Type: EventFrontendAdapted, Source: key, Target: b.ComponentID, Details: "binding " + b.ComponentID + " needs update"})
	}

	return *existing
}

// isPointwiseLocked is a coarse heuristic: a change to only one side
// (request xor response) counts as pointwise; a change to both counts as
// a full contract change.
func isPointwiseLocked(reqChanged, respChanged bool) bool {
	return reqChanged != respChanged
}

// RegisterBinding adds a frontend binding to track.
func (e *Engine) RegisterBinding(b Binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = append(e.bindings, &b)
}

// GetOutdatedComponents lists bindings with needsUpdate set.
func (e *Engine) GetOutdatedComponents() []Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Binding
	for _, b := range e.bindings {
		if b.NeedsUpdate {
			out = append(out, *b)
		}
	}
	return out
}

// MarkBindingSynced clears needsUpdate and stamps lastSynced.
func (e *Engine) MarkBindingSynced(componentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.bindings {
		if b.ComponentID == componentID {
			b.NeedsUpdate = false
			b.LastSynced = e.clock.Now()
			return true
		}
	}
	return false
}

// JoinFile adds agent to path's editor roster.
func (e *Engine) JoinFile(path, agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.editors[path] == nil {
		e.editors[path] = make(map[string]bool)
	}
	e.editors[path][agent] = true
}

// LeaveFile removes agent from path's editor roster.
func (e *Engine) LeaveFile(path, agent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.editors[path], agent)
}

// overlaps reports whether [a,b) and [c,d) overlap (spec §4.7).
func overlaps(a, b, c, d int) bool {
	return !(b <= c || a >= d)
}

// ProposeChange applies the overlap/merge policy from spec §4.7 and
// returns the accepted (possibly merged) change plus whether a conflict
// was resolved.
func (e *Engine) ProposeChange(path string, change ChangeRange) (ChangeRange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.pending[path]
	for i, prior := range existing {
		if !overlaps(change.Start, change.End, prior.Start, prior.End) {
			continue
		}
		if prior.Agent == change.Agent {
			continue
		}

		merged := mergeRanges(prior, change)
		existing[i] = merged
		e.pending[path] = existing
		e.emitLocked(Event{Type: EventConflictResolved, Source: prior.Agent, Target: change.Agent, Details: "merged overlapping edits on " + path})
		return merged, true
	}

	e.pending[path] = append(existing, change)
	return change, false
}

// mergeRanges implements spec §4.7's merge policy: containment keeps the
// outer range's text, adjacency concatenates in start order, and a
// genuine overlap concatenates in start order and is flagged resolved by
// the caller.
func mergeRanges(a, b ChangeRange) ChangeRange {
	if contains(a, b) {
		return a
	}
	if contains(b, a) {
		return b
	}

	first, second := a, b
	if b.Start < a.Start {
		first, second = b, a
	}
	return ChangeRange{
		Agent:   first.Agent,
		Start:   first.Start,
		End:     second.End,
		NewText: first.NewText + second.NewText,
	}
}

func contains(outer, inner ChangeRange) bool {
	return outer.Start <= inner.Start && outer.End >= inner.End
}

// Log returns a snapshot of the cascade event log.
func (e *Engine) Log() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.log))
	copy(out, e.log)
	return out
}
