package docsession

import (
	"sort"
	"sync"
	"time"

	"github.com/synapsehub/hub/internal/clock"
	"github.com/synapsehub/hub/internal/crdt"
)

// GCGrace is the delay before an emptied session is destroyed (spec
// §4.4: "arms a 60s GC timer"). Var, not const, so tests can shrink it.
var GCGrace = 60 * time.Second

// Manager owns every document session, keyed by path.
type Manager struct {
	mu       sync.Mutex
	clock    clock.Clock
	sessions map[string]*session
}

// NewManager constructs an empty session manager.
func NewManager(c clock.Clock) *Manager {
	return &Manager{clock: c, sessions: make(map[string]*session)}
}

// Create is idempotent: an existing session is returned unchanged.
// Otherwise a new CRDT document is created and, if initial is
// non-empty, seeded with it.
func (m *Manager) Create(path, initial string) (created bool, meta Meta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[path]; ok {
		return false, s.meta()
	}

	now := m.clock.Now()
	s := &session{
		path:         path,
		doc:          crdt.NewDocument(path),
		createdAt:    now,
		lastActivity: now,
		channels:     make(map[Channel]string),
		awareness:    make(map[string]Awareness),
	}
	if initial != "" {
		s.doc.InsertText(0, initial)
	}
	m.sessions[path] = s
	return true, s.meta()
}

// Join adds channel to path's editor set with a deterministic awareness
// color for agentID, then broadcasts the updated awareness envelope to
// every other channel already on the session, per spec §4.5 ("emits
// sync … followed by awareness {editors} broadcast to every channel on
// the session"). The joining channel gets its own sync+awareness pair
// from the caller (internal/collab), in that order; Join only notifies
// the peers who were already connected, so this call does not disturb
// the sync-then-awareness order the joiner itself observes. Returns
// false if the session doesn't exist; callers must Create first (spec
// §4.4).
func (m *Manager) Join(path string, ch Channel, agentID, name string) (snapshot []byte, editors []Awareness, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[path]
	if !exists {
		return nil, nil, false
	}
	if s.gcTimer != nil {
		s.gcTimer.Stop()
		s.gcTimer = nil
	}

	s.channels[ch] = agentID
	s.awareness[agentID] = Awareness{AgentID: agentID, Name: name, Color: clock.ColorFor(agentID)}
	s.lastActivity = m.clock.Now()

	snap, err := s.doc.Snapshot()
	if err != nil {
		snap = nil
	}

	editors = s.awarenessListLocked()
	for peer := range s.channels {
		if peer == ch {
			continue
		}
		peer.SendAwareness(agentID, editors)
	}
	return snap, editors, true
}

// Leave removes channel's membership in path. If the editor set is now
// empty, a GC timer is armed; if nobody rejoins before it fires the
// session is destroyed.
func (m *Manager) Leave(path string, ch Channel) (editors []Awareness) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[path]
	if !ok {
		return nil
	}
	agentID, had := s.channels[ch]
	if !had {
		return s.awarenessListLocked()
	}
	delete(s.channels, ch)
	delete(s.awareness, agentID)
	s.lastActivity = m.clock.Now()

	if len(s.channels) == 0 {
		s.gcTimer = time.AfterFunc(GCGrace, func() { m.collect(path) })
	}
	return s.awarenessListLocked()
}

func (m *Manager) collect(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[path]; ok && len(s.channels) == 0 {
		delete(m.sessions, path)
	}
}

// ApplyUpdate decodes and applies CRDT ops to path's document, broadcasts
// the same bytes to every other editor channel, and increments
// updateCount.
func (m *Manager) ApplyUpdate(path string, data []byte, sender Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[path]
	if !ok {
		return false
	}
	ops, err := crdt.DecodeOps(data)
	if err != nil {
		return false
	}
	for _, op := range ops {
		s.doc.Apply(op)
	}
	s.updateCount++
	s.lastActivity = m.clock.Now()

	for ch := range s.channels {
		if ch == sender {
			continue
		}
		ch.SendUpdate(data)
	}
	return true
}

// UpdateAwareness merges patch fields into agentID's awareness entry and
// broadcasts the result to every peer channel including the sender.
func (m *Manager) UpdateAwareness(path, agentID string, cursor *int, isTyping bool, sender Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[path]
	if !ok {
		return false
	}
	entry, ok := s.awareness[agentID]
	if !ok {
		return false
	}
	if cursor != nil {
		entry.Cursor = cursor
	}
	entry.IsTyping = isTyping
	s.awareness[agentID] = entry

	editors := s.awarenessListLocked()
	for ch := range s.channels {
		ch.SendAwareness(agentID, editors)
	}
	return true
}

func (s *session) awarenessListLocked() []Awareness {
	out := make([]Awareness, 0, len(s.awareness))
	for _, a := range s.awareness {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// GetSnapshot returns the full CRDT byte-state of path's document.
func (m *Manager) GetSnapshot(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[path]
	if !ok {
		return nil, false
	}
	snap, err := s.doc.Snapshot()
	if err != nil {
		return nil, false
	}
	return snap, true
}

// GetTextContent returns the reconstructed text of path's document.
func (m *Manager) GetTextContent(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[path]
	if !ok {
		return "", false
	}
	return s.doc.Text(), true
}

// ListSessions returns metadata for every live session.
func (m *Manager) ListSessions() []Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Meta, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
