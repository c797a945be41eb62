// Package docsession manages CRDT-backed collaborative text sessions
// keyed by path (spec §4.4). Each session owns one crdt.Document; the
// Manager's single mutex serializes joins, leaves, and update application
// across all sessions, standing in for spec §5's single-threaded event
// loop.
package docsession

import (
	"time"

	"github.com/synapsehub/hub/internal/crdt"
)

// Awareness is a peer's ephemeral editing presence within a session.
type Awareness struct {
	AgentID  string `json:"agentId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Cursor   *int   `json:"cursor,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// Meta is the externally visible summary of a session (spec §4.4
// create/listSessions return shape).
type Meta struct {
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	UpdateCount  int       `json:"updateCount"`
	EditorCount  int       `json:"editorCount"`
}

// Channel is the sink a session broadcasts frames to. internal/collab
// implements this over a websocket connection.
type Channel interface {
	SendUpdate(data []byte)
	SendAwareness(updatedBy string, editors []Awareness)
}

// session is the internal, mutable per-path state.
type session struct {
	path         string
	doc          *crdt.Document
	createdAt    time.Time
	lastActivity time.Time
	updateCount  int

	channels   map[Channel]string // channel -> agentID
	awareness  map[string]Awareness

	gcTimer *time.Timer
}

func (s *session) meta() Meta {
	return Meta{
		Path:         s.path,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		UpdateCount:  s.updateCount,
		EditorCount:  len(s.channels),
	}
}
