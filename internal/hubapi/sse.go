package hubapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/r3labs/sse/v2"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
)

// ChangeStream is the server-initiated change-notification fabric (spec
// §4.8): one {type:"tick", version} event on every bumpVersion, fanned
// out non-blockingly over SSE. The published version is the sum of the
// workspace and world-state counters, matching handleChanges's
// combinedVersion, so a client polling /changes with a version learned
// from a tick never misses a world-state-only mutation.
type ChangeStream struct {
	server *sse.Server
	stream string
	ws     *workspace.Store
	wrld   *worldstate.Engine

	// Last version each subsystem handed to its hook. A hook reads the
	// other subsystem's counter from here rather than through its
	// Version(), which would lock that subsystem's mutex while this
	// one's is held.
	wsVersion   atomic.Int64
	wrldVersion atomic.Int64
}

// NewChangeStream wires an r3labs/sse server with a single long-lived
// stream that every client subscribes to.
func NewChangeStream(ws *workspace.Store, wrld *worldstate.Engine) *ChangeStream {
	srv := sse.New()
	srv.AutoReplay = false
	const stream = "changes"
	srv.CreateStream(stream)
	return &ChangeStream{server: srv, stream: stream, ws: ws, wrld: wrld}
}

// Handler returns the http.Handler to mount at /events/stream.
func (c *ChangeStream) Handler() http.Handler {
	return c.server
}

// WorkspaceHook is the bump hook registered with the workspace store. It
// takes the freshly-bumped workspace version as an argument rather than
// calling ws.Version() (which would re-lock the store's own mutex from
// inside bumpLocked), and adds the last world-state version recorded by
// WorldstateHook, so it never takes the world-state engine's mutex.
func (c *ChangeStream) WorkspaceHook() workspace.BumpHook {
	return func(version int64) {
		c.wsVersion.Store(version)
		c.publish(version + c.wrldVersion.Load())
	}
}

// WorldstateHook is the bump hook registered with the world-state
// engine, mirroring WorkspaceHook for the other subsystem.
func (c *ChangeStream) WorldstateHook() worldstate.BumpHook {
	return func(version int64) {
		c.wrldVersion.Store(version)
		c.publish(c.wsVersion.Load() + version)
	}
}

func (c *ChangeStream) publish(version int64) {
	payload, err := json.Marshal(map[string]any{"type": "tick", "version": version})
	if err != nil {
		return
	}
	c.server.Publish(c.stream, &sse.Event{Data: payload})
}
