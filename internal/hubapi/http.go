package hubapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/synapsehub/hub/internal/domain/cascade"
	"github.com/synapsehub/hub/internal/domain/docsession"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
)

// Server wires the control-plane HTTP handlers (spec §6).
type Server struct {
	dispatcher *Dispatcher
	workspace  *workspace.Store
	docs       *docsession.Manager
	worldstate *worldstate.Engine
	cascade    *cascade.Engine
	sessionHdr string
}

// NewServer builds a chi router exposing the control plane. changes may
// be nil in tests that don't exercise the push stream.
func NewServer(dispatcher *Dispatcher, ws *workspace.Store, docs *docsession.Manager, wrld *worldstate.Engine, casc *cascade.Engine, changes *ChangeStream) *chi.Mux {
	srv := &Server{dispatcher: dispatcher, workspace: ws, docs: docs, worldstate: wrld, cascade: casc, sessionHdr: "Synapse-Session-Id"}

	r := chi.NewRouter()
	r.Post("/execute", srv.handleExecute)
	r.Get("/state", srv.handleState)
	r.Get("/graph", srv.handleGraph)
	r.Get("/sessions", srv.handleSessions)
	r.Get("/changes", srv.handleChanges)
	r.Get("/health", srv.handleHealth)
	if changes != nil {
		r.Handle("/events/stream", changes.Handler())
	}
	return r
}

type executeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	ClientID  string          `json:"clientId"`
}

// handleExecute implements POST /execute (spec §6). A framing error
// (bad JSON, missing tool) is the only case returning non-200; anything
// else is folded into the content[0].text envelope with HTTP 200.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "missing tool"})
		return
	}

	sessionID := r.Header.Get(s.sessionHdr)
	result, err := s.dispatcher.Execute(sessionID, req.Tool, req.Arguments)
	if err != nil {
		if _, ok := err.(*ErrUnknownTool); ok {
			writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "unknown tool: " + req.Tool})
			return
		}
		apiErr := MapError(err)
		writeContentEnvelope(w, map[string]any{"error": apiErr.Message, "tool": req.Tool, "arguments": req.Arguments})
		return
	}

	writeContentEnvelope(w, result)
}

func writeContentEnvelope(w http.ResponseWriter, payload any) {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(`{"error":"failed to encode result"}`)
	}
	result := &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(text)}},
	}
	writeJSONStatus(w, http.StatusOK, result)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, s.workspace.Snapshot())
}

type graphNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type graphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// handleGraph implements GET /graph and GET /graph?format=widget (spec
// §6).
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap := s.workspace.Snapshot()
	nodes := make([]graphNode, 0, len(snap.Agents)+len(snap.Locks))
	var edges []graphEdge
	for _, a := range snap.Agents {
		nodes = append(nodes, graphNode{ID: a.ID, Type: "agent"})
	}
	for _, l := range snap.Locks {
		nodes = append(nodes, graphNode{ID: l.Path, Type: "lock"})
		edges = append(edges, graphEdge{Source: l.AgentID, Target: l.Path, Type: "holds"})
	}

	if r.URL.Query().Get("format") == "widget" {
		writeJSONStatus(w, http.StatusOK, map[string]any{
			"agents":       snap.Agents,
			"locks":        snap.Locks,
			"intents":      snap.Intents,
			"edges":        edges,
			"recentEvents": s.cascade.Log(),
			"docSessions":  s.docs.ListSessions(),
			"workQueue":    snap.WorkQueue,
			"target":       snap.Target,
			"lastUpdate":   snap.Version,
		})
		return
	}

	writeJSONStatus(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges, "version": snap.Version})
}

type sessionSummary struct {
	Path         string `json:"path"`
	Editors      int    `json:"editors"`
	UpdateCount  int    `json:"updateCount"`
	LastActivity string `json:"lastActivity"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	metas := s.docs.ListSessions()
	summaries := make([]sessionSummary, 0, len(metas))
	for _, m := range metas {
		summaries = append(summaries, sessionSummary{
			Path:         m.Path,
			Editors:      m.EditorCount,
			UpdateCount:  m.UpdateCount,
			LastActivity: m.LastActivity.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"count": len(summaries), "sessions": summaries})
}

// combinedVersion sums the workspace and world-state counters so a
// single version number observes mutations from either subsystem,
// matching what ChangeStream publishes over /events/stream.
func (s *Server) combinedVersion() int64 {
	return s.workspace.Version() + s.worldstate.Version()
}

// handleChanges implements GET /changes?since=v (spec §4.8/§6): gap
// recovery for clients that missed push events.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid since parameter"})
		return
	}
	version := s.combinedVersion()
	if version == since {
		writeJSONStatus(w, http.StatusOK, map[string]any{"changed": false})
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"changed": true,
		"target":  s.workspace.GetTarget(),
		"version": version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"agents":    len(s.workspace.ListAgents()),
		"version":   s.workspace.Version(),
		"goals":     len(s.worldstate.ListGoals()),
		"conflicts": len(s.worldstate.ListConflicts()),
	})
}
