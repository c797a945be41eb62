package hubapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/synapsehub/hub/internal/domain/cascade"
	"github.com/synapsehub/hub/internal/domain/docsession"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
)

// SessionRegistry binds a control-plane session to the agent it joined
// as. Callers without a registered session still dispatch, recording
// agentId "unknown" (spec §4.1).
type SessionRegistry struct {
	bindings map[string]string
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{bindings: make(map[string]string)}
}

// Bind associates sessionID with agentID.
func (r *SessionRegistry) Bind(sessionID, agentID string) {
	if sessionID == "" {
		return
	}
	r.bindings[sessionID] = agentID
}

// AgentFor resolves sessionID to its bound agentID, or "unknown".
func (r *SessionRegistry) AgentFor(sessionID string) string {
	if agentID, ok := r.bindings[sessionID]; ok {
		return agentID
	}
	return "unknown"
}

// Dispatcher routes named tool calls to the four core subsystems (spec
// §4.1's "all dispatched tools are identified by name").
type Dispatcher struct {
	workspace      *workspace.Store
	docs           *docsession.Manager
	worldstate     *worldstate.Engine
	cascade        *cascade.Engine
	sessions       *SessionRegistry
	defaultLockTTL time.Duration
}

// NewDispatcher wires a dispatcher over the four core subsystems.
func NewDispatcher(ws *workspace.Store, docs *docsession.Manager, wrld *worldstate.Engine, casc *cascade.Engine, sessions *SessionRegistry, defaultLockTTL time.Duration) *Dispatcher {
	return &Dispatcher{workspace: ws, docs: docs, worldstate: wrld, cascade: casc, sessions: sessions, defaultLockTTL: defaultLockTTL}
}

// ErrUnknownTool is returned for an unrecognized tool name.
type ErrUnknownTool struct{ Tool string }

func (e *ErrUnknownTool) Error() string { return "unknown tool: " + e.Tool }

// Execute dispatches a single tool call by name. sessionID is the
// control-plane session making the call; it is resolved to an agentId
// via the session registry for tools that need a caller identity.
func (d *Dispatcher) Execute(sessionID, tool string, args json.RawMessage) (any, error) {
	agentID := d.sessions.AgentFor(sessionID)

	switch tool {
	case "join_workspace":
		var p struct {
			Name   string         `json:"name"`
			Client string         `json:"client"`
			Role   workspace.Role `json:"role"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		id := d.workspace.JoinWorkspace(p.Name, p.Client, p.Role)
		d.sessions.Bind(sessionID, id)
		return map[string]string{"agentId": id}, nil

	case "set_target":
		var p struct {
			Target string `json:"target"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.workspace.SetTarget(p.Target)
		return map[string]string{"target": p.Target}, nil

	case "get_target":
		return map[string]string{"target": d.workspace.GetTarget()}, nil

	case "list_agents":
		return d.workspace.ListAgents(), nil

	case "post_intent":
		var p struct {
			Action      workspace.IntentAction `json:"action"`
			Description string                 `json:"description"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.workspace.Touch(agentID)
		return d.workspace.PostIntent(agentID, p.Action, p.Description), nil

	case "read_intents":
		var p struct {
			Limit int `json:"limit"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.workspace.ReadIntents(p.Limit), nil

	case "lock_file":
		var p struct {
			Path   string `json:"path"`
			Reason string `json:"reason"`
			TTL    int    `json:"ttl"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.workspace.Touch(agentID)
		return d.workspace.LockFile(agentID, p.Path, p.Reason, d.ttlOrDefault(p.TTL))

	case "renew_lock":
		var p struct {
			Path string `json:"path"`
			TTL  int    `json:"ttl"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.workspace.RenewLock(agentID, p.Path, d.ttlOrDefault(p.TTL))

	case "check_locks":
		var p struct {
			Path string `json:"path"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.workspace.CheckLocks(p.Path), nil

	case "unlock_file":
		var p struct {
			Path      string          `json:"path"`
			HandoffTo *workspace.Role `json:"handoffTo"`
			Message   string          `json:"message"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := d.workspace.UnlockFile(agentID, p.Path, p.HandoffTo, p.Message); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case "force_unlock":
		var p struct {
			Path string `json:"path"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := d.workspace.ForceUnlock(p.Path); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case "poll_work":
		var p struct {
			Role workspace.Role `json:"role"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.workspace.Touch(agentID)
		item, handoff := d.workspace.PollWork(agentID, p.Role)
		return map[string]any{"workItem": item, "handoff": handoff}, nil

	case "claim_work":
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.workspace.ClaimWork(agentID, p.ID)

	case "complete_work":
		var p struct {
			ID     string `json:"id"`
			Result string `json:"result"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.workspace.CompleteWork(agentID, p.ID, p.Result)

	case "create_doc_session":
		var p struct {
			Path    string `json:"path"`
			Initial string `json:"initial"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		created, meta := d.docs.Create(p.Path, p.Initial)
		return map[string]any{"created": created, "meta": meta}, nil

	case "get_doc_text":
		var p struct {
			Path string `json:"path"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		text, ok := d.docs.GetTextContent(p.Path)
		if !ok {
			return nil, errNotFoundDoc(p.Path)
		}
		return map[string]string{"text": text}, nil

	case "list_doc_sessions":
		return d.docs.ListSessions(), nil

	case "apply_patch":
		var p struct {
			Kind    worldstate.EntityKind      `json:"kind"`
			Updates map[string]map[string]any `json:"updates"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.worldstate.ApplyPatch(worldstate.Patch{Kind: p.Kind, Updates: p.Updates})
		return map[string]bool{"ok": true}, nil

	case "assert_fact":
		var p struct {
			Assertion  string  `json:"assertion"`
			Confidence float64 `json:"confidence"`
			Source     string  `json:"source"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		obs, conflict := d.worldstate.AssertFact(agentID, p.Assertion, p.Confidence, p.Source)
		return map[string]any{"observation": obs, "conflict": conflict}, nil

	case "propose_goal":
		var p struct {
			Description string   `json:"description"`
			Criteria    []string `json:"criteria"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.ProposeGoal(p.Description, p.Criteria), nil

	case "evaluate_goal":
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.EvaluateGoal(p.ID)

	case "assign_work":
		var p struct {
			Role worldstate.Role `json:"role"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.AssignWork(agentID, p.Role)

	case "complete_world_work":
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.CompleteWork(p.ID)

	case "resolve_conflict":
		var p struct {
			ID         string `json:"id"`
			Resolution string `json:"resolution"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.ResolveConflict(p.ID, p.Resolution)

	case "propose_approval_gate":
		var p struct {
			Description string `json:"description"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.ProposeApprovalGate(p.Description), nil

	case "resolve_approval_gate":
		var p struct {
			ID       string `json:"id"`
			Approved bool   `json:"approved"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.worldstate.ResolveApprovalGate(p.ID, p.Approved)

	case "report_failure":
		var p struct {
			Area   string `json:"area"`
			Reason string `json:"reason"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.worldstate.ReportFailure(p.Area, p.Reason)
		return map[string]bool{"ok": true}, nil

	case "register_contract":
		var p cascade.Contract
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return d.cascade.RegisterContract(p), nil

	case "bind_frontend":
		var p struct {
			ComponentID   string   `json:"componentId"`
			ComponentName string   `json:"componentName"`
			Endpoint      string   `json:"endpoint"`
			Fields        []string `json:"fields"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.cascade.RegisterBinding(cascade.Binding{ComponentID: p.ComponentID, ComponentName: p.ComponentName, Endpoint: p.Endpoint, Fields: p.Fields})
		return map[string]bool{"ok": true}, nil

	case "get_outdated_components":
		return d.cascade.GetOutdatedComponents(), nil

	case "join_file_session":
		var p struct {
			Path string `json:"path"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.cascade.JoinFile(p.Path, agentID)
		return map[string]bool{"ok": true}, nil

	case "leave_file_session":
		var p struct {
			Path string `json:"path"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		d.cascade.LeaveFile(p.Path, agentID)
		return map[string]bool{"ok": true}, nil

	case "mark_binding_synced":
		var p struct {
			ComponentID string `json:"componentId"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": d.cascade.MarkBindingSynced(p.ComponentID)}, nil

	case "propose_change":
		var p struct {
			Path  string `json:"path"`
			Start int    `json:"start"`
			End   int    `json:"end"`
			Text  string `json:"text"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		change, conflict := d.cascade.ProposeChange(p.Path, cascade.ChangeRange{Agent: agentID, Start: p.Start, End: p.End, NewText: p.Text})
		return map[string]any{"change": change, "conflictResolved": conflict}, nil

	default:
		return nil, &ErrUnknownTool{Tool: tool}
	}
}

func decode(args json.RawMessage, out any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (d *Dispatcher) ttlOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return d.defaultLockTTL
	}
	return time.Duration(seconds) * time.Second
}

func errNotFoundDoc(path string) error {
	return &APIError{Code: "NOT_FOUND", Message: "no doc session for " + path}
}
