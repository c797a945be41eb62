package hubapi_test

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/domain/cascade"
	"github.com/synapsehub/hub/internal/domain/docsession"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
	"github.com/synapsehub/hub/internal/hubapi"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newDispatcher() *hubapi.Dispatcher {
	c := &fakeClock{now: time.Now()}
	ws := workspace.New(c)
	docs := docsession.NewManager(c)
	wrld := worldstate.NewEngine(c, slog.Default())
	casc := cascade.NewEngine(c)
	sessions := hubapi.NewSessionRegistry()
	return hubapi.NewDispatcher(ws, docs, wrld, casc, sessions, 30*time.Second)
}

func TestDispatcher_JoinWorkspaceBindsSession(t *testing.T) {
	d := newDispatcher()
	args, _ := json.Marshal(map[string]any{"name": "alice", "client": "cli", "role": "coder"})

	result, err := d.Execute("sess-1", "join_workspace", args)
	require.NoError(t, err)

	asMap, ok := result.(map[string]string)
	require.True(t, ok)
	require.NotEmpty(t, asMap["agentId"])

	locksArgs, _ := json.Marshal(map[string]any{"path": "main.go"})
	_, err = d.Execute("sess-1", "lock_file", locksArgs)
	require.NoError(t, err)
}

func TestDispatcher_UnknownToolErrors(t *testing.T) {
	d := newDispatcher()
	_, err := d.Execute("sess-1", "no_such_tool", nil)
	require.Error(t, err)
}

func TestDispatcher_UnregisteredSessionRecordsUnknownAgent(t *testing.T) {
	d := newDispatcher()
	args, _ := json.Marshal(map[string]any{"action": "working", "description": "doing things"})

	result, err := d.Execute("never-joined", "post_intent", args)
	require.NoError(t, err)

	intent, ok := result.(workspace.Intent)
	require.True(t, ok)
	require.Equal(t, "unknown", intent.AgentID)
}

// TestDispatcher_ContractCascade exercises spec §8 scenario 3: a
// re-registered contract with an added field marks the bound component
// outdated.
func TestDispatcher_ContractCascade(t *testing.T) {
	d := newDispatcher()

	contractArgs, _ := json.Marshal(cascade.Contract{
		Method:   "POST",
		Endpoint: "/login",
		RequestFields: map[string]any{
			"email":    map[string]any{"type": "string", "required": true},
			"password": map[string]any{"type": "string", "required": true},
		},
	})
	_, err := d.Execute("sess-1", "register_contract", contractArgs)
	require.NoError(t, err)

	bindArgs, _ := json.Marshal(map[string]any{
		"componentId":   "lf",
		"componentName": "LoginForm",
		"endpoint":      "POST:/login",
		"fields":        []string{"email", "password"},
	})
	_, err = d.Execute("sess-1", "bind_frontend", bindArgs)
	require.NoError(t, err)

	contractArgs2, _ := json.Marshal(cascade.Contract{
		Method:   "POST",
		Endpoint: "/login",
		RequestFields: map[string]any{
			"email":      map[string]any{"type": "string", "required": true},
			"password":   map[string]any{"type": "string", "required": true},
			"rememberMe": map[string]any{"type": "boolean", "required": false},
		},
	})
	_, err = d.Execute("sess-1", "register_contract", contractArgs2)
	require.NoError(t, err)

	outdated, err := d.Execute("sess-1", "get_outdated_components", nil)
	require.NoError(t, err)
	bindings, ok := outdated.([]cascade.Binding)
	require.True(t, ok)
	require.Len(t, bindings, 1)
	require.Equal(t, "LoginForm", bindings[0].ComponentName)
}

func TestDispatcher_ResolveConflict(t *testing.T) {
	d := newDispatcher()

	assertArgs, _ := json.Marshal(map[string]any{"assertion": "checkout is passing", "confidence": 0.9, "source": "ci"})
	_, err := d.Execute("sess-1", "assert_fact", assertArgs)
	require.NoError(t, err)

	contradictArgs, _ := json.Marshal(map[string]any{"assertion": "checkout is failing", "confidence": 0.9, "source": "ci"})
	result, err := d.Execute("sess-1", "assert_fact", contradictArgs)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	conflict, ok := resultMap["conflict"].(*worldstate.Conflict)
	require.True(t, ok)
	require.NotNil(t, conflict)

	resolveArgs, _ := json.Marshal(map[string]any{"id": conflict.ID, "resolution": "flaky test, rerun passed"})
	resolved, err := d.Execute("sess-1", "resolve_conflict", resolveArgs)
	require.NoError(t, err)
	resolvedConflict, ok := resolved.(worldstate.Conflict)
	require.True(t, ok)
	require.NotNil(t, resolvedConflict.ResolvedAt)
}

func TestDispatcher_ApprovalGateLifecycle(t *testing.T) {
	d := newDispatcher()

	proposeArgs, _ := json.Marshal(map[string]any{"description": "ship the auth rewrite"})
	result, err := d.Execute("sess-1", "propose_approval_gate", proposeArgs)
	require.NoError(t, err)
	gate, ok := result.(worldstate.ApprovalGate)
	require.True(t, ok)
	require.Equal(t, worldstate.GatePending, gate.Status)

	resolveArgs, _ := json.Marshal(map[string]any{"id": gate.ID, "approved": true})
	resolved, err := d.Execute("sess-1", "resolve_approval_gate", resolveArgs)
	require.NoError(t, err)
	resolvedGate, ok := resolved.(worldstate.ApprovalGate)
	require.True(t, ok)
	require.Equal(t, worldstate.GateApproved, resolvedGate.Status)

	_, err = d.Execute("sess-1", "resolve_approval_gate", resolveArgs)
	require.Error(t, err)
}

func TestDispatcher_FileSessionRoster(t *testing.T) {
	d := newDispatcher()

	joinArgs, _ := json.Marshal(map[string]any{"name": "alice", "client": "cli", "role": "coder"})
	_, err := d.Execute("sess-1", "join_workspace", joinArgs)
	require.NoError(t, err)

	pathArgs, _ := json.Marshal(map[string]any{"path": "f.ts"})
	_, err = d.Execute("sess-1", "join_file_session", pathArgs)
	require.NoError(t, err)

	_, err = d.Execute("sess-1", "leave_file_session", pathArgs)
	require.NoError(t, err)
}
