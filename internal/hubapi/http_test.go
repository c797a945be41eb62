package hubapi_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/domain/cascade"
	"github.com/synapsehub/hub/internal/domain/docsession"
	"github.com/synapsehub/hub/internal/domain/workspace"
	"github.com/synapsehub/hub/internal/domain/worldstate"
	"github.com/synapsehub/hub/internal/hubapi"
)

func newTestServer() (*httptest.Server, *workspace.Store) {
	c := &fakeClock{now: time.Now()}
	ws := workspace.New(c)
	docs := docsession.NewManager(c)
	wrld := worldstate.NewEngine(c, slog.Default())
	casc := cascade.NewEngine(c)
	sessions := hubapi.NewSessionRegistry()
	dispatcher := hubapi.NewDispatcher(ws, docs, wrld, casc, sessions, 30*time.Second)
	mux := hubapi.NewServer(dispatcher, ws, docs, wrld, casc, nil)
	return httptest.NewServer(mux), ws
}

func TestHTTP_ExecuteUnknownToolReturns400(t *testing.T) {
	ts, _ := newTestServer()
	defer ts.Close()

	body := strings.NewReader(`{"tool":"no_such_tool","arguments":{}}`)
	resp, err := http.Post(ts.URL+"/execute", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_ExecuteMissingToolReturns400(t *testing.T) {
	ts, _ := newTestServer()
	defer ts.Close()

	body := strings.NewReader(`{"arguments":{}}`)
	resp, err := http.Post(ts.URL+"/execute", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_ExecuteJoinWorkspaceReturnsContentEnvelope(t *testing.T) {
	ts, _ := newTestServer()
	defer ts.Close()

	body := strings.NewReader(`{"tool":"join_workspace","arguments":{"name":"alice","client":"cli","role":"coder"}}`)
	resp, err := http.Post(ts.URL+"/execute", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Content, 1)
	require.Equal(t, "text", envelope.Content[0].Type)
	require.Contains(t, envelope.Content[0].Text, "agentId")
}

func TestHTTP_ExecuteDomainErrorFoldsIntoContentEnvelopeWith200(t *testing.T) {
	ts, _ := newTestServer()
	defer ts.Close()

	body := strings.NewReader(`{"tool":"evaluate_goal","arguments":{"id":"nope"}}`)
	resp, err := http.Post(ts.URL+"/execute", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Contains(t, envelope.Content[0].Text, "error")
}

func TestHTTP_StateReturnsWorkspaceSnapshot(t *testing.T) {
	ts, ws := newTestServer()
	defer ts.Close()
	ws.JoinWorkspace("alice", "cli", workspace.RoleCoder)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap workspace.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Agents, 1)
}

func TestHTTP_HealthReportsStatus(t *testing.T) {
	ts, _ := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health["status"])
}
