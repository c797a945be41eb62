// Package collab implements the bidirectional per-document collaborative
// channel (spec §4.5): join/sync/awareness/leave JSON envelopes plus raw
// binary CRDT update frames, framed over a websocket connection.
package collab

import (
	"encoding/json"

	"github.com/synapsehub/hub/internal/domain/docsession"
)

// inbound message types (spec §4.5).
const (
	msgJoin      = "join"
	msgAwareness = "awareness"
	msgLeave     = "leave"
)

// outbound message types.
const (
	msgSync  = "sync"
	msgError = "error"
)

type inboundEnvelope struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	AgentID     string `json:"agentId"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Environment string `json:"environment"`
	Cursor      *int   `json:"cursor"`
	IsTyping    bool   `json:"isTyping"`
}

type syncEnvelope struct {
	Type     string `json:"type"`
	Snapshot []byte `json:"snapshot"`
}

type awarenessEnvelope struct {
	Type      string                 `json:"type"`
	UpdatedBy string                 `json:"updatedBy"`
	Editors   []docsession.Awareness `json:"editors"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func marshalOrNil(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
