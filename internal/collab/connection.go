package collab

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/synapsehub/hub/internal/domain/docsession"
)

// state is the per-connection state machine (spec §4.5): NEW → JOINED →
// CLOSED, or NEW → NEW on a failed join.
type state int

const (
	stateNew state = iota
	stateJoined
	stateClosed
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Connection is one collab-channel client. It implements
// docsession.Channel so the session manager can address it directly.
type Connection struct {
	conn *websocket.Conn
	docs *docsession.Manager
	log  *slog.Logger

	mu      sync.Mutex
	state   state
	path    string
	agentID string

	send   chan frame
	closed chan struct{}
}

type frame struct {
	binary bool
	data   []byte
}

// NewConnection wraps an upgraded websocket connection.
func NewConnection(conn *websocket.Conn, docs *docsession.Manager, log *slog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		docs:   docs,
		log:    log,
		send:   make(chan frame, 64),
		closed: make(chan struct{}),
	}
}

// SendUpdate implements docsession.Channel.
func (c *Connection) SendUpdate(data []byte) {
	c.enqueue(frame{binary: true, data: data})
}

// SendAwareness implements docsession.Channel.
func (c *Connection) SendAwareness(updatedBy string, editors []docsession.Awareness) {
	data := marshalOrNil(awarenessEnvelope{Type: msgAwareness, UpdatedBy: updatedBy, Editors: editors})
	if data != nil {
		c.enqueue(frame{binary: false, data: data})
	}
}

func (c *Connection) enqueue(f frame) {
	select {
	case c.send <- f:
	default:
		// Channel write buffer is owned by the channel; writes to a
		// congested/closed channel are dropped silently (spec §5).
	}
}

// Run drives the connection until it closes, running the read and write
// pumps and leaving any joined session on exit.
func (c *Connection) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Connection) readPump() {
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			c.handleBinary(data)
			continue
		}
		c.handleText(data)
	}
}

func (c *Connection) handleBinary(data []byte) {
	c.mu.Lock()
	joined := c.state == stateJoined
	path := c.path
	c.mu.Unlock()
	if !joined {
		return
	}
	c.docs.ApplyUpdate(path, data, c)
}

func (c *Connection) handleText(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("invalid JSON envelope")
		return
	}

	switch env.Type {
	case msgJoin:
		c.handleJoin(env)
	case msgAwareness:
		c.handleAwareness(env)
	case msgLeave:
		c.handleLeave()
	default:
		c.sendError("Unknown message type: " + env.Type)
	}
}

func (c *Connection) handleJoin(env inboundEnvelope) {
	if env.Path == "" {
		c.sendError("join requires a path")
		return
	}

	snapshot, editors, ok := c.docs.Join(env.Path, c, env.AgentID, env.Name)
	if !ok {
		c.sendError("no doc session for " + env.Path)
		return
	}

	c.mu.Lock()
	c.state = stateJoined
	c.path = env.Path
	c.agentID = env.AgentID
	c.mu.Unlock()

	// docsession.Manager.Join already broadcast the awareness update to
	// every peer already on the session (spec §4.5); this connection
	// still needs its own sync-then-awareness pair, in that order.
	c.enqueue(frame{data: marshalOrNil(syncEnvelope{Type: msgSync, Snapshot: snapshot})})
	c.enqueue(frame{data: marshalOrNil(awarenessEnvelope{Type: msgAwareness, UpdatedBy: env.AgentID, Editors: editors})})
}

func (c *Connection) handleAwareness(env inboundEnvelope) {
	c.mu.Lock()
	joined := c.state == stateJoined
	path, agentID := c.path, c.agentID
	c.mu.Unlock()
	if !joined {
		return
	}
	c.docs.UpdateAwareness(path, agentID, env.Cursor, env.IsTyping, c)
}

func (c *Connection) handleLeave() {
	c.teardown()
}

func (c *Connection) sendError(message string) {
	c.enqueue(frame{data: marshalOrNil(errorEnvelope{Type: msgError, Message: message})})
}

func (c *Connection) teardown() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	path, agentID, wasJoined := c.path, c.agentID, c.state == stateJoined
	c.state = stateClosed
	c.mu.Unlock()

	if wasJoined {
		c.docs.Leave(path, c)
		c.log.Debug("collab connection left session", "path", path, "agentId", agentID)
	}
	close(c.closed)
	c.conn.Close()
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(mt, f.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
