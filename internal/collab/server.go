package collab

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/synapsehub/hub/internal/domain/docsession"
)

// Server upgrades /collab requests to the bidirectional document
// editing channel (spec §4.5).
type Server struct {
	docs     *docsession.Manager
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer wires a collab channel server over a doc session manager.
func NewServer(docs *docsession.Manager, log *slog.Logger) *Server {
	return &Server{
		docs: docs,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs it until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("collab upgrade failed", "error", err)
		return
	}
	NewConnection(conn, s.docs, s.log).Run()
}
