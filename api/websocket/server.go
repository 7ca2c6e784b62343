package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/greenode-labs/greenode-monitor/events"
)

// SnapshotFunc returns the recent enriched transactions to seed a new client
type SnapshotFunc func() []events.EnrichedTransaction

// Server upgrades HTTP requests to WebSocket connections and attaches the
// resulting clients to the hub
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   *zap.Logger
}

// NewServer creates a WebSocket server. The snapshot function may be nil, in
// which case new clients receive no backlog.
func NewServer(hub *Hub, snapshot SnapshotFunc, logger *zap.Logger) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		snapshot: snapshot,
		logger:   logger,
	}
}

// ServeHTTP upgrades the connection and starts the client pumps
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	s.hub.register <- client

	if s.snapshot != nil {
		s.sendSnapshot(client)
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.Debug("websocket client connected",
		zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) sendSnapshot(client *Client) {
	entries := s.snapshot()

	msg, err := NewMessage(MessageTypeSnapshot, entries)
	if err != nil {
		s.logger.Warn("failed to build snapshot message", zap.Error(err))
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal snapshot message", zap.Error(err))
		return
	}

	client.Send(payload)
}
