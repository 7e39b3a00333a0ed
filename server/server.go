// Package server is the websocket transport: it authenticates connections,
// decodes frames, and hands complete turns to the orchestrator.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/brokerbot/agent"
	"github.com/becomeliminal/brokerbot/broker"
)

// Config configures the server.
type Config struct {
	// AuthFunc validates requests and returns a user ID.
	// If nil, a default user ID is used (not recommended for production).
	AuthFunc func(r *http.Request) (userID string, err error)
}

// Server is the websocket chat server. Each connection maps to one user;
// turn ordering per user is enforced by the orchestrator, so a slow turn on
// one connection never blocks another user.
type Server struct {
	config       Config
	orchestrator *agent.Orchestrator
	upgrader     websocket.Upgrader
}

// New creates a server in front of the given orchestrator.
func New(cfg Config, orchestrator *agent.Orchestrator) *Server {
	return &Server{
		config:       cfg,
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}
}

// Handler returns an HTTP handler for WebSocket connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

// Run starts the server on the given address.
func (s *Server) Run(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Printf("Starting brokerbot server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := "default-user"
	if s.config.AuthFunc != nil {
		var err error
		userID, err = s.config.AuthFunc(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The chat identifier is the connection's remote endpoint; sessions are
	// keyed by user, so reconnecting keeps the same session.
	chatID := r.RemoteAddr
	log.Printf("WebSocket connected for user %s", userID)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			s.sendError(conn, "Invalid message format")
			continue
		}

		log.Printf("Received message type=%s from user=%s", msg.Type, userID)

		switch msg.Type {
		case "message":
			if msg.Content == "" {
				continue
			}
			reply := s.orchestrator.HandleMessage(r.Context(), userID, chatID, msg.Content)
			s.send(conn, ServerMessage{Type: "text", Content: reply})

		case "connect":
			s.handleConnect(conn, r, userID, chatID, msg)

		case "disconnect":
			reply, err := s.orchestrator.Disconnect(r.Context(), userID)
			if err != nil {
				log.Printf("Disconnect failed for user %s: %v", userID, err)
			}
			s.send(conn, ServerMessage{Type: "disconnected", Content: reply})

		default:
			s.sendError(conn, fmt.Sprintf("Unknown message type: %s", msg.Type))
		}
	}
}

func (s *Server) handleConnect(conn *websocket.Conn, r *http.Request, userID, chatID string, msg ClientMessage) {
	if msg.Broker == "" {
		s.sendError(conn, "connect requires a broker name")
		return
	}
	var creds broker.Credentials
	if msg.Credentials != nil {
		creds = broker.Credentials{
			APIKey:   msg.Credentials.APIKey,
			ClientID: msg.Credentials.ClientID,
			PIN:      msg.Credentials.PIN,
			TOTPCode: msg.Credentials.TOTPCode,
		}
	}

	reply, err := s.orchestrator.Connect(r.Context(), userID, chatID, msg.Broker, creds)
	if err != nil {
		log.Printf("Connect failed for user %s: %v", userID, err)
		s.sendError(conn, reply)
		return
	}
	s.send(conn, ServerMessage{Type: "connected", Broker: msg.Broker, Content: reply})
}

func (s *Server) send(conn *websocket.Conn, msg ServerMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Failed to send message: %v", err)
	}
}

func (s *Server) sendError(conn *websocket.Conn, content string) {
	log.Printf("Sending error: %s", content)
	s.send(conn, ServerMessage{Type: "error", Content: content})
}
