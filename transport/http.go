// Package transport exposes the companion over HTTP and WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionkit/elio/core"
)

// MessageHandler is the engine surface the transport needs. Narrowed to
// an interface so handler tests can run against a fake.
type MessageHandler interface {
	HandleInboundMessage(ctx context.Context, sessionID string, msg core.Message) (*core.Response, error)
}

// inboundPayload is the JSON wire form of one user message. Binary
// payloads (voice, image) travel base64-encoded, which encoding/json
// does natively for []byte.
type inboundPayload struct {
	SessionID string `json:"session_id"`
	Modality  string `json:"modality"`
	Text      string `json:"text,omitempty"`
	Binary    []byte `json:"binary,omitempty"`
}

type responsePayload struct {
	Modality string `json:"modality"`
	Text     string `json:"text,omitempty"`
	Binary   []byte `json:"binary,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Server serves the message endpoint and the WebSocket push channel.
type Server struct {
	handler MessageHandler
	hub     *Hub
	log     zerolog.Logger
}

// NewServer wires the handler into a Server with its own push hub.
func NewServer(handler MessageHandler, log zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		hub:     NewHub(log),
		log:     log,
	}
}

// Routes returns the HTTP mux for the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/sessions/{session}/ws", s.hub.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "malformed JSON body"})
		return
	}
	if in.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "session_id is required"})
		return
	}

	msg := core.Message{
		Modality:  core.Modality(in.Modality),
		Text:      in.Text,
		Binary:    in.Binary,
		Timestamp: time.Now(),
		Origin:    core.OriginUser,
	}

	resp, err := s.handler.HandleInboundMessage(r.Context(), in.SessionID, msg)
	if err != nil {
		var invalid *core.InvalidMessageError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusBadRequest, errorPayload{Error: invalid.Error()})
			return
		}
		s.log.Error().Err(err).Str("session", in.SessionID).Msg("unexpected handler error")
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: "internal error"})
		return
	}

	out := responsePayload{
		Modality: string(resp.Modality),
		Text:     resp.Text,
		Binary:   resp.Binary,
		Degraded: resp.Degraded,
	}
	s.hub.Push(in.SessionID, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
