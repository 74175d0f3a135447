// Package relay is the connection gateway: it turns websocket events into
// registry and pipeline calls and routes results back to sessions.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/babelroom/backend/internal/model/room"
	"github.com/babelroom/backend/internal/pipeline"
	"github.com/babelroom/backend/internal/registry"
	"github.com/babelroom/backend/internal/verify"
)

// Handler owns the websocket clients and dispatches their events.
type Handler struct {
	registry *registry.Registry
	verifier *verify.Service
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	// pipe is attached after construction because the pipeline needs this
	// handler as its delivery sink.
	pipe *pipeline.Pipeline
}

// client serializes writes to one websocket connection; pipeline goroutines
// and the read loop both send.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New creates the gateway. Connections without an Origin header (native
// clients) are accepted; browser origins must be in the configured allowlist
// or have passed web verification.
func New(reg *registry.Registry, verifier *verify.Service, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	h := &Handler{
		registry: reg,
		verifier: verifier,
		clients:  make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			return verifier.OriginVerified(origin)
		},
	}
	return h
}

// AttachPipeline wires the utterance pipeline once it exists.
func (h *Handler) AttachPipeline(p *pipeline.Pipeline) {
	h.pipe = p
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type joinPayload struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

type utterancePayload struct {
	RoomCode string `json:"roomCode"`
	Audio    []byte `json:"audio"`
}

type recordingPayload struct {
	RoomCode  string `json:"roomCode"`
	Recording bool   `json:"recording"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := h.registry.Connect()
	cl := &client{conn: conn}

	h.mu.Lock()
	h.clients[session.ID] = cl
	h.mu.Unlock()
	defer h.disconnect(session.ID)

	log.Printf("[relay] new connection session=%s", session.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, cl)

	h.send(session.ID, "connected", map[string]any{"sessionId": session.ID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[relay] read error session=%s: %v", session.ID, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		h.handleMessage(session.ID, &msg)
	}
}

func (h *Handler) handleMessage(sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "create-room":
		h.handleCreateRoom(sessionID)
	case "join-room":
		h.handleJoin(sessionID, msg.Data)
	case "leave":
		h.handleLeave(sessionID)
	case "utterance":
		h.handleUtterance(sessionID, msg.Data)
	case "recording-status":
		h.handleRecordingStatus(sessionID, msg.Data)
	case "heartbeat":
		// Read deadline already extended; nothing to answer.
	default:
		h.sendError(sessionID, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleCreateRoom(sessionID string) {
	code, err := h.registry.CreateRoom()
	if err != nil {
		h.sendError(sessionID, err.Error())
		return
	}
	h.send(sessionID, "room-created", map[string]any{"roomCode": code})
}

func (h *Handler) handleJoin(sessionID string, raw json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(sessionID, "invalid join payload")
		return
	}

	members, departure, err := h.registry.Join(payload.RoomCode, sessionID, payload.Name, payload.Language)
	if err != nil {
		h.sendError(sessionID, err.Error())
		return
	}

	log.Printf("[relay] session=%s joined room=%s language=%s", sessionID, payload.RoomCode, payload.Language)
	if departure != nil && !departure.Closed {
		h.broadcastMemberList(departure.Code, departure.Members)
	}
	h.broadcastMemberList(payload.RoomCode, members)
}

func (h *Handler) handleLeave(sessionID string) {
	code, members, closed := h.registry.Leave(sessionID)
	if code == "" || closed {
		return
	}
	h.broadcastMemberList(code, members)
}

func (h *Handler) handleUtterance(sessionID string, raw json.RawMessage) {
	if h.pipe == nil {
		h.sendError(sessionID, "utterance pipeline unavailable")
		return
	}

	var payload utterancePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(sessionID, "invalid utterance payload")
		return
	}

	// The pipeline runs on the process context, not the connection's: a
	// disconnect mid-utterance must not abandon in-flight external calls.
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[relay] utterance panic session=%s room=%s: %v", sessionID, payload.RoomCode, rec)
				h.sendError(sessionID, "utterance processing failed")
			}
		}()
		if err := h.pipe.Process(context.Background(), payload.RoomCode, sessionID, payload.Audio); err != nil {
			log.Printf("[relay] utterance failed session=%s room=%s: %v", sessionID, payload.RoomCode, err)
			h.SendPipelineError(sessionID, err)
		}
	}()
}

func (h *Handler) handleRecordingStatus(sessionID string, raw json.RawMessage) {
	var payload recordingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(sessionID, "invalid recording-status payload")
		return
	}

	members, err := h.registry.MembersExcept(payload.RoomCode, sessionID)
	if err != nil {
		return
	}
	for _, m := range members {
		h.send(m.ID, "recording-status", map[string]any{
			"roomCode":  payload.RoomCode,
			"sessionId": sessionID,
			"recording": payload.Recording,
		})
	}
}

// disconnect tears the session down exactly once. The member-list broadcast
// for a departed member happens here and nowhere else; the pipeline only
// suppresses deliveries, it never removes members.
func (h *Handler) disconnect(sessionID string) {
	h.mu.Lock()
	delete(h.clients, sessionID)
	h.mu.Unlock()

	code, members, closed := h.registry.Disconnect(sessionID)
	if code != "" && !closed {
		h.broadcastMemberList(code, members)
	}
	log.Printf("[relay] session=%s disconnected", sessionID)
}

func (h *Handler) broadcastMemberList(code string, members []room.Member) {
	for _, m := range members {
		h.send(m.ID, "member-list-updated", map[string]any{
			"roomCode": code,
			"members":  members,
		})
	}
}

// SendTranscript implements pipeline.Delivery.
func (h *Handler) SendTranscript(sessionID string, t pipeline.Transcript) {
	h.send(sessionID, "transcript", t)
}

// SendTranslatedAudio implements pipeline.Delivery.
func (h *Handler) SendTranslatedAudio(sessionID string, a pipeline.TranslatedAudio) {
	h.send(sessionID, "translated-audio", a)
}

// SendPipelineError implements pipeline.Delivery. Errors go only to the
// originating session, tagged with its display name when known.
func (h *Handler) SendPipelineError(sessionID string, err error) {
	message := err.Error()
	if s, ok := h.registry.Session(sessionID); ok && s.Name != "" {
		message = fmt.Sprintf("%s: %s", s.Name, message)
	}
	h.sendError(sessionID, message)
}

// send delivers one message to one session. Departed sessions are dropped
// silently; that is the normal outcome for mid-pipeline leavers.
func (h *Handler) send(sessionID, msgType string, data any) {
	h.mu.RLock()
	cl, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg := outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := cl.writeJSON(msg); err != nil {
		log.Printf("[relay] write failed session=%s type=%s: %v", sessionID, msgType, err)
	}
}

func (h *Handler) sendError(sessionID, message string) {
	h.send(sessionID, "error", map[string]string{"message": message})
}

func (h *Handler) pingLoop(ctx context.Context, cl *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl.mu.Lock()
			err := cl.conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
