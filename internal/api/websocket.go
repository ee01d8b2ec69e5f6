package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agorasim/agora/internal/bdi"
)

const statePushInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The simulation runs on trusted networks; viewers connect from
		// arbitrary origins.
		return true
	},
}

// wsInbound is a frame sent by a connected viewer.
type wsInbound struct {
	Type             string `json:"type"`
	SenderID         string `json:"sender_id,omitempty"`
	ReceiverID       string `json:"receiver_id,omitempty"`
	Content          string `json:"content,omitempty"`
	Topic            string `json:"topic,omitempty"`
	EventDescription string `json:"event_description,omitempty"`
}

// handleWebSocket serves the live view: an init frame on connect, a
// state_update frame every second, and bus events as they happen.
// Inbound send_message and add_event frames mirror the POST endpoints.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go s.wsWriter(conn, done)
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
			return
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Debug("discarding malformed websocket frame", "error", err)
			continue
		}
		s.handleInbound(in)
	}
}

// wsWriter owns all writes on the connection. Bus events and the state
// ticker are multiplexed here so the gorilla single-writer rule holds.
func (s *Server) wsWriter(conn *websocket.Conn, done <-chan struct{}) {
	var busCh = s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(busCh)

	ticker := time.NewTicker(statePushInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.stateFrame("init")); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.stateFrame("state_update")); err != nil {
				return
			}
		case ev, ok := <-busCh:
			if !ok {
				return
			}
			frame := map[string]any{
				"type":   "event",
				"source": ev.Source,
				"kind":   ev.Kind,
				"data":   ev.Data,
				"ts":     ev.Timestamp,
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleInbound(in wsInbound) {
	switch in.Type {
	case "send_message":
		if in.ReceiverID == "" || in.Content == "" {
			return
		}
		sender := in.SenderID
		if sender == "" {
			sender = bdi.UserID
		}
		s.world.EnqueueExternalMessage(sender, in.ReceiverID, in.Content, in.Topic, true)
	case "add_event":
		if in.EventDescription == "" {
			return
		}
		s.world.InjectEvent(in.EventDescription, nil)
	default:
		s.logger.Debug("ignoring unknown websocket frame", "type", in.Type)
	}
}
