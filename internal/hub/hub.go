// Package hub routes messages between agents: one FIFO inbox per
// registered identifier plus the conversation registry. The inboxes are
// the only simulation state touched by external I/O, so they sit behind
// the hub's mutex; everything else in the engine is single-threaded.
package hub

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageType labels a message's role in the dialogue protocol.
type MessageType string

const (
	TypeGreeting  MessageType = "greeting"
	TypeQuestion  MessageType = "question"
	TypeAnswer    MessageType = "answer"
	TypeStatement MessageType = "statement"
	TypeFarewell  MessageType = "farewell"
	TypeAck       MessageType = "ack"
)

// ParseMessageType normalizes a string to a MessageType, defaulting to
// statement.
func ParseMessageType(s string) MessageType {
	switch MessageType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeGreeting:
		return TypeGreeting
	case TypeQuestion:
		return TypeQuestion
	case TypeAnswer:
		return TypeAnswer
	case TypeFarewell:
		return TypeFarewell
	case TypeAck:
		return TypeAck
	default:
		return TypeStatement
	}
}

// Message is one unit of agent-to-agent communication.
type Message struct {
	ID               string
	SenderID         string
	ReceiverID       string
	Content          string
	Type             MessageType
	ConversationID   string
	InReplyTo        string
	Topic            string
	Tone             string
	Emotion          string // sender's dominant mood at send time, may be empty
	RequiresResponse bool
	ResponseTimeout  time.Duration
	Timestamp        time.Time
	DeliveredAt      *time.Time
	ReadAt           *time.Time
}

// NewMessage constructs a message with a fresh id and current timestamp.
func NewMessage(sender, receiver, content string, mtype MessageType) *Message {
	id, _ := uuid.NewV7()
	return &Message{
		ID:         id.String(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Type:       mtype,
		Timestamp:  time.Now(),
	}
}

// ConversationStatus is a conversation's lifecycle state.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationWaiting  ConversationStatus = "waiting"
	ConversationEnded    ConversationStatus = "ended"
	ConversationTimedOut ConversationStatus = "timed_out"
)

// Conversation is a two-party dialogue record. The wait fields are a
// status label only; actual response timeouts are enforced in ticks by
// the scheduler.
type Conversation struct {
	ID                    string
	Participants          [2]string
	Topic                 string
	Status                ConversationStatus
	StartedAt             time.Time
	LastActivity          time.Time
	EndedAt               *time.Time
	WaitingForResponse    string // participant id owing a reply, if any
	ExpectedResponseBy    *time.Time
}

// Involves reports whether id is a participant.
func (c *Conversation) Involves(id string) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Other returns the counterpart of id, or empty.
func (c *Conversation) Other(id string) string {
	switch id {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Open reports whether the conversation is still in progress.
func (c *Conversation) Open() bool {
	return c.Status == ConversationActive || c.Status == ConversationWaiting
}

// Recorder persists hub traffic. The hub calls it synchronously on the
// scheduler goroutine; implementations must not block on it.
type Recorder interface {
	RecordMessage(m *Message)
	RecordConversation(c *Conversation)
}

// Hub owns the per-agent inboxes and the conversation registry.
type Hub struct {
	mu            sync.Mutex
	queues        map[string][]*Message
	conversations map[string]*Conversation
	recorder      Recorder
	logger        *slog.Logger
}

// New creates an empty hub. recorder may be nil.
func New(recorder Recorder, logger *slog.Logger) *Hub {
	return &Hub{
		queues:        make(map[string][]*Message),
		conversations: make(map[string]*Conversation),
		recorder:      recorder,
		logger:        logger.With("component", "hub"),
	}
}

// RegisterAgent creates an inbox for id. Idempotent.
func (h *Hub) RegisterAgent(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.queues[id]; !ok {
		h.queues[id] = nil
	}
}

// Registered reports whether id has an inbox.
func (h *Hub) Registered(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.queues[id]
	return ok
}

// StartConversation returns the existing open conversation between the
// two participants, or creates one.
func (h *Hub) StartConversation(initiator, target, topic string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c := h.activeBetweenLocked(initiator, target); c != nil {
		return c
	}

	id, _ := uuid.NewV7()
	now := time.Now()
	c := &Conversation{
		ID:           fmt.Sprintf("conv-%s", id.String()),
		Participants: [2]string{initiator, target},
		Topic:        topic,
		Status:       ConversationActive,
		StartedAt:    now,
		LastActivity: now,
	}
	h.conversations[c.ID] = c
	h.logger.Debug("conversation started", "id", c.ID, "initiator", initiator, "target", target, "topic", topic)
	if h.recorder != nil {
		h.recorder.RecordConversation(c)
	}
	return c
}

func (h *Hub) activeBetweenLocked(a, b string) *Conversation {
	for _, c := range h.conversations {
		if c.Open() && c.Involves(a) && c.Involves(b) {
			return c
		}
	}
	return nil
}

// ActiveConversationBetween returns the open conversation between two
// ids, or nil.
func (h *Hub) ActiveConversationBetween(a, b string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeBetweenLocked(a, b)
}

// Conversation resolves a conversation id, or nil.
func (h *Hub) Conversation(id string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conversations[id]
}

// InConversation reports whether id participates in any open
// conversation.
func (h *Hub) InConversation(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conversations {
		if c.Open() && c.Involves(id) {
			return true
		}
	}
	return false
}

// ActiveConversations returns every open conversation involving id.
func (h *Hub) ActiveConversations(id string) []*Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Conversation
	for _, c := range h.conversations {
		if c.Open() && c.Involves(id) {
			out = append(out, c)
		}
	}
	return out
}

// EndConversation closes a conversation. Safe to call twice.
func (h *Hub) EndConversation(id string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.conversations[id]
	if c == nil || !c.Open() {
		return c
	}
	now := time.Now()
	c.Status = ConversationEnded
	c.EndedAt = &now
	c.WaitingForResponse = ""
	c.ExpectedResponseBy = nil
	h.logger.Debug("conversation ended", "id", id)
	if h.recorder != nil {
		h.recorder.RecordConversation(c)
	}
	return c
}

// SendMessage stamps delivery, updates the owning conversation's wait
// state, and enqueues to the receiver's inbox. Unregistered receivers
// are logged and the message is dropped; the caller persists elsewhere.
// Non-blocking; callable from any goroutine.
func (h *Hub) SendMessage(m *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	m.DeliveredAt = &now

	if c, ok := h.conversations[m.ConversationID]; ok && c.Open() {
		c.LastActivity = now
		if m.RequiresResponse {
			c.Status = ConversationWaiting
			c.WaitingForResponse = m.ReceiverID
			timeout := m.ResponseTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			by := now.Add(timeout)
			c.ExpectedResponseBy = &by
		} else {
			c.Status = ConversationActive
			c.WaitingForResponse = ""
			c.ExpectedResponseBy = nil
		}
	}

	if h.recorder != nil {
		h.recorder.RecordMessage(m)
	}

	if _, ok := h.queues[m.ReceiverID]; !ok {
		h.logger.Warn("dropping message for unregistered receiver",
			"receiver", m.ReceiverID, "sender", m.SenderID)
		return
	}
	h.queues[m.ReceiverID] = append(h.queues[m.ReceiverID], m)
}

// ReceiveMessages drains id's inbox in enqueue order, stamping read
// times. Non-blocking.
func (h *Hub) ReceiveMessages(id string) []*Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.queues[id]
	if len(msgs) == 0 {
		return nil
	}
	h.queues[id] = nil

	now := time.Now()
	for _, m := range msgs {
		m.ReadAt = &now
	}
	return msgs
}

// Broadcast enqueues one statement to every registered agent except the
// sender.
func (h *Hub) Broadcast(sender, content, topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	n := 0
	for id := range h.queues {
		if id == sender {
			continue
		}
		m := NewMessage(sender, id, content, TypeStatement)
		m.Topic = topic
		m.DeliveredAt = &now
		if h.recorder != nil {
			h.recorder.RecordMessage(m)
		}
		h.queues[id] = append(h.queues[id], m)
		n++
	}
	return n
}

// HasPendingFrom reports whether receiver's inbox holds an undrained
// message from sender. Used for the last-moment recheck before a wait
// step times out; does not consume anything.
func (h *Hub) HasPendingFrom(receiver, sender string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.queues[receiver] {
		if m.SenderID == sender {
			return true
		}
	}
	return false
}

// PendingCount returns the inbox depth for id.
func (h *Hub) PendingCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues[id])
}

// OpenConversationCount returns the number of open conversations.
func (h *Hub) OpenConversationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.conversations {
		if c.Open() {
			n++
		}
	}
	return n
}
