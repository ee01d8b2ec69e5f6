// Package store persists the collaborator-facing simulation record:
// agents, message history, conversation metadata, and the event log. The
// engine never reads this data back; it exists for the operator API and
// for offline analysis.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/hub"
	"github.com/agorasim/agora/internal/world"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// AgentRecord is one persisted agent row.
type AgentRecord struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Avatar            string    `json:"avatar"`
	Openness          float64   `json:"openness"`
	Conscientiousness float64   `json:"conscientiousness"`
	Extraversion      float64   `json:"extraversion"`
	Agreeableness     float64   `json:"agreeableness"`
	Neuroticism       float64   `json:"neuroticism"`
	CreatedAt         time.Time `json:"created_at"`
}

// MessageRecord is one persisted message row.
type MessageRecord struct {
	Seq             int64     `json:"seq"`
	MessageID       string    `json:"message_id"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	Content         string    `json:"content"`
	MessageType     string    `json:"message_type"`
	Emotion         string    `json:"emotion,omitempty"`
	Tone            string    `json:"tone,omitempty"`
	Topic           string    `json:"topic,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventRecord is one persisted event-log row.
type EventRecord struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Participants []string       `json:"participants,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Store manages simulation persistence. Its Record methods implement
// [hub.Recorder] and [world.EventRecorder]; they are called synchronously
// on the scheduler goroutine and must not fail the tick, so write errors
// are logged and swallowed.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT,
			openness REAL NOT NULL,
			conscientiousness REAL NOT NULL,
			extraversion REAL NOT NULL,
			agreeableness REAL NOT NULL,
			neuroticism REAL NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			emotion TEXT,
			tone TEXT,
			topic TEXT,
			conversation_id TEXT,
			parent_message_id TEXT,
			timestamp TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			topic TEXT,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT NOT NULL,
			participants TEXT,
			data TEXT,
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAgent upserts an agent's identity and personality.
func (s *Store) SaveAgent(a *bdi.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, avatar, openness, conscientiousness, extraversion, agreeableness, neuroticism, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar = excluded.avatar
	`, a.ID, a.Name, a.Avatar,
		a.Personality.Openness, a.Personality.Conscientiousness, a.Personality.Extraversion,
		a.Personality.Agreeableness, a.Personality.Neuroticism,
		a.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// Agent retrieves one agent row, or nil when absent.
func (s *Store) Agent(id string) (*AgentRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, name, avatar, openness, conscientiousness, extraversion, agreeableness, neuroticism, created_at
		FROM agents WHERE id = ?
	`, id)
	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListAgents returns every persisted agent ordered by creation.
func (s *Store) ListAgents() ([]*AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, avatar, openness, conscientiousness, extraversion, agreeableness, neuroticism, created_at
		FROM agents ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAgent(row scannable) (*AgentRecord, error) {
	var rec AgentRecord
	var avatar sql.NullString
	var created string
	err := row.Scan(&rec.ID, &rec.Name, &avatar,
		&rec.Openness, &rec.Conscientiousness, &rec.Extraversion,
		&rec.Agreeableness, &rec.Neuroticism, &created)
	if err != nil {
		return nil, err
	}
	rec.Avatar = avatar.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &rec, nil
}

// RecordMessage persists one delivered message. Implements [hub.Recorder].
func (s *Store) RecordMessage(m *hub.Message) {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages
			(message_id, sender_id, receiver_id, content, message_type, emotion, tone, topic, conversation_id, parent_message_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SenderID, m.ReceiverID, m.Content, string(m.Type),
		nullable(m.Emotion), m.Tone, m.Topic, m.ConversationID, m.InReplyTo,
		m.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("record message failed", "message", m.ID, "error", err)
	}
}

// nullable maps an empty string to a SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordConversation upserts conversation metadata. Implements
// [hub.Recorder]; called on creation and again on close.
func (s *Store) RecordConversation(c *hub.Conversation) {
	var ended any
	if c.EndedAt != nil {
		ended = c.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, participant_a, participant_b, topic, status, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, ended_at = excluded.ended_at
	`, c.ID, c.Participants[0], c.Participants[1], c.Topic, string(c.Status),
		c.StartedAt.UTC().Format(time.RFC3339Nano), ended)
	if err != nil {
		s.logger.Warn("record conversation failed", "conversation", c.ID, "error", err)
	}
}

// RecordEvent persists one event-log entry. Implements
// [world.EventRecorder].
func (s *Store) RecordEvent(e *world.Event) {
	var data any
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			data = string(b)
		}
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO events (id, type, description, participants, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Type, e.Description, strings.Join(e.Participants, ","), data,
		e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("record event failed", "event", e.ID, "error", err)
	}
}

// RecentMessages returns up to limit messages, newest first.
func (s *Store) RecentMessages(limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, message_id, sender_id, receiver_id, content, message_type, emotion, tone, topic, conversation_id, parent_message_id, timestamp
		FROM messages ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ConversationMessages returns every message in one conversation, oldest
// first.
func (s *Store) ConversationMessages(conversationID string) ([]*MessageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, sender_id, receiver_id, content, message_type, emotion, tone, topic, conversation_id, parent_message_id, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query conversation messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMessage(row scannable) (*MessageRecord, error) {
	var rec MessageRecord
	var emotion, tone, topic, conv, parent sql.NullString
	var ts string
	if err := row.Scan(&rec.Seq, &rec.MessageID, &rec.SenderID, &rec.ReceiverID,
		&rec.Content, &rec.MessageType, &emotion, &tone, &topic, &conv, &parent, &ts); err != nil {
		return nil, err
	}
	rec.Emotion = emotion.String
	rec.Tone = tone.String
	rec.Topic = topic.String
	rec.ConversationID = conv.String
	rec.ParentMessageID = parent.String
	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return &rec, nil
}

// RecentEvents returns up to limit event-log entries, newest first.
func (s *Store) RecentEvents(limit int) ([]*EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, type, description, participants, data, timestamp
		FROM events ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*EventRecord
	for rows.Next() {
		var rec EventRecord
		var participants, data sql.NullString
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Description, &participants, &data, &ts); err != nil {
			return nil, err
		}
		if participants.String != "" {
			rec.Participants = strings.Split(participants.String, ",")
		}
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &rec.Data)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Stats returns row counts per table for diagnostics.
func (s *Store) Stats() map[string]any {
	counts := make(map[string]any)
	for _, table := range []string{"agents", "messages", "conversations", "events"} {
		var n int
		_ = s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		counts[table] = n
	}
	return counts
}
