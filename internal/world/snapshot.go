package world

import (
	"time"

	"github.com/agorasim/agora/internal/bdi"
)

// AgentState is the externally visible view of one agent, frozen at the
// end of a tick.
type AgentState struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Avatar         string             `json:"avatar,omitempty"`
	Personality    map[string]float64 `json:"personality"`
	Emotions       map[string]float64 `json:"emotions"`
	SocialBattery  float64            `json:"social_battery"`
	Location       string             `json:"location,omitempty"`
	InConversation bool               `json:"in_conversation"`
	DeepWork       bool               `json:"deep_work"`
	CurrentPlan    string             `json:"current_plan,omitempty"`
	DesireCount    int                `json:"desire_count"`
	IntentionCount int                `json:"intention_count"`
}

// ConversationState is the externally visible view of one open
// conversation.
type ConversationState struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	Topic        string    `json:"topic,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
}

// Snapshot is the full world state published at the end of every tick.
// It is immutable once published; readers on other goroutines (API,
// telemetry) never touch live BDI state.
type Snapshot struct {
	Tick          uint64               `json:"tick"`
	TimeSpeed     float64              `json:"time_speed"`
	Agents        []AgentState         `json:"agents"`
	Conversations []ConversationState  `json:"conversations"`
	Relationships map[string]float64   `json:"relationships"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Snapshot returns the most recently published state. Before the first
// tick it returns an empty frame so callers never see nil.
func (w *World) Snapshot() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.snapshot == nil {
		return &Snapshot{
			TimeSpeed:     w.timeSpeed,
			Relationships: map[string]float64{},
			Timestamp:     time.Now(),
		}
	}
	return w.snapshot
}

// MeanBattery averages the social battery across the last snapshot.
func (w *World) MeanBattery() float64 {
	snap := w.Snapshot()
	if len(snap.Agents) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range snap.Agents {
		sum += a.SocialBattery
	}
	return sum / float64(len(snap.Agents))
}

// publishSnapshot freezes the world state at the end of a tick. Runs on
// the scheduler goroutine, so reading agent BDI state is safe here.
func (w *World) publishSnapshot() {
	snap := &Snapshot{
		Tick:          w.tick,
		TimeSpeed:     w.TimeSpeed(),
		Agents:        make([]AgentState, 0, len(w.order)),
		Relationships: make(map[string]float64, len(w.relationships)),
		Timestamp:     time.Now(),
	}

	for _, id := range w.order {
		rt := w.agents[id]
		a := rt.agent

		emotions := make(map[string]float64, len(a.Emotions))
		for axis, v := range a.Emotions {
			emotions[axis] = v
		}

		location := ""
		if b := a.Beliefs.Get(bdi.BeliefSelf, "self", "location"); b != nil {
			if s, ok := b.Value.(string); ok {
				location = s
			}
		}
		plan := ""
		if in := a.ActiveIntention(); in != nil {
			plan = in.DesireDescription
		}

		snap.Agents = append(snap.Agents, AgentState{
			ID:     a.ID,
			Name:   a.Name,
			Avatar: a.Avatar,
			Personality: map[string]float64{
				"openness":          a.Personality.Openness,
				"conscientiousness": a.Personality.Conscientiousness,
				"extraversion":      a.Personality.Extraversion,
				"agreeableness":     a.Personality.Agreeableness,
				"neuroticism":       a.Personality.Neuroticism,
			},
			Emotions:       emotions,
			SocialBattery:  a.SocialBattery,
			Location:       location,
			InConversation: w.hub.InConversation(id),
			DeepWork:       rt.delib.Generator().DeepWorkActive(),
			CurrentPlan:    plan,
			DesireCount:    len(a.Desires),
			IntentionCount: len(a.Intentions),
		})

		for _, c := range w.hub.ActiveConversations(id) {
			dup := false
			for _, existing := range snap.Conversations {
				if existing.ID == c.ID {
					dup = true
					break
				}
			}
			if !dup {
				snap.Conversations = append(snap.Conversations, ConversationState{
					ID:           c.ID,
					Participants: c.Participants,
					Topic:        c.Topic,
					Status:       string(c.Status),
					StartedAt:    c.StartedAt,
				})
			}
		}
	}

	for pair, affinity := range w.relationships {
		snap.Relationships[pair] = affinity
	}

	w.mu.Lock()
	w.snapshot = snap
	w.mu.Unlock()
}
