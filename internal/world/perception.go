package world

import (
	"time"

	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/hub"
)

// buildPerceptions assembles one agent's sensory input for this tick:
// recent event-log entries first, then this tick's drained messages,
// then an observation of every other agent. The first time an agent
// sees an event id, its emotional impact lands and the id is recorded.
func (w *World) buildPerceptions(rt *runtime, drained []*hub.Message) []bdi.Perception {
	var out []bdi.Perception
	agentID := rt.agent.ID
	now := time.Now()

	for _, e := range w.recentOperatorEvents(now) {
		if !e.targets(agentID) {
			continue
		}
		processed := w.processedEvents[agentID]
		if !processed.ids[e.ID] {
			applyEmotionTrigger(rt.agent, triggerForEvent(e.Description))
			processed.add(e.ID)
		}
		p := bdi.NewPerception("world_event", "world", map[string]any{
			"event_id":    e.ID,
			"description": e.Description,
			"event_type":  e.Type,
		})
		p.Importance = 0.9
		out = append(out, p)
	}

	for _, m := range drained {
		out = append(out, bdi.NewPerception("communication", m.SenderID, map[string]any{
			"content":           m.Content,
			"message_type":      string(m.Type),
			"topic":             m.Topic,
			"conversation_id":   m.ConversationID,
			"requires_response": m.RequiresResponse,
			"message_id":        m.ID,
		}))
		if m.SenderID != bdi.UserID {
			w.adjustRelationship(agentID, m.SenderID, 0.04)
		}
	}

	for _, otherID := range w.order {
		if otherID == agentID {
			continue
		}
		other := w.agents[otherID].agent
		location := "unknown"
		if b := other.Beliefs.Get(bdi.BeliefSelf, "self", "location"); b != nil {
			if s, ok := b.Value.(string); ok {
				location = s
			}
		}
		out = append(out, bdi.NewPerception("observation", otherID, map[string]any{
			"name":            other.Name,
			"location":        location,
			"in_conversation": w.hub.InConversation(otherID),
		}))
	}

	return out
}

// recentOperatorEvents returns log entries young enough to perceive, in
// log order.
func (w *World) recentOperatorEvents(now time.Time) []*Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Event
	for i := len(w.eventLog) - 1; i >= 0; i-- {
		e := w.eventLog[i]
		if now.Sub(e.Timestamp) > eventPerceptionAge {
			break
		}
		if e.Type != EventTypeUser && e.Type != EventTypeWorld {
			continue
		}
		out = append(out, e)
	}
	// Restore log order after the tail scan.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (w *World) displayName(id string) string {
	if rt, ok := w.agents[id]; ok {
		return rt.agent.Name
	}
	return id
}
