package bdi

import (
	"testing"
	"time"
)

func TestBeliefStoreAddAndGet(t *testing.T) {
	s := NewBeliefStore()
	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.9, "observation"))

	got := s.Get(BeliefSelf, "self", "location")
	if got == nil {
		t.Fatal("expected belief, got nil")
	}
	if got.Value != "park" {
		t.Errorf("value = %v, want park", got.Value)
	}
}

func TestBeliefStoreMergeSameValue(t *testing.T) {
	s := NewBeliefStore()
	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.8, "observation"))
	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.5, "observation"))

	got := s.Get(BeliefSelf, "self", "location")
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9 (0.8 + 0.1 reinforcement)", got.Confidence)
	}

	// Reinforcement caps at 1.0.
	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.5, "observation"))
	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.5, "observation"))
	if got := s.Get(BeliefSelf, "self", "location"); got.Confidence > 1.0 {
		t.Errorf("confidence = %v, want <= 1.0", got.Confidence)
	}
}

func TestBeliefStoreMergeConflict(t *testing.T) {
	s := NewBeliefStore()
	s.Add(NewBelief(BeliefAgent, "agent_bob", "mood", "happy", 0.6, "observation"))

	// Higher-confidence conflicting value wins.
	s.Add(NewBelief(BeliefAgent, "agent_bob", "mood", "sad", 0.9, "communication"))
	got := s.Get(BeliefAgent, "agent_bob", "mood")
	if got.Value != "sad" || got.Confidence != 0.9 {
		t.Errorf("got %v@%v, want sad@0.9", got.Value, got.Confidence)
	}

	// Lower-confidence conflicting value only averages confidences.
	s.Add(NewBelief(BeliefAgent, "agent_bob", "mood", "angry", 0.3, "observation"))
	got = s.Get(BeliefAgent, "agent_bob", "mood")
	if got.Value != "sad" {
		t.Errorf("value = %v, want sad (stored value stands)", got.Value)
	}
	if got.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6 (avg of 0.9 and 0.3)", got.Confidence)
	}
}

func TestBeliefStoreIndexes(t *testing.T) {
	s := NewBeliefStore()
	s.Add(NewBelief(BeliefAgent, "agent_bob", "location", "cafe", 0.9, "observation"))
	s.Add(NewBelief(BeliefAgent, "agent_eve", "location", "park", 0.9, "observation"))
	s.Add(NewBelief(BeliefWorld, "weather", "state", "rain", 0.9, "observation"))

	if got := len(s.ByType(BeliefAgent)); got != 2 {
		t.Errorf("ByType(agent) = %d beliefs, want 2", got)
	}
	if got := len(s.BySubject("agent_bob")); got != 1 {
		t.Errorf("BySubject(agent_bob) = %d beliefs, want 1", got)
	}

	if !s.Remove(BeliefAgent, "agent_bob", "location") {
		t.Fatal("Remove returned false for present belief")
	}
	if got := len(s.ByType(BeliefAgent)); got != 1 {
		t.Errorf("after remove, ByType(agent) = %d beliefs, want 1", got)
	}
	if s.Remove(BeliefAgent, "agent_bob", "location") {
		t.Error("Remove returned true for absent belief")
	}
}

func TestBeliefStoreQuery(t *testing.T) {
	s := NewBeliefStore()
	s.Add(NewBelief(BeliefAgent, "agent_bob", "location", "Central Park", 0.9, "observation"))
	s.Add(NewBelief(BeliefWorld, "weather", "state", "rain", 0.3, "observation"))

	if got := len(s.Query("park", 0.5)); got != 1 {
		t.Errorf("Query(park, 0.5) = %d results, want 1", got)
	}
	// Below min confidence.
	if got := len(s.Query("rain", 0.5)); got != 0 {
		t.Errorf("Query(rain, 0.5) = %d results, want 0", got)
	}
	if got := len(s.Query("rain", 0.1)); got != 1 {
		t.Errorf("Query(rain, 0.1) = %d results, want 1", got)
	}
}

func TestUpdateFromPerceptionRouting(t *testing.T) {
	tests := []struct {
		name    string
		ptype   string
		subject string
		want    BeliefType
	}{
		{"self", "observation", "self", BeliefSelf},
		{"agent prefix", "communication", "agent_bob", BeliefAgent},
		{"event type", "world_event", "alarm", BeliefEvent},
		{"social type", "social_norm", "greeting", BeliefSocial},
		{"default world", "communication", "weather", BeliefWorld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBeliefStore()
			p := NewPerception(tt.ptype, tt.subject, map[string]any{"k": "v"})
			updated := s.UpdateFromPerception(p)
			if len(updated) != 1 {
				t.Fatalf("got %d beliefs, want 1", len(updated))
			}
			if updated[0].Type != tt.want {
				t.Errorf("type = %s, want %s", updated[0].Type, tt.want)
			}
		})
	}
}

// Observed peers must land as AGENT beliefs whatever their id looks
// like. Rosters use human names like "alice", and partner selection only
// scans AGENT beliefs, so routing by id prefix alone loses them.
func TestUpdateFromPerceptionObservationIsAgent(t *testing.T) {
	s := NewBeliefStore()
	p := NewPerception("observation", "alice", map[string]any{
		"name":            "Alice",
		"in_conversation": false,
	})
	s.UpdateFromPerception(p)

	if got := len(s.ByType(BeliefAgent)); got != 2 {
		t.Fatalf("ByType(agent) = %d beliefs, want 2", got)
	}
	if b := s.Get(BeliefAgent, "alice", "in_conversation"); b == nil {
		t.Error("no agent belief about alice's conversation state")
	}
}

func TestClearOld(t *testing.T) {
	s := NewBeliefStore()
	stale := NewBelief(BeliefWorld, "weather", "state", "rain", 0.4, "observation")
	stale.Timestamp = time.Now().Add(-48 * time.Hour)
	s.Add(stale)

	confident := NewBelief(BeliefWorld, "season", "name", "summer", 0.9, "observation")
	confident.Timestamp = time.Now().Add(-48 * time.Hour)
	s.Add(confident)

	s.Add(NewBelief(BeliefSelf, "self", "location", "park", 0.4, "observation"))

	if removed := s.ClearOld(24 * time.Hour); removed != 1 {
		t.Errorf("removed = %d, want 1 (only old low-confidence beliefs)", removed)
	}
	if s.Get(BeliefWorld, "season", "name") == nil {
		t.Error("high-confidence old belief was removed")
	}
	if s.Get(BeliefSelf, "self", "location") == nil {
		t.Error("fresh belief was removed")
	}
}
