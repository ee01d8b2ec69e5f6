// Package bdi implements the belief–desire–intention deliberation engine
// that drives each agent: a confidence-weighted belief store, a desire
// generator gated by personality and social fatigue, a keyword-dispatch
// planner with advisor-extended dialogue plans, a tier-ordered intention
// selector with reactive interrupts, and the per-tick deliberation cycle
// that orchestrates them.
package bdi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BeliefType categorizes what a belief is about.
type BeliefType string

const (
	BeliefSelf   BeliefType = "self"   // The agent itself (location, state, resources)
	BeliefAgent  BeliefType = "agent"  // Other agents
	BeliefWorld  BeliefType = "world"  // The environment
	BeliefEvent  BeliefType = "event"  // Events
	BeliefSocial BeliefType = "social" // Norms, reputation
)

// Belief is one piece of knowledge the agent holds about the world.
// The composite key (Type, Subject, Key) identifies it; re-asserting the
// same key merges per the confidence policy in [BeliefStore.Add].
type Belief struct {
	ID         string
	Type       BeliefType
	Subject    string // Who/what the belief is about (agent id, object name)
	Key        string // Attribute (location, mood, in_conversation, ...)
	Value      any
	Confidence float64 // 0.0 - 1.0
	Source     string  // observation, communication, inference, introspection
	Timestamp  time.Time
}

// NewBelief constructs a belief with a fresh id and current timestamp.
func NewBelief(bt BeliefType, subject, key string, value any, confidence float64, source string) *Belief {
	id, _ := uuid.NewV7()
	return &Belief{
		ID:         id.String(),
		Type:       bt,
		Subject:    subject,
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
		Timestamp:  time.Now(),
	}
}

// Perception is one unit of sensory input delivered to an agent by the
// world loop. Data keys become individual beliefs on ingestion.
type Perception struct {
	Type       string // observation, communication, world_event, social_*
	Subject    string
	Data       map[string]any
	Confidence float64
	Importance float64
	Timestamp  time.Time
}

// NewPerception constructs a perception with the default confidence 0.9.
func NewPerception(ptype, subject string, data map[string]any) Perception {
	return Perception{
		Type:       ptype,
		Subject:    subject,
		Data:       data,
		Confidence: 0.9,
		Importance: 0.5,
		Timestamp:  time.Now(),
	}
}

// BeliefStore is an agent's knowledge base, indexed by composite key and
// by type and subject for fast lookup. Not safe for concurrent use; each
// agent's store is touched only by the scheduler goroutine.
type BeliefStore struct {
	beliefs   map[string]*Belief
	byType    map[BeliefType]map[string]struct{}
	bySubject map[string]map[string]struct{}
}

// NewBeliefStore creates an empty belief store.
func NewBeliefStore() *BeliefStore {
	return &BeliefStore{
		beliefs:   make(map[string]*Belief),
		byType:    make(map[BeliefType]map[string]struct{}),
		bySubject: make(map[string]map[string]struct{}),
	}
}

func beliefKey(bt BeliefType, subject, key string) string {
	return fmt.Sprintf("%s:%s:%s", bt, subject, key)
}

// Add inserts a belief or merges it with the existing one under the same
// composite key. Merge policy: identical value strengthens confidence by
// 0.1 (capped at 1.0) and refreshes the timestamp; a conflicting value is
// accepted when at least as confident, otherwise the confidences are
// averaged and the stored value stands.
func (s *BeliefStore) Add(b *Belief) {
	key := beliefKey(b.Type, b.Subject, b.Key)

	if old, ok := s.beliefs[key]; ok {
		if old.Value != b.Value {
			if b.Confidence >= old.Confidence {
				old.Value = b.Value
				old.Confidence = b.Confidence
				old.Timestamp = b.Timestamp
				old.Source = b.Source
			} else {
				old.Confidence = (old.Confidence + b.Confidence) / 2
			}
		} else {
			old.Confidence = min(1.0, old.Confidence+0.1)
			old.Timestamp = b.Timestamp
		}
		return
	}

	s.beliefs[key] = b
	if s.byType[b.Type] == nil {
		s.byType[b.Type] = make(map[string]struct{})
	}
	s.byType[b.Type][key] = struct{}{}
	if s.bySubject[b.Subject] == nil {
		s.bySubject[b.Subject] = make(map[string]struct{})
	}
	s.bySubject[b.Subject][key] = struct{}{}
}

// Remove deletes a belief. Returns false if it was not present.
func (s *BeliefStore) Remove(bt BeliefType, subject, key string) bool {
	lookup := beliefKey(bt, subject, key)
	if _, ok := s.beliefs[lookup]; !ok {
		return false
	}
	delete(s.beliefs, lookup)
	delete(s.byType[bt], lookup)
	delete(s.bySubject[subject], lookup)
	return true
}

// Get retrieves one belief, or nil if absent.
func (s *BeliefStore) Get(bt BeliefType, subject, key string) *Belief {
	return s.beliefs[beliefKey(bt, subject, key)]
}

// ByType returns all beliefs of one type.
func (s *BeliefStore) ByType(bt BeliefType) []*Belief {
	var out []*Belief
	for key := range s.byType[bt] {
		if b, ok := s.beliefs[key]; ok {
			out = append(out, b)
		}
	}
	return out
}

// BySubject returns all beliefs about one subject.
func (s *BeliefStore) BySubject(subject string) []*Belief {
	var out []*Belief
	for key := range s.bySubject[subject] {
		if b, ok := s.beliefs[key]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Query performs a case-insensitive substring search over subject, key,
// and stringified value, filtered by minimum confidence.
func (s *BeliefStore) Query(query string, minConfidence float64) []*Belief {
	q := strings.ToLower(query)
	var out []*Belief
	for _, b := range s.beliefs {
		if b.Confidence < minConfidence {
			continue
		}
		if strings.Contains(strings.ToLower(b.Subject), q) ||
			strings.Contains(strings.ToLower(b.Key), q) ||
			strings.Contains(strings.ToLower(fmt.Sprint(b.Value)), q) {
			out = append(out, b)
		}
	}
	return out
}

// UpdateFromPerception ingests a perception, emitting one belief per data
// key. Belief type resolution: subject "self" → SELF, observation
// perceptions → AGENT (their subject is always another agent, whatever
// its id looks like), subject "agent_*" → AGENT, perception type
// containing "event" → EVENT, containing "social" → SOCIAL, else WORLD.
func (s *BeliefStore) UpdateFromPerception(p Perception) []*Belief {
	var bt BeliefType
	switch {
	case p.Subject == "self":
		bt = BeliefSelf
	case p.Type == "observation":
		bt = BeliefAgent
	case strings.HasPrefix(p.Subject, "agent_") || strings.HasPrefix(p.Subject, "agent-"):
		bt = BeliefAgent
	case strings.Contains(p.Type, "event"):
		bt = BeliefEvent
	case strings.Contains(p.Type, "social"):
		bt = BeliefSocial
	default:
		bt = BeliefWorld
	}

	confidence := p.Confidence
	if confidence == 0 {
		confidence = 0.9
	}

	var updated []*Belief
	for key, value := range p.Data {
		b := NewBelief(bt, p.Subject, key, value, confidence, p.Type)
		s.Add(b)
		updated = append(updated, b)
	}
	return updated
}

// ClearOld removes beliefs older than maxAge whose confidence is below
// 0.7. Returns the number removed.
func (s *BeliefStore) ClearOld(maxAge time.Duration) int {
	now := time.Now()
	type ref struct {
		bt           BeliefType
		subject, key string
	}
	var toRemove []ref
	for _, b := range s.beliefs {
		if now.Sub(b.Timestamp) > maxAge && b.Confidence < 0.7 {
			toRemove = append(toRemove, ref{b.Type, b.Subject, b.Key})
		}
	}
	for _, r := range toRemove {
		s.Remove(r.bt, r.subject, r.key)
	}
	return len(toRemove)
}

// Len returns the number of stored beliefs.
func (s *BeliefStore) Len() int { return len(s.beliefs) }

// All returns every stored belief (order unspecified).
func (s *BeliefStore) All() []*Belief {
	out := make([]*Belief, 0, len(s.beliefs))
	for _, b := range s.beliefs {
		out = append(out, b)
	}
	return out
}
