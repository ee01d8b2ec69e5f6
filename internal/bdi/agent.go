package bdi

import (
	"time"

	"github.com/agorasim/agora/internal/advisor"
)

// Personality is the immutable OCEAN trait vector, each axis in [0,1].
type Personality struct {
	Openness          float64
	Conscientiousness float64
	Extraversion      float64
	Agreeableness     float64
	Neuroticism       float64
}

// Introvert reports whether the agent takes the introvert cooldown and
// battery multipliers.
func (p Personality) Introvert() bool { return p.Extraversion < 0.4 }

// Extrovert reports whether the agent takes the extrovert discounts.
func (p Personality) Extrovert() bool { return p.Extraversion > 0.6 }

// Emotion axis names. Every agent carries all eight, each in [0,1].
var EmotionAxes = []string{
	"happiness", "sadness", "anger", "fear",
	"surprise", "disgust", "loneliness", "comfort",
}

// NewEmotions returns a neutral emotion vector.
func NewEmotions() map[string]float64 {
	e := make(map[string]float64, len(EmotionAxes))
	for _, axis := range EmotionAxes {
		e[axis] = 0.3
	}
	e["happiness"] = 0.5
	e["comfort"] = 0.5
	return e
}

// Agent owns one complete BDI state. All fields are mutated only by the
// world scheduler during this agent's slice of the tick, so no locking
// is needed.
type Agent struct {
	ID            string
	Name          string
	Avatar        string
	Personality   Personality
	Emotions      map[string]float64
	SocialBattery float64 // 0.0 - 1.0, starts full

	Beliefs    *BeliefStore
	Desires    []*Desire
	Intentions []*Intention

	CreatedAt time.Time
}

// NewAgent creates an agent with full battery and neutral emotions.
func NewAgent(id, name, avatar string, p Personality) *Agent {
	return &Agent{
		ID:            id,
		Name:          name,
		Avatar:        avatar,
		Personality:   p,
		Emotions:      NewEmotions(),
		SocialBattery: 1.0,
		Beliefs:       NewBeliefStore(),
		CreatedAt:     time.Now(),
	}
}

// Profile flattens identity, traits, and battery for advisory calls.
func (a *Agent) Profile() advisor.Profile {
	return advisor.Profile{
		Name: a.Name,
		ID:   a.ID,
		Personality: map[string]float64{
			"openness":          a.Personality.Openness,
			"conscientiousness": a.Personality.Conscientiousness,
			"extraversion":      a.Personality.Extraversion,
			"agreeableness":     a.Personality.Agreeableness,
			"neuroticism":       a.Personality.Neuroticism,
		},
		Emotions:      a.Emotions,
		SocialBattery: a.SocialBattery,
	}
}

// ActiveIntention returns the agent's single ACTIVE intention, or nil.
func (a *Agent) ActiveIntention() *Intention {
	for _, in := range a.Intentions {
		if in.Status == IntentionActive {
			return in
		}
	}
	return nil
}

// DesireByID resolves a desire id, or nil.
func (a *Agent) DesireByID(id string) *Desire {
	for _, d := range a.Desires {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// HasDesireWithSource reports whether any desire in the given statuses
// carries the source.
func (a *Agent) HasDesireWithSource(source string, statuses ...DesireStatus) bool {
	for _, d := range a.Desires {
		if d.Source != source {
			continue
		}
		for _, st := range statuses {
			if d.Status == st {
				return true
			}
		}
	}
	return false
}

// HasNonSocialPursuit reports whether an ACTIVE or PURSUED desire exists
// that is neither social nor a world-event reaction. Used by the idle
// drive and the advisory rate gate.
func (a *Agent) HasNonSocialPursuit() bool {
	for _, d := range a.Desires {
		if d.Status != DesireActive && d.Status != DesirePursued {
			continue
		}
		if d.Motivation == MotivationSocial || d.Motivation == MotivationWorldEvent {
			continue
		}
		return true
	}
	return false
}

// AdjustBattery applies a delta and clamps to [0,1].
func (a *Agent) AdjustBattery(delta float64) {
	a.SocialBattery = clamp01(a.SocialBattery + delta)
}
