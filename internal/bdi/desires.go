package bdi

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DesireStatus is a desire's lifecycle state.
type DesireStatus string

const (
	DesireActive     DesireStatus = "active"
	DesirePursued    DesireStatus = "pursued"
	DesireAchieved   DesireStatus = "achieved"
	DesireAbandoned  DesireStatus = "abandoned"
	DesireImpossible DesireStatus = "impossible"
)

// Motivation classifies what need a desire serves.
type Motivation string

const (
	MotivationSurvival    Motivation = "survival"
	MotivationSafety      Motivation = "safety"
	MotivationSocial      Motivation = "social"
	MotivationEsteem      Motivation = "esteem"
	MotivationAchievement Motivation = "achievement"
	MotivationCuriosity   Motivation = "curiosity"
	MotivationWorldEvent  Motivation = "world_event"
)

// Desire sources, in ascending tier order.
const (
	SourceIdleDrive       = "idle_drive"
	SourceLLMDynamic      = "llm_dynamic"
	SourceLLMFallback     = "llm_fallback"
	SourceIncomingMessage = "incoming_message"
	SourceDeepWorkReject  = "deep_work_reject"
	SourceWrapUp          = "wrap_up"
	SourceUserMessage     = "user_message"
	SourceWorldEvent      = "world_event"
)

// Desire is a candidate goal. Priority and urgency feed the utility
// tie-breaker; the strict ordering between desires is the tier derived
// from Source (see [Desire.Tier]).
type Desire struct {
	ID                   string
	Description          string
	Priority             float64 // 0.0 - 1.0
	Urgency              float64 // 0.0 - 1.0
	Status               DesireStatus
	Motivation           Motivation
	Source               string
	PersonalityAlignment float64
	CreatedAt            time.Time
	StatusChangedAt      time.Time
	Deadline             *time.Time
	Context              map[string]any
}

// NewDesire constructs an ACTIVE desire with a fresh id.
func NewDesire(description string, priority, urgency float64, motivation Motivation, source string) *Desire {
	id, _ := uuid.NewV7()
	now := time.Now()
	return &Desire{
		ID:                   id.String(),
		Description:          description,
		Priority:             clamp01(priority),
		Urgency:              clamp01(urgency),
		Status:               DesireActive,
		Motivation:           motivation,
		Source:               source,
		PersonalityAlignment: 0.5,
		CreatedAt:            now,
		StatusChangedAt:      now,
		Context:              make(map[string]any),
	}
}

// Utility is the intra-tier tie-breaker: priority x urgency x alignment.
func (d *Desire) Utility() float64 {
	return d.Priority * d.Urgency * d.PersonalityAlignment
}

// Tier returns the strict priority class 1-5 derived from the desire's
// source. Tier always dominates utility in intention selection.
func (d *Desire) Tier() int {
	switch d.Source {
	case SourceWorldEvent, SourceUserMessage:
		return 5
	case SourceIncomingMessage, SourceWrapUp, SourceDeepWorkReject:
		return 4
	case SourceLLMDynamic:
		if d.Motivation == MotivationSocial {
			return 3
		}
		return 2
	case SourceLLMFallback:
		return 2
	default:
		return 1
	}
}

// SetStatus transitions the desire and stamps the change time.
func (d *Desire) SetStatus(s DesireStatus) {
	if d.Status == s {
		return
	}
	d.Status = s
	d.StatusChangedAt = time.Now()
}

// Terminal reports whether the desire has reached a final status.
func (d *Desire) Terminal() bool {
	switch d.Status {
	case DesireAchieved, DesireAbandoned, DesireImpossible:
		return true
	}
	return false
}

// Expired reports whether the desire's deadline has passed.
func (d *Desire) Expired(now time.Time) bool {
	return d.Deadline != nil && now.After(*d.Deadline)
}

// Achievable checks every precondition in the desire's context against
// the belief store. Preconditions are listed under the "preconditions"
// context key as a slice of query strings; each must match at least one
// belief with confidence >= 0.5. A desire without preconditions is
// always achievable.
func (d *Desire) Achievable(beliefs *BeliefStore) bool {
	raw, ok := d.Context["preconditions"]
	if !ok {
		return true
	}
	conds, ok := raw.([]string)
	if !ok {
		return true
	}
	for _, c := range conds {
		if len(beliefs.Query(c, 0.5)) == 0 {
			return false
		}
	}
	return true
}

// TargetAgent returns the conversation partner this desire aims at, if
// any, from the context's target_agent key.
func (d *Desire) TargetAgent() string {
	if v, ok := d.Context["target_agent"].(string); ok {
		return v
	}
	return ""
}

// IsSocialIntent reports whether the description asks for conversation.
// The vocabulary covers both the advisor's English phrasing and the
// Russian phrasing used by locale-tuned models.
func IsSocialIntent(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range socialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var socialKeywords = []string{
	"talk", "chat", "converse", "socialize", "share", "discuss",
	"help", "comfort", "greet",
	"поговорить", "общаться", "пообщаться", "поделиться", "помочь",
	"утешение", "обсудить", "поприветствовать",
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
