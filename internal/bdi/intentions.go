package bdi

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IntentionStatus is an intention's lifecycle state. ACTIVE and
// SUSPENDED interchange; the other three are terminal.
type IntentionStatus string

const (
	IntentionActive    IntentionStatus = "active"
	IntentionSuspended IntentionStatus = "suspended"
	IntentionCompleted IntentionStatus = "completed"
	IntentionFailed    IntentionStatus = "failed"
	IntentionAbandoned IntentionStatus = "abandoned"
)

// Intention is a committed desire bound to a plan. DesireDescription is
// a snapshot so observers survive desire cleanup.
type Intention struct {
	ID                string
	DesireID          string
	DesireDescription string
	Plan              *Plan
	Status            IntentionStatus
	Priority          float64
	CurrentStep       int
	StepsCompleted    int
	StepsFailed       int
	RetryCount        int
	Interruptible     bool
	SuspendReason     string
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// interruptSafeSources are desire sources whose intentions must run to
// completion without being suspended by later arrivals.
var interruptSafeSources = map[string]bool{
	SourceIncomingMessage: true,
	SourceUserMessage:     true,
	SourceWrapUp:          true,
	SourceDeepWorkReject:  true,
	SourceWorldEvent:      true,
}

// NewIntention binds a desire to a plan. Interruptibility follows the
// desire: reactive and social work with a resolved partner is committed,
// everything else yields to urgent input.
func NewIntention(d *Desire, plan *Plan) *Intention {
	id, _ := uuid.NewV7()

	interruptible := true
	if interruptSafeSources[d.Source] {
		interruptible = false
	} else if (d.Motivation == MotivationSocial || d.Motivation == MotivationWorldEvent) && d.TargetAgent() != "" {
		interruptible = false
	}

	return &Intention{
		ID:                id.String(),
		DesireID:          d.ID,
		DesireDescription: d.Description,
		Plan:              plan,
		Status:            IntentionActive,
		Priority:          d.Priority,
		Interruptible:     interruptible,
		StartedAt:         time.Now(),
	}
}

// Terminal reports whether the intention has reached a final status.
func (in *Intention) Terminal() bool {
	switch in.Status {
	case IntentionCompleted, IntentionFailed, IntentionAbandoned:
		return true
	}
	return false
}

// NextStep advances CurrentStep past executed steps and returns the next
// pending step, or nil when the plan is exhausted.
func (in *Intention) NextStep() *PlanStep {
	for in.CurrentStep < len(in.Plan.Steps) {
		s := in.Plan.Steps[in.CurrentStep]
		if !s.Executed {
			return s
		}
		in.CurrentStep++
	}
	return nil
}

// ConfirmStep records the outcome of the step at index and advances.
// Completing the last step completes the intention.
func (in *Intention) ConfirmStep(index int, success bool, result string) {
	if index < 0 || index >= len(in.Plan.Steps) {
		return
	}
	s := in.Plan.Steps[index]
	s.Executed = true
	s.Success = success
	s.Result = result
	if success {
		in.StepsCompleted++
	} else {
		in.StepsFailed++
	}
	if index == in.CurrentStep {
		in.CurrentStep++
	}
	if in.CurrentStep >= len(in.Plan.Steps) && in.Status == IntentionActive {
		in.complete()
	}
}

func (in *Intention) complete() {
	now := time.Now()
	in.CompletedAt = &now
	if in.StepsFailed > 0 && in.StepsCompleted == 0 {
		in.Status = IntentionFailed
	} else {
		in.Status = IntentionCompleted
	}
}

// Suspend parks an ACTIVE intention with a reason.
func (in *Intention) Suspend(reason string) {
	if in.Status != IntentionActive {
		return
	}
	in.Status = IntentionSuspended
	in.SuspendReason = reason
}

// Resume reactivates a SUSPENDED intention.
func (in *Intention) Resume() {
	if in.Status != IntentionSuspended {
		return
	}
	in.Status = IntentionActive
	in.SuspendReason = ""
}

// Abandon terminates the intention with a reason.
func (in *Intention) Abandon(reason string) {
	if in.Terminal() {
		return
	}
	in.Status = IntentionAbandoned
	in.SuspendReason = reason
	now := time.Now()
	in.CompletedAt = &now
}

// Target resolves the conversation partner this intention is aimed at:
// the first plan step naming a target, else the owning desire's context.
func (in *Intention) Target(owner *Agent) string {
	if t := in.Plan.FirstTarget(); t != "" {
		return t
	}
	if d := owner.DesireByID(in.DesireID); d != nil {
		return d.TargetAgent()
	}
	return ""
}

// SelectDesire picks the next desire to commit to: ACTIVE, unbound, not
// expired, achievable, ordered by tier then priority then utility. Only
// called when the agent has no ACTIVE intention.
func SelectDesire(a *Agent, now time.Time) *Desire {
	bound := make(map[string]bool)
	for _, in := range a.Intentions {
		if !in.Terminal() {
			bound[in.DesireID] = true
		}
	}

	var candidates []*Desire
	for _, d := range a.Desires {
		if d.Status != DesireActive || bound[d.ID] || d.Expired(now) {
			continue
		}
		if !d.Achievable(a.Beliefs) {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Tier() != candidates[j].Tier() {
			return candidates[i].Tier() > candidates[j].Tier()
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Utility() > candidates[j].Utility()
	})
	return candidates[0]
}

// InterruptFor suspends interruptible ACTIVE intentions in favor of the
// urgent desire and returns the suspended set. Tier 5 interrupts every
// interruptible intention except one already serving the reserved user.
// Tier 4 additionally yields when a committed social intention is
// already running.
func InterruptFor(a *Agent, urgent *Desire) []*Intention {
	tier := urgent.Tier()
	if tier < 4 {
		return nil
	}

	if tier == 4 {
		for _, in := range a.Intentions {
			if in.Status == IntentionActive && !in.Interruptible {
				return nil
			}
		}
	}

	var suspended []*Intention
	for _, in := range a.Intentions {
		if in.Status != IntentionActive || !in.Interruptible {
			continue
		}
		if strings.Contains(strings.ToLower(in.DesireDescription), "user") {
			continue
		}
		in.Suspend("interrupted by " + urgent.Source + ": " + urgent.Description)
		suspended = append(suspended, in)
	}
	return suspended
}

// ResumeSuspended reactivates suspended intentions in insertion order.
// Called when nothing new was bound and no urgent desire remains.
func ResumeSuspended(a *Agent) int {
	n := 0
	for _, in := range a.Intentions {
		if in.Status == IntentionSuspended {
			in.Resume()
			n++
		}
	}
	return n
}
