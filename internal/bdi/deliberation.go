package bdi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agorasim/agora/internal/advisor"
)

const (
	hardTurnLimit     = 10
	idleGuardTicks    = 2
	terminalDesireTTL = 30 * time.Second
)

// CycleInput is everything the scheduler hands an agent for one tick.
type CycleInput struct {
	Perceptions    []Perception
	ActivePartners map[string]bool
	// History returns the recent dialogue with a partner, oldest first.
	// May be nil when no conversation context is available.
	History func(partner string) []advisor.Turn
}

// ActionCommand is one plan step harvested for dispatch, tagged with its
// owning intention so the executor can confirm the outcome.
type ActionCommand struct {
	AgentID   string
	Intention *Intention
	StepIndex int
	Step      *PlanStep
}

// CycleResult is the public output of one deliberation cycle.
type CycleResult struct {
	Actions    []ActionCommand
	Suspended  []*Intention
	NewBeliefs []*Belief
	Counters   map[string]int
}

// Deliberation orchestrates the per-tick phase sequence for one agent
// and owns the reactive bookkeeping: conversation turn counts, the
// force-quit set, the wrap-up ledger, and the idle guard.
type Deliberation struct {
	agent   *Agent
	gen     *Generator
	planner *Planner
	advisor advisor.Advisor
	logger  *slog.Logger

	turnCounts        map[string]int
	forceQuitPartners map[string]bool
	wrapUpIssued      map[string]bool
	idleTicks         int
}

// NewDeliberation wires the cycle for one agent.
func NewDeliberation(a *Agent, adv advisor.Advisor, logger *slog.Logger) *Deliberation {
	l := logger.With("agent", a.ID)
	return &Deliberation{
		agent:             a,
		gen:               NewGenerator(a.ID, adv, logger),
		planner:           NewPlanner(adv, l),
		advisor:           adv,
		logger:            l,
		turnCounts:        make(map[string]int),
		forceQuitPartners: make(map[string]bool),
		wrapUpIssued:      make(map[string]bool),
	}
}

// Agent returns the owned agent.
func (dl *Deliberation) Agent() *Agent { return dl.agent }

// Generator exposes the satiety state for the action dispatcher.
func (dl *Deliberation) Generator() *Generator { return dl.gen }

// Planner exposes plan construction for the dispatcher's rewind paths.
func (dl *Deliberation) Planner() *Planner { return dl.planner }

// ConsumeForceQuitPartners returns and clears the force-quit set in one
// operation. The scheduler calls this right after the cycle so tear-down
// happens before any further dispatch.
func (dl *Deliberation) ConsumeForceQuitPartners() []string {
	if len(dl.forceQuitPartners) == 0 {
		return nil
	}
	out := make([]string, 0, len(dl.forceQuitPartners))
	for p := range dl.forceQuitPartners {
		out = append(out, p)
	}
	dl.forceQuitPartners = make(map[string]bool)
	return out
}

// FlagForceQuit marks a partner for atomic tear-down.
func (dl *Deliberation) FlagForceQuit(partner string) {
	dl.forceQuitPartners[partner] = true
}

// NotifyConversationEnded seeds cooldowns and clears the per-partner
// reactive bookkeeping. Called on both participants when a conversation
// closes, whatever the reason.
func (dl *Deliberation) NotifyConversationEnded(partner string) {
	dl.gen.MarkConversationEnded(partner)
	delete(dl.turnCounts, partner)
	delete(dl.wrapUpIssued, partner)
}

// Cycle runs the fixed phase order for one tick.
func (dl *Deliberation) Cycle(ctx context.Context, in CycleInput) CycleResult {
	res := CycleResult{Counters: make(map[string]int)}
	a := dl.agent

	dl.cleanup()
	dl.idleGuard(&res)
	res.NewBeliefs = dl.perceive(in.Perceptions)
	dl.countTurns(in.Perceptions)

	a.Desires = append(a.Desires, dl.gen.Generate(ctx, a, in.Perceptions, in.ActivePartners)...)
	dl.backupIdleDrive()
	dl.interrupts(&res)
	dl.analyzeConversations(ctx, in, &res)
	dl.extendPlans(ctx, in)
	dl.selectIntention(ctx, &res)

	for _, intent := range a.Intentions {
		if intent.Status != IntentionActive {
			continue
		}
		if s := intent.NextStep(); s != nil {
			res.Actions = append(res.Actions, ActionCommand{
				AgentID:   a.ID,
				Intention: intent,
				StepIndex: intent.CurrentStep,
				Step:      s,
			})
		}
	}
	return res
}

// cleanup heals the desire and intention lists before the tick proper.
func (dl *Deliberation) cleanup() {
	a := dl.agent
	now := time.Now()

	live := make(map[string]*Intention)
	for _, in := range a.Intentions {
		if !in.Terminal() {
			live[in.DesireID] = in
		}
	}

	seen := make(map[string]bool)
	kept := a.Desires[:0]
	for _, d := range a.Desires {
		if d.Expired(now) {
			continue
		}
		// A pursued desire whose intention vanished is complete as far
		// as anyone can tell.
		if d.Status == DesirePursued && live[d.ID] == nil {
			d.SetStatus(DesireAchieved)
		}
		if d.Terminal() && now.Sub(d.StatusChangedAt) > terminalDesireTTL {
			continue
		}
		lower := normalizeDesc(d.Description)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		kept = append(kept, d)
	}
	a.Desires = kept

	if len(a.Desires) > desireCap {
		a.Desires = capDesires(a.Desires)
	}

	keptIn := a.Intentions[:0]
	for _, in := range a.Intentions {
		if in.Terminal() {
			continue
		}
		keptIn = append(keptIn, in)
	}
	a.Intentions = keptIn
}

func normalizeDesc(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

// capDesires keeps every ACTIVE incoming-message desire plus the six
// best others by utility.
func capDesires(desires []*Desire) []*Desire {
	var keep, rest []*Desire
	for _, d := range desires {
		if d.Source == SourceIncomingMessage && d.Status == DesireActive {
			keep = append(keep, d)
		} else {
			rest = append(rest, d)
		}
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j].Utility() > rest[i].Utility() {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	if len(rest) > 6 {
		rest = rest[:6]
	}
	return append(keep, rest...)
}

// idleGuard abandons zombie intentions: fully executed plans still
// marked ACTIVE or SUSPENDED after two idle ticks. Idleness means no
// intention with runnable steps; an exhausted plan resurrected by the
// resume pass does not count.
func (dl *Deliberation) idleGuard(res *CycleResult) {
	for _, in := range dl.agent.Intentions {
		if in.Status == IntentionActive && !in.Plan.AllExecuted() {
			dl.idleTicks = 0
			return
		}
	}
	dl.idleTicks++
	if dl.idleTicks < idleGuardTicks {
		return
	}
	for _, in := range dl.agent.Intentions {
		if in.Terminal() || !in.Plan.AllExecuted() {
			continue
		}
		in.Abandon("idle guard: plan exhausted")
		res.Counters["idle_guard_abandoned"]++
		dl.logger.Debug("idle guard abandoned exhausted intention", "intention", in.ID)
	}
}

// perceive folds perceptions into beliefs and mirrors the emotion vector
// as self beliefs.
func (dl *Deliberation) perceive(perceptions []Perception) []*Belief {
	var out []*Belief
	for _, p := range perceptions {
		out = append(out, dl.agent.Beliefs.UpdateFromPerception(p)...)
	}
	for axis, v := range dl.agent.Emotions {
		dl.agent.Beliefs.Add(NewBelief(BeliefSelf, "self", "emotion_"+axis, fmt.Sprintf("%.2f", v), 1.0, "introspection"))
	}
	return out
}

// countTurns enforces the hard conversation limit.
func (dl *Deliberation) countTurns(perceptions []Perception) {
	for _, p := range perceptions {
		if p.Type != "communication" || p.Subject == UserID {
			continue
		}
		dl.turnCounts[p.Subject]++
		if dl.turnCounts[p.Subject] >= hardTurnLimit && !dl.forceQuitPartners[p.Subject] {
			dl.forceQuitPartners[p.Subject] = true
			dl.logger.Info("hard turn limit reached, flagging force quit",
				"partner", p.Subject, "turns", dl.turnCounts[p.Subject])
		}
	}
}

// backupIdleDrive injects a single idle desire when the agent has
// nothing at all to do.
func (dl *Deliberation) backupIdleDrive() {
	a := dl.agent
	if a.HasNonSocialPursuit() {
		return
	}
	for _, in := range a.Intentions {
		if !in.Terminal() {
			return
		}
	}
	if d := dl.gen.IdleDesire(a); d != nil {
		a.Desires = append(a.Desires, d)
	}
}

// interrupts runs the reactive suspension pass in precedence order. A
// world event outranks the operator only when no operator desire is
// already in flight.
func (dl *Deliberation) interrupts(res *CycleResult) {
	a := dl.agent

	order := []string{SourceWorldEvent, SourceUserMessage, SourceIncomingMessage}
	if dl.hasActiveSource(SourceUserMessage) {
		order = []string{SourceUserMessage, SourceWorldEvent, SourceIncomingMessage}
	}

	for _, source := range order {
		urgent := dl.firstActiveSource(source)
		if urgent == nil {
			continue
		}
		suspended := InterruptFor(a, urgent)
		if len(suspended) == 0 {
			continue
		}
		res.Suspended = append(res.Suspended, suspended...)
		res.Counters["interrupted"] += len(suspended)
		switch source {
		case SourceWorldEvent:
			res.Counters["event_interrupted"] += len(suspended)
		case SourceUserMessage:
			res.Counters["user_interrupted"] += len(suspended)
		}
		dl.logger.Debug("suspended intentions for urgent desire",
			"source", source, "count", len(suspended))
	}
}

func (dl *Deliberation) hasActiveSource(source string) bool {
	return dl.firstActiveSource(source) != nil
}

func (dl *Deliberation) firstActiveSource(source string) *Desire {
	for _, d := range dl.agent.Desires {
		if d.Source == source && d.Status == DesireActive {
			return d
		}
	}
	return nil
}

// analyzeConversations asks the advisor whether each running dialogue
// should continue, wind down, or be cut.
func (dl *Deliberation) analyzeConversations(ctx context.Context, in CycleInput, res *CycleResult) {
	if in.History == nil {
		return
	}
	a := dl.agent
	for _, intent := range a.Intentions {
		if intent.Status != IntentionActive || intent.Interruptible {
			continue
		}
		partner := intent.Target(a)
		if partner == "" || partner == UserID {
			continue
		}
		if dl.forceQuitPartners[partner] || dl.wrapUpIssued[partner] {
			continue
		}
		history := in.History(partner)
		if len(history) == 0 {
			continue
		}

		verdict, err := dl.advisor.AnalyzeConversationTurn(ctx, a.Profile(), history)
		if err != nil {
			// Inert filler so the plan does not stall on a dead advisor.
			intent.Plan.Steps = append(intent.Plan.Steps[:intent.CurrentStep],
				append([]*PlanStep{step(ActionThink, StepParams{Subject: "the conversation"}, "gather thoughts", 0.5)},
					intent.Plan.Steps[intent.CurrentStep:]...)...)
			continue
		}

		switch verdict {
		case advisor.VerdictForceQuit:
			dl.forceQuitPartners[partner] = true
			res.Counters["force_quit_count"]++
			dl.logger.Info("advisor verdict: force quit", "partner", partner)
		case advisor.VerdictWrapUp:
			dl.wrapUp(intent, partner)
			res.Counters["wrap_up_triggered"]++
		}
	}
}

// wrapUp swaps a running dialogue intention for a short farewell plan.
func (dl *Deliberation) wrapUp(intent *Intention, partner string) {
	a := dl.agent
	intent.Abandon("wrap up: winding down conversation")
	if d := a.DesireByID(intent.DesireID); d != nil {
		d.SetStatus(DesireAbandoned)
	}

	d := NewDesire("wrap up conversation with "+partner, 0.99, 1.0, MotivationSocial, SourceWrapUp)
	d.Context["target_agent"] = partner
	a.Desires = append(a.Desires, d)

	plan := NewPlan(d.Description, []*PlanStep{
		step(ActionSendMessage, StepParams{Target: partner, MessageType: "farewell"}, "say goodbye", 1.0),
		step(ActionEndConversation, StepParams{Target: partner}, "close the conversation", 0.5),
	})
	farewell := NewIntention(d, plan)
	farewell.Priority = 0.99
	d.SetStatus(DesirePursued)
	a.Intentions = append(a.Intentions, farewell)
	dl.wrapUpIssued[partner] = true
	dl.logger.Info("wrapping up conversation", "partner", partner)
}

// extendPlans grows a nearly exhausted dialogue plan when the partner's
// next message has arrived.
func (dl *Deliberation) extendPlans(ctx context.Context, in CycleInput) {
	a := dl.agent
	arrived := make(map[string]bool)
	for _, p := range in.Perceptions {
		if p.Type == "communication" {
			arrived[p.Subject] = true
		}
	}
	for _, d := range a.Desires {
		if d.Source == SourceIncomingMessage && d.Status == DesireActive {
			arrived[d.TargetAgent()] = true
		}
	}
	if len(arrived) == 0 {
		return
	}

	for _, intent := range a.Intentions {
		if intent.Status != IntentionActive || intent.Interruptible {
			continue
		}
		partner := intent.Target(a)
		if partner == "" || !arrived[partner] {
			continue
		}
		if dl.forceQuitPartners[partner] || dl.wrapUpIssued[partner] {
			continue
		}
		if intent.Plan.Remaining(intent.CurrentStep) > 1 {
			continue
		}
		var history []advisor.Turn
		if in.History != nil {
			history = in.History(partner)
		}
		dl.planner.ExtendConversationPlan(ctx, a, intent, a.DesireByID(intent.DesireID), false, history)
		dl.logger.Debug("extended conversation plan", "partner", partner)
	}
}

// selectIntention binds at most one new intention, or resumes suspended
// work when nothing urgent remains.
func (dl *Deliberation) selectIntention(ctx context.Context, res *CycleResult) {
	a := dl.agent
	if a.ActiveIntention() != nil {
		return
	}

	d := SelectDesire(a, time.Now())
	if d == nil {
		if !dl.urgentSocialPending() {
			if n := ResumeSuspended(a); n > 0 {
				res.Counters["resumed"] += n
			}
		}
		return
	}

	plan := dl.planner.PlanFor(ctx, a, d)
	if plan == nil || len(plan.Steps) == 0 {
		plan = NewPlan(d.Description, []*PlanStep{
			step(ActionObserve, StepParams{Subject: "surroundings"}, "look around", 1.0),
			step(ActionThink, StepParams{Subject: d.Description}, "consider the goal", 1.0),
		})
	}

	intent := NewIntention(d, plan)
	if d.Source == SourceWorldEvent || d.Source == SourceUserMessage {
		intent.Priority = 1.0
		intent.Interruptible = false
	}
	d.SetStatus(DesirePursued)
	if d.Source == SourceWorldEvent {
		// One-shot reaction: never re-selected for the same event.
		d.SetStatus(DesireAchieved)
	}
	a.Intentions = append(a.Intentions, intent)
	res.Counters["selected"]++
	dl.logger.Debug("bound new intention",
		"desire", d.Description, "source", d.Source, "tier", d.Tier())
}

func (dl *Deliberation) urgentSocialPending() bool {
	for _, d := range dl.agent.Desires {
		if d.Status != DesireActive {
			continue
		}
		switch d.Source {
		case SourceWorldEvent, SourceUserMessage, SourceIncomingMessage:
			return true
		}
	}
	return false
}
