package bdi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agorasim/agora/internal/advisor"
)

// Social satiety and advisory pacing constants.
const (
	basePartnerCooldown = 120 * time.Second
	baseGlobalCooldown  = 90 * time.Second
	recentConvWindow    = 300 * time.Second
	minRestTicks        = 8
	minSoloActions      = 4
	advisoryCooldown    = 60 * time.Second
	desireCap           = 12
	introvertMultiplier = 2.0
)

// UserID is the reserved operator identifier. It is a capability, not an
// agent: messages from it bypass cooldowns, deep work, and battery drain.
const UserID = "user"

// Generator produces an agent's candidate goals each tick and owns the
// satiety state that gates social behavior: per-partner and global
// cooldowns, rest-tick and solo-action counters, the sliding window of
// recent conversations, the advisory rate limit, and the deep-work flag.
type Generator struct {
	agentID string
	advisor advisor.Advisor
	logger  *slog.Logger
	now     func() time.Time // injectable clock for tests

	conversationEndedAt   map[string]time.Time
	lastConversationEnded time.Time
	recentConvTimes       []time.Time
	ticksSinceConvEnded   int
	soloActionsSinceConv  int
	advisorLastCalled     time.Time

	deepWorkActive bool
	deepWorkReason string
}

// NewGenerator creates a generator for one agent.
func NewGenerator(agentID string, adv advisor.Advisor, logger *slog.Logger) *Generator {
	return &Generator{
		agentID:             agentID,
		advisor:             adv,
		logger:              logger.With("component", "desires", "agent", agentID),
		now:                 time.Now,
		conversationEndedAt: make(map[string]time.Time),
		// Counters start satisfied so a fresh agent is not socially blocked.
		ticksSinceConvEnded:  minRestTicks + 1,
		soloActionsSinceConv: minSoloActions + 1,
	}
}

// recentConversations prunes the sliding window and returns its size.
func (g *Generator) recentConversations(now time.Time) int {
	kept := g.recentConvTimes[:0]
	for _, t := range g.recentConvTimes {
		if now.Sub(t) <= recentConvWindow {
			kept = append(kept, t)
		}
	}
	g.recentConvTimes = kept
	return len(kept)
}

// cooldownScale is the shared multiplier on both cooldown bases:
// introversion doubles them and every recent conversation stretches
// them further.
func (g *Generator) cooldownScale(p Personality, now time.Time) float64 {
	scale := 1.0
	if p.Introvert() {
		scale = introvertMultiplier
	}
	return scale * (1 + float64(g.recentConversations(now)))
}

// PartnerOnCooldown reports whether a conversation with this partner
// ended too recently to start another.
func (g *Generator) PartnerOnCooldown(partner string, p Personality) bool {
	ended, ok := g.conversationEndedAt[partner]
	if !ok {
		return false
	}
	now := g.now()
	cooldown := time.Duration(float64(basePartnerCooldown) * g.cooldownScale(p, now))
	return now.Sub(ended) < cooldown
}

// GloballyBlocked reports whether the agent is in its post-conversation
// rest period. The block lifts only when the wall clock, the tick count,
// and the solo-action count have all recovered.
func (g *Generator) GloballyBlocked(p Personality) bool {
	if g.lastConversationEnded.IsZero() {
		return false
	}
	now := g.now()
	cooldown := time.Duration(float64(baseGlobalCooldown) * g.cooldownScale(p, now))
	if now.Sub(g.lastConversationEnded) < cooldown {
		return true
	}
	if g.ticksSinceConvEnded <= minRestTicks {
		return true
	}
	return g.soloActionsSinceConv <= minSoloActions
}

// DeepWorkActive reports whether the agent is refusing social contact.
func (g *Generator) DeepWorkActive() bool { return g.deepWorkActive }

// DeepWorkReason returns why deep work engaged, if it did.
func (g *Generator) DeepWorkReason() string { return g.deepWorkReason }

// evaluateDeepWork re-derives the flag once per generation call. A
// drained battery forces withdrawal; highly conscientious agents
// withdraw earlier. Exit requires the battery back at half.
func (g *Generator) evaluateDeepWork(a *Agent) {
	switch {
	case a.SocialBattery < 0.25:
		if !g.deepWorkActive {
			g.logger.Info("entering deep work", "reason", "battery exhausted", "battery", a.SocialBattery)
		}
		g.deepWorkActive = true
		g.deepWorkReason = "battery exhausted"
	case a.Personality.Conscientiousness > 0.75 && a.SocialBattery < 0.5:
		if !g.deepWorkActive {
			g.logger.Info("entering deep work", "reason", "focused disposition", "battery", a.SocialBattery)
		}
		g.deepWorkActive = true
		g.deepWorkReason = "focused disposition"
	case g.deepWorkActive && a.SocialBattery >= 0.5:
		g.logger.Info("leaving deep work", "battery", a.SocialBattery)
		g.deepWorkActive = false
		g.deepWorkReason = ""
	}
}

// MarkConversationEnded seeds this agent's cooldowns for the partner and
// resets the rest counters. Called for both sides when a conversation
// closes, so cooldown onset is symmetric.
func (g *Generator) MarkConversationEnded(partner string) {
	now := g.now()
	g.conversationEndedAt[partner] = now
	g.lastConversationEnded = now
	g.recentConvTimes = append(g.recentConvTimes, now)
	g.ticksSinceConvEnded = 0
	g.soloActionsSinceConv = 0
}

// MarkSoloAction advances the solo-action counter for non-conversational
// work.
func (g *Generator) MarkSoloAction(action ActionType) {
	if action.Conversational() {
		return
	}
	g.soloActionsSinceConv++
}

// Generate runs the full generation pipeline for one tick and returns
// the new desires to append: reactive desires from perceptions first,
// then the rate-limited advisory call, then the idle drive.
func (g *Generator) Generate(ctx context.Context, a *Agent, perceptions []Perception, activePartners map[string]bool) []*Desire {
	g.evaluateDeepWork(a)

	var out []*Desire
	out = append(out, g.reactiveDesires(a, perceptions, activePartners)...)

	g.ticksSinceConvEnded++

	out = append(out, g.advisedDesires(ctx, a, perceptions, activePartners)...)
	out = append(out, g.idleDrive(a, out)...)
	return out
}

// reactiveDesires converts urgent perceptions into goals.
func (g *Generator) reactiveDesires(a *Agent, perceptions []Perception, activePartners map[string]bool) []*Desire {
	var out []*Desire
	for _, p := range perceptions {
		switch p.Type {
		case "world_event":
			if d := g.worldEventDesire(a, p); d != nil {
				out = append(out, d)
			}
		case "communication":
			if p.Subject == UserID {
				out = append(out, g.userMessageDesire(p))
				continue
			}
			if d := g.incomingMessageDesire(a, p, append(out, a.Desires...), activePartners); d != nil {
				out = append(out, d)
			}
		}
	}
	return out
}

// worldEventDesire reacts once per event id.
func (g *Generator) worldEventDesire(a *Agent, p Perception) *Desire {
	eventID, _ := p.Data["event_id"].(string)
	if eventID == "" {
		return nil
	}
	for _, d := range a.Desires {
		if id, _ := d.Context["event_id"].(string); id == eventID {
			switch d.Status {
			case DesireActive, DesirePursued, DesireAchieved:
				return nil
			}
		}
	}
	description, _ := p.Data["description"].(string)
	d := NewDesire("react to event: "+description, 1.0, 1.0, MotivationWorldEvent, SourceWorldEvent)
	d.Context["event_id"] = eventID
	d.Context["event_description"] = description
	d.Context["interrupt_social"] = true
	return d
}

// userMessageDesire answers the reserved operator identifier. It skips
// every gate: no cooldown, no deep work, no battery drain.
func (g *Generator) userMessageDesire(p Perception) *Desire {
	content, _ := p.Data["content"].(string)
	d := NewDesire("respond to user", 1.0, 1.0, MotivationSocial, SourceUserMessage)
	d.Context["target_agent"] = UserID
	d.Context["bypass_battery"] = true
	d.Context["is_user_message"] = true
	d.Context["incoming_content"] = content
	if mid, ok := p.Data["message_id"].(string); ok {
		d.Context["in_reply_to"] = mid
	}
	if cid, ok := p.Data["conversation_id"].(string); ok {
		d.Context["conversation_id"] = cid
	}
	return d
}

// incomingMessageDesire decides whether a peer message earns a response
// desire. existing covers both stored desires and ones created earlier
// this call.
func (g *Generator) incomingMessageDesire(a *Agent, p Perception, existing []*Desire, activePartners map[string]bool) *Desire {
	sender := p.Subject
	msgType, _ := p.Data["message_type"].(string)

	switch strings.ToLower(msgType) {
	case "farewell", "ack":
		return nil // conversation is closing, no reply owed
	}
	if g.PartnerOnCooldown(sender, a.Personality) {
		g.logger.Debug("ignoring message, partner on cooldown", "sender", sender)
		return nil
	}
	if !activePartners[sender] {
		g.logger.Debug("ignoring stale trailing message", "sender", sender)
		return nil
	}
	if activePartners[UserID] {
		g.logger.Debug("ignoring peer message while engaged with user", "sender", sender)
		return nil
	}
	for _, d := range existing {
		if d.TargetAgent() != sender {
			continue
		}
		if d.Source != SourceIncomingMessage && d.Status == DesirePursued {
			return nil // already initiating toward this sender
		}
		if d.Source == SourceIncomingMessage && (d.Status == DesireActive || d.Status == DesirePursued) {
			return nil // respond desire already queued
		}
	}

	if g.deepWorkActive {
		for _, d := range existing {
			if d.Source == SourceDeepWorkReject && d.TargetAgent() == sender && !d.Terminal() {
				return nil
			}
		}
		d := NewDesire("decline conversation with "+sender, 0.6, 0.8, MotivationSocial, SourceDeepWorkReject)
		d.Context["target_agent"] = sender
		d.Context["deep_work_reason"] = g.deepWorkReason
		if cid, ok := p.Data["conversation_id"].(string); ok {
			d.Context["conversation_id"] = cid
		}
		return d
	}

	content, _ := p.Data["content"].(string)
	d := NewDesire("respond to "+sender, 0.90, 0.9, MotivationSocial, SourceIncomingMessage)
	d.Context["target_agent"] = sender
	d.Context["incoming_content"] = content
	if mid, ok := p.Data["message_id"].(string); ok {
		d.Context["in_reply_to"] = mid
	}
	if topic, ok := p.Data["topic"].(string); ok {
		d.Context["topic"] = topic
	}
	if cid, ok := p.Data["conversation_id"].(string); ok {
		d.Context["conversation_id"] = cid
	}
	return d
}

// advisedDesires runs the rate-limited advisory call and filters the
// proposals. Advisory failure still advances the rate limit so a dead
// endpoint is not hammered every tick.
func (g *Generator) advisedDesires(ctx context.Context, a *Agent, perceptions []Perception, activePartners map[string]bool) []*Desire {
	now := g.now()
	if now.Sub(g.advisorLastCalled) < advisoryCooldown {
		return nil
	}
	if a.HasNonSocialPursuit() {
		return nil
	}
	if activePartners[UserID] {
		return nil
	}
	if g.deepWorkActive {
		return nil
	}
	g.advisorLastCalled = now

	var recent []string
	for _, p := range perceptions {
		recent = append(recent, fmt.Sprintf("%s: %s %v", p.Type, p.Subject, p.Data))
	}

	proposals, err := g.advisor.ProposeDesires(ctx, a.Profile(), recent)
	if err != nil {
		g.logger.Debug("desire advisory failed, using fallback", "error", err)
		d := NewDesire("take a moment to think", 0.40, 0.4, MotivationAchievement, SourceLLMFallback)
		return []*Desire{d}
	}
	if len(proposals) > 3 {
		proposals = proposals[:3]
	}

	var out []*Desire
	for _, prop := range proposals {
		motivation := Motivation(strings.ToLower(prop.Motivation))
		social := motivation == MotivationSocial

		if social && g.GloballyBlocked(a.Personality) {
			continue
		}
		if social && a.SocialBattery < 0.2 {
			motivation = MotivationSafety
			social = false
		}

		var partner string
		if social {
			partner = g.findAvailablePartner(a)
			if partner == "" || g.PartnerOnCooldown(partner, a.Personality) {
				continue
			}
		}
		if g.duplicateDescription(a, out, prop.Description) {
			continue
		}

		priority := 0.40
		if social {
			priority = 0.65
		}
		d := NewDesire(prop.Description, priority, prop.Urgency, motivation, SourceLLMDynamic)
		d.PersonalityAlignment = 0.9
		if social {
			d.Context["target_agent"] = partner
		}
		for k, v := range prop.Context {
			d.Context[k] = v
		}
		out = append(out, d)
	}
	return out
}

// idleDrive synthesizes a low-priority solo goal when nothing non-social
// is in play, shaped by the dominant trait.
func (g *Generator) idleDrive(a *Agent, created []*Desire) []*Desire {
	if a.HasNonSocialPursuit() {
		return nil
	}
	for _, d := range created {
		if d.Motivation != MotivationSocial && d.Motivation != MotivationWorldEvent {
			return nil
		}
	}

	var description string
	switch {
	case a.Personality.Openness > 0.7:
		description = "look around for something curious"
	case a.Personality.Conscientiousness > 0.7:
		description = "organize thoughts and plans"
	default:
		description = "wander around aimlessly"
	}
	if g.duplicateDescription(a, created, description) {
		return nil
	}

	d := NewDesire(description, 0.10, 0.10, MotivationCuriosity, SourceIdleDrive)
	d.Context["is_idle"] = true
	return []*Desire{d}
}

// IdleDesire exposes the idle synthesis for the deliberation backup
// path.
func (g *Generator) IdleDesire(a *Agent) *Desire {
	ds := g.idleDrive(a, nil)
	if len(ds) == 0 {
		return nil
	}
	return ds[0]
}

func (g *Generator) duplicateDescription(a *Agent, created []*Desire, description string) bool {
	lower := strings.ToLower(description)
	for _, d := range a.Desires {
		if !d.Terminal() && strings.ToLower(d.Description) == lower {
			return true
		}
	}
	for _, d := range created {
		if strings.ToLower(d.Description) == lower {
			return true
		}
	}
	return false
}

// findAvailablePartner scans agent beliefs for a known peer who is not
// in a conversation. Falls back to the first known peer.
func (g *Generator) findAvailablePartner(a *Agent) string {
	first := ""
	seen := make(map[string]bool)
	for _, b := range a.Beliefs.ByType(BeliefAgent) {
		id := b.Subject
		if id == g.agentID || id == a.ID || seen[id] {
			continue
		}
		seen[id] = true
		if first == "" {
			first = id
		}
		busy := a.Beliefs.Get(BeliefAgent, id, "in_conversation")
		if busy == nil || busy.Value == false || busy.Value == "false" || busy.Value == nil {
			return id
		}
	}
	return first
}
