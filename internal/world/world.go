// Package world runs the simulation: the tick scheduler that drives
// every agent's deliberation cycle, assembles perceptions, dispatches
// plan steps, maintains relationships and the event log, and tears down
// conversations atomically.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agorasim/agora/internal/advisor"
	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/events"
	"github.com/agorasim/agora/internal/hub"
	"github.com/google/uuid"
)

const (
	eventLogCap        = 500
	eventPerceptionAge = 10 * time.Second
	processedEventsCap = 200
	historyCap         = 20
	minTickFloor       = 100 * time.Millisecond
	crashBackoff       = 2 * time.Second

	// Event log entry types.
	EventTypeUser              = "user_event"
	EventTypeWorld             = "world_event"
	EventTypeMove              = "move"
	EventTypeMessage           = "message"
	EventTypeConversationStart = "conversation_start"
	EventTypeConversationEnd   = "conversation_end"
	EventTypeForceQuit         = "force_quit"
)

// Event is one entry in the world's bounded event log.
type Event struct {
	ID           string
	Type         string
	Description  string
	Participants []string
	Data         map[string]any
	Timestamp    time.Time
}

// targets reports whether the event's audience includes the agent.
// An empty participant list means broadcast.
func (e *Event) targets(agentID string) bool {
	if len(e.Participants) == 0 {
		return true
	}
	for _, id := range e.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}

// EventRecorder persists event log entries. May be nil.
type EventRecorder interface {
	RecordEvent(e *Event)
}

// runtime couples an agent with its deliberation machinery.
type runtime struct {
	agent *bdi.Agent
	delib *bdi.Deliberation
}

// processedSet is a bounded insertion-ordered set of event ids.
type processedSet struct {
	ids   map[string]bool
	order []string
}

func (p *processedSet) add(id string) {
	if p.ids[id] {
		return
	}
	p.ids[id] = true
	p.order = append(p.order, id)
	for len(p.order) > processedEventsCap {
		delete(p.ids, p.order[0])
		p.order = p.order[1:]
	}
}

// World owns the agents and all cross-agent state. Agent BDI state is
// touched only from the tick goroutine; the mutex covers the pieces the
// operator API touches from its own goroutines (event log, pacing,
// dialogue history).
type World struct {
	hub      *hub.Hub
	advisor  advisor.Advisor
	bus      *events.Bus
	recorder EventRecorder
	logger   *slog.Logger

	mu        sync.Mutex
	eventLog  []*Event
	timeSpeed float64
	snapshot  *Snapshot
	history   map[string][]advisor.Turn

	agents          map[string]*runtime
	order           []string
	relationships   map[string]float64
	tickCache       map[string][]*hub.Message
	waitTicks       map[string]int
	processedEvents map[string]*processedSet

	baseTick time.Duration
	tick     uint64
}

// Options configures a world.
type Options struct {
	Hub       *hub.Hub
	Advisor   advisor.Advisor
	Bus       *events.Bus // may be nil
	Recorder  EventRecorder
	Logger    *slog.Logger
	BaseTick  time.Duration // defaults to 5s
	TimeSpeed float64       // defaults to 1.0, clamped to [0.1, 10]
}

// New creates an empty world. The reserved user identifier is
// registered on the hub up front so operator messages always have an
// inbox to land in.
func New(opts Options) *World {
	base := opts.BaseTick
	if base <= 0 {
		base = 5 * time.Second
	}
	speed := clampSpeed(opts.TimeSpeed)

	w := &World{
		hub:             opts.Hub,
		advisor:         opts.Advisor,
		bus:             opts.Bus,
		recorder:        opts.Recorder,
		logger:          opts.Logger.With("component", "world"),
		timeSpeed:       speed,
		agents:          make(map[string]*runtime),
		relationships:   make(map[string]float64),
		tickCache:       make(map[string][]*hub.Message),
		waitTicks:       make(map[string]int),
		processedEvents: make(map[string]*processedSet),
		history:         make(map[string][]advisor.Turn),
		baseTick:        base,
	}
	w.hub.RegisterAgent(bdi.UserID)
	return w
}

func clampSpeed(s float64) float64 {
	if s == 0 {
		return 1.0
	}
	if s < 0.1 {
		return 0.1
	}
	if s > 10.0 {
		return 10.0
	}
	return s
}

// AddAgent registers an agent with the world and the hub. Insertion
// order is the per-tick visit order.
func (w *World) AddAgent(a *bdi.Agent) {
	w.agents[a.ID] = &runtime{
		agent: a,
		delib: bdi.NewDeliberation(a, w.advisor, w.logger),
	}
	w.order = append(w.order, a.ID)
	w.hub.RegisterAgent(a.ID)
	w.processedEvents[a.ID] = &processedSet{ids: make(map[string]bool)}
	w.logger.Info("agent joined world", "agent", a.ID, "name", a.Name)
}

// Agent returns an agent by id, or nil.
func (w *World) Agent(id string) *bdi.Agent {
	if rt, ok := w.agents[id]; ok {
		return rt.agent
	}
	return nil
}

// AgentIDs returns agent ids in insertion order.
func (w *World) AgentIDs() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Hub exposes the communication hub.
func (w *World) Hub() *hub.Hub { return w.hub }

// Tick returns the completed tick count.
func (w *World) Tick() uint64 { return w.tick }

// SetTimeSpeed changes the pacing multiplier, clamped to [0.1, 10.0].
// Safe from any goroutine.
func (w *World) SetTimeSpeed(speed float64) float64 {
	s := clampSpeed(speed)
	w.mu.Lock()
	w.timeSpeed = s
	w.mu.Unlock()
	w.bus.Emit(events.SourceWorld, events.KindSpeedChange, map[string]any{"time_speed": s})
	w.logger.Info("time speed changed", "speed", s)
	return s
}

// TimeSpeed returns the current pacing multiplier.
func (w *World) TimeSpeed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeSpeed
}

// InjectEvent appends an operator event to the log. A non-empty agent
// list targets those agents (user_event); an empty list broadcasts
// (world_event). Safe from any goroutine.
func (w *World) InjectEvent(description string, agentIDs []string) *Event {
	id, _ := uuid.NewV7()
	etype := EventTypeWorld
	if len(agentIDs) > 0 {
		etype = EventTypeUser
	}
	e := &Event{
		ID:           "ev-" + id.String(),
		Type:         etype,
		Description:  description,
		Participants: agentIDs,
		Timestamp:    time.Now(),
	}
	w.appendEvent(e)
	w.bus.Emit(events.SourceWorld, events.KindWorldEvent, map[string]any{
		"event_id": e.ID, "description": description, "targets": agentIDs,
	})
	w.logger.Info("event injected", "event", e.ID, "type", etype, "description", description)
	return e
}

// logEvent records an engine-originated event log entry.
func (w *World) logEvent(etype, description string, participants []string, data map[string]any) {
	id, _ := uuid.NewV7()
	w.appendEvent(&Event{
		ID:           "ev-" + id.String(),
		Type:         etype,
		Description:  description,
		Participants: participants,
		Data:         data,
		Timestamp:    time.Now(),
	})
}

func (w *World) appendEvent(e *Event) {
	w.mu.Lock()
	w.eventLog = append(w.eventLog, e)
	if len(w.eventLog) > eventLogCap {
		w.eventLog = w.eventLog[len(w.eventLog)-eventLogCap:]
	}
	w.mu.Unlock()
	if w.recorder != nil {
		w.recorder.RecordEvent(e)
	}
}

// RecentEvents returns up to n log entries, newest last.
func (w *World) RecentEvents(n int) []*Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.eventLog) {
		n = len(w.eventLog)
	}
	out := make([]*Event, n)
	copy(out, w.eventLog[len(w.eventLog)-n:])
	return out
}

// EnqueueExternalMessage delivers an operator-constructed statement
// through the hub. Unknown receivers are logged and dropped by the hub.
// Safe from any goroutine.
func (w *World) EnqueueExternalMessage(senderID, receiverID, content, topic string, requiresResponse bool) *hub.Message {
	m := hub.NewMessage(senderID, receiverID, content, hub.TypeStatement)
	m.Topic = topic
	m.RequiresResponse = requiresResponse
	if c := w.hub.ActiveConversationBetween(senderID, receiverID); c != nil {
		m.ConversationID = c.ID
	}
	w.hub.SendMessage(m)
	w.recordTurn(senderID, receiverID, senderID, content)
	return m
}

// pairKey is the unordered relationship key.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Relationship returns the affinity between two ids, default 0.
func (w *World) Relationship(a, b string) float64 {
	return w.relationships[pairKey(a, b)]
}

// adjustRelationship bumps affinity, clamped to [-1, 1].
func (w *World) adjustRelationship(a, b string, delta float64) float64 {
	k := pairKey(a, b)
	v := w.relationships[k] + delta
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	w.relationships[k] = v
	return v
}

// recordTurn appends to the pairwise dialogue history used for advisory
// calls and utterance context. Called from the tick goroutine and from
// EnqueueExternalMessage on API goroutines, hence the lock.
func (w *World) recordTurn(a, b, senderName, content string) {
	k := pairKey(a, b)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history[k] = append(w.history[k], advisor.Turn{SenderName: senderName, Content: content})
	if len(w.history[k]) > historyCap {
		w.history[k] = w.history[k][len(w.history[k])-historyCap:]
	}
}

// History returns the recent dialogue between two ids, oldest first.
// Safe from any goroutine.
func (w *World) History(a, b string) []advisor.Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := w.history[pairKey(a, b)]
	out := make([]advisor.Turn, len(h))
	copy(out, h)
	return out
}

// lastTurns returns at most n trailing entries.
func lastTurns(h []advisor.Turn, n int) []advisor.Turn {
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// Run drives the tick loop until ctx is canceled. A tick that overruns
// its budget schedules the next one after a minimum floor rather than
// bursting to catch up. A panic inside a tick is logged and the loop
// resumes after a short pause.
func (w *World) Run(ctx context.Context) {
	w.logger.Info("world loop starting",
		"agents", len(w.order), "base_tick", w.baseTick, "time_speed", w.TimeSpeed())

	for {
		start := time.Now()
		w.safeTick(ctx)

		target := time.Duration(float64(w.baseTick) / w.TimeSpeed())
		sleep := target - time.Since(start)
		if sleep < minTickFloor {
			sleep = minTickFloor
		}

		select {
		case <-ctx.Done():
			w.logger.Info("world loop stopped", "ticks", w.tick)
			return
		case <-time.After(sleep):
		}
	}
}

// safeTick isolates a tick from panics: log, pause, continue.
func (w *World) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("tick panicked",
				"tick", w.tick, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			time.Sleep(crashBackoff)
		}
	}()
	w.ProcessTick(ctx)
}

// ProcessTick advances the world by one tick: drain every inbox into
// the tick cache, then visit agents in insertion order, running each
// one's cycle, consuming its force-quit set, and dispatching its
// actions before moving to the next agent.
func (w *World) ProcessTick(ctx context.Context) {
	start := time.Now()
	w.tick++

	clear(w.tickCache)
	for _, id := range w.order {
		w.tickCache[id] = w.hub.ReceiveMessages(id)
	}

	actionCount := 0
	for _, id := range w.order {
		rt := w.agents[id]

		activePartners := make(map[string]bool)
		for _, c := range w.hub.ActiveConversations(id) {
			if other := c.Other(id); other != "" {
				activePartners[other] = true
			}
		}

		perceptions := w.buildPerceptions(rt, w.tickCache[id])

		res := rt.delib.Cycle(ctx, bdi.CycleInput{
			Perceptions:    perceptions,
			ActivePartners: activePartners,
			History: func(partner string) []advisor.Turn {
				return w.History(id, partner)
			},
		})

		for _, partner := range rt.delib.ConsumeForceQuitPartners() {
			w.atomicForceQuit(rt, partner)
		}

		for _, cmd := range res.Actions {
			w.executeAction(ctx, rt, cmd)
			actionCount++
		}
	}

	w.pruneWaitCounters()
	w.publishSnapshot()

	w.bus.Emit(events.SourceWorld, events.KindTickComplete, map[string]any{
		"tick":        w.tick,
		"duration_ms": time.Since(start).Milliseconds(),
		"agents":      len(w.order),
		"actions":     actionCount,
	})
}

// pruneWaitCounters drops counters whose intention no longer runs.
func (w *World) pruneWaitCounters() {
	if len(w.waitTicks) == 0 {
		return
	}
	live := make(map[string]bool)
	for _, id := range w.order {
		for _, in := range w.agents[id].agent.Intentions {
			if !in.Terminal() {
				live[in.ID] = true
			}
		}
	}
	for id := range w.waitTicks {
		if !live[id] {
			delete(w.waitTicks, id)
		}
	}
}

// atomicForceQuit tears a conversation down symmetrically: close it in
// the hub, abandon every intention on either side that references the
// counterpart, and seed cooldowns on both. Runs to completion before
// any further dispatch.
func (w *World) atomicForceQuit(rt *runtime, partnerID string) {
	agentID := rt.agent.ID
	w.logger.Info("force quitting conversation", "agent", agentID, "partner", partnerID)

	convID := ""
	if c := w.hub.ActiveConversationBetween(agentID, partnerID); c != nil {
		convID = c.ID
		w.hub.EndConversation(c.ID)
	}
	w.logEvent(EventTypeForceQuit, "conversation force quit",
		[]string{agentID, partnerID}, map[string]any{"conversation_id": convID})
	w.bus.Emit(events.SourceWorld, events.KindForceQuit, map[string]any{
		"agent": agentID, "partner": partnerID, "conversation_id": convID,
	})

	w.severIntentions(rt, partnerID)
	if partnerRT, ok := w.agents[partnerID]; ok {
		w.severIntentions(partnerRT, agentID)
		partnerRT.delib.NotifyConversationEnded(agentID)
	}
	rt.delib.NotifyConversationEnded(partnerID)

	rt.agent.Beliefs.Remove(bdi.BeliefSelf, "self", "current_conversation")
	if partnerRT, ok := w.agents[partnerID]; ok {
		partnerRT.agent.Beliefs.Remove(bdi.BeliefSelf, "self", "current_conversation")
	}
}

// severIntentions abandons every non-terminal intention aimed at the
// counterpart and releases its desire and wait counter.
func (w *World) severIntentions(rt *runtime, counterpart string) {
	for _, in := range rt.agent.Intentions {
		if in.Terminal() || in.Target(rt.agent) != counterpart {
			continue
		}
		delete(w.waitTicks, in.ID)
		in.Abandon("conversation force quit with " + counterpart)
		if d := rt.agent.DesireByID(in.DesireID); d != nil {
			d.SetStatus(bdi.DesireAbandoned)
		}
	}
}
