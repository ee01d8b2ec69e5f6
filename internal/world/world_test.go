package world

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/agorasim/agora/internal/advisor"
	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/hub"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAgent(id string, p bdi.Personality) *bdi.Agent {
	return bdi.NewAgent(id, id, "", p)
}

func newTestWorld(agents ...*bdi.Agent) *World {
	w := New(Options{
		Hub:     hub.New(nil, discard()),
		Advisor: advisor.NewStatic(),
		Logger:  discard(),
	})
	for _, a := range agents {
		w.AddAgent(a)
	}
	return w
}

func TestProcessTickColdStart(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{Extraversion: 0.7})
	b := testAgent("agent_b", bdi.Personality{Extraversion: 0.3})
	w := newTestWorld(a, b)

	w.ProcessTick(context.Background())

	if w.Tick() != 1 {
		t.Errorf("tick = %d, want 1", w.Tick())
	}
	if len(a.Desires) == 0 {
		t.Error("agent_a has no desires after the first tick")
	}
	if len(b.Desires) == 0 {
		t.Error("agent_b has no desires after the first tick")
	}
}

func TestSnapshotPublishedEachTick(t *testing.T) {
	w := newTestWorld(
		testAgent("agent_a", bdi.Personality{}),
		testAgent("agent_b", bdi.Personality{}),
	)

	// Before the first tick the snapshot is an empty frame, never nil.
	if snap := w.Snapshot(); snap == nil || len(snap.Agents) != 0 {
		t.Fatalf("pre-tick snapshot = %+v, want empty frame", snap)
	}

	w.ProcessTick(context.Background())
	w.ProcessTick(context.Background())

	snap := w.Snapshot()
	if snap.Tick != 2 {
		t.Errorf("snapshot tick = %d, want 2", snap.Tick)
	}
	if len(snap.Agents) != 2 {
		t.Errorf("snapshot agents = %d, want 2", len(snap.Agents))
	}
	if got := w.MeanBattery(); got <= 0 || got > 1 {
		t.Errorf("mean battery = %v, want in (0, 1]", got)
	}
}

func TestExternalUserMessageCreatesDesireWithoutDrain(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	w := newTestWorld(a, b)

	m := w.EnqueueExternalMessage(bdi.UserID, "agent_b", "how is the day going?", "", true)
	if m.Type != hub.TypeStatement {
		t.Errorf("external message type = %s, want statement", m.Type)
	}

	w.ProcessTick(context.Background())

	if !b.HasDesireWithSource(bdi.SourceUserMessage, bdi.DesireActive, bdi.DesirePursued, bdi.DesireAchieved) {
		t.Fatal("no user-message desire on the receiver after the tick")
	}
	if b.SocialBattery != 1.0 {
		t.Errorf("receiver battery = %v after user exchange, want 1.0 (bypass)", b.SocialBattery)
	}
}

func TestMessageDeliveredOnNextTick(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	w := newTestWorld(a, b)

	conv := w.hub.StartConversation("agent_a", "agent_b", "weather")
	m := hub.NewMessage("agent_a", "agent_b", "nice day, right?", hub.TypeQuestion)
	m.ConversationID = conv.ID
	w.hub.SendMessage(m)

	w.ProcessTick(context.Background())

	if !b.HasDesireWithSource(bdi.SourceIncomingMessage, bdi.DesireActive, bdi.DesirePursued, bdi.DesireAchieved) {
		t.Error("receiver did not react to the queued message on the next tick")
	}
}

func TestInjectEventBroadcastRaisesFear(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{Neuroticism: 0.5})
	b := testAgent("agent_b", bdi.Personality{Neuroticism: 0.5})
	w := newTestWorld(a, b)

	e := w.InjectEvent("fire alarm in the hallway", nil)
	if e.Type != EventTypeWorld {
		t.Errorf("broadcast event type = %s, want %s", e.Type, EventTypeWorld)
	}

	w.ProcessTick(context.Background())

	for _, agent := range []*bdi.Agent{a, b} {
		if agent.Emotions["fear"] <= 0.3 {
			t.Errorf("%s fear = %v after alarm, want > 0.3", agent.ID, agent.Emotions["fear"])
		}
		if !agent.HasDesireWithSource(bdi.SourceWorldEvent, bdi.DesireActive, bdi.DesirePursued, bdi.DesireAchieved) {
			t.Errorf("%s has no world-event desire", agent.ID)
		}
	}
}

func TestInjectEventTargetedSkipsOthers(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	w := newTestWorld(a, b)

	e := w.InjectEvent("a storm is coming", []string{"agent_a"})
	if e.Type != EventTypeUser {
		t.Errorf("targeted event type = %s, want %s", e.Type, EventTypeUser)
	}

	w.ProcessTick(context.Background())

	if a.Emotions["fear"] <= 0.3 {
		t.Errorf("targeted agent fear = %v, want raised", a.Emotions["fear"])
	}
	if b.Emotions["fear"] != 0.3 {
		t.Errorf("bystander fear = %v, want untouched 0.3", b.Emotions["fear"])
	}
}

func TestEventEmotionAppliedOnce(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	w := newTestWorld(a)

	w.InjectEvent("fire drill", nil)
	w.ProcessTick(context.Background())
	after := a.Emotions["fear"]

	// The event stays perceivable for a while but its impact must not
	// compound tick over tick.
	w.ProcessTick(context.Background())
	if a.Emotions["fear"] != after {
		t.Errorf("fear moved from %v to %v on re-perception, want stable", after, a.Emotions["fear"])
	}
}

// Rosters seed human-readable ids, so partner discovery must work from
// plain observation, not from any id naming convention.
func TestSocialDesireFindsPlainIDPartner(t *testing.T) {
	alice := bdi.NewAgent("alice", "Alice", "", bdi.Personality{Extraversion: 0.75})
	bob := bdi.NewAgent("bob", "Bob", "", bdi.Personality{Extraversion: 0.4})
	w := newTestWorld(alice, bob)

	w.ProcessTick(context.Background())

	var social *bdi.Desire
	for _, d := range alice.Desires {
		if d.Motivation == bdi.MotivationSocial {
			social = d
			break
		}
	}
	if social == nil {
		t.Fatal("extroverted agent produced no social desire on the first tick")
	}
	if got := social.TargetAgent(); got != "bob" {
		t.Errorf("social desire target = %q, want bob", got)
	}
}

func TestTwoAgentConversationLifecycle(t *testing.T) {
	alice := bdi.NewAgent("alice", "Alice", "", bdi.Personality{Extraversion: 0.75, Agreeableness: 0.6})
	bob := bdi.NewAgent("bob", "Bob", "", bdi.Personality{Extraversion: 0.5, Conscientiousness: 0.6})
	w := newTestWorld(alice, bob)

	aliceSpoke, bobSpoke := false, false
	for i := 0; i < 24; i++ {
		w.ProcessTick(context.Background())

		// Battery must drop on the tick an agent first speaks, before
		// solo-action recovery can mask the cost.
		for _, e := range w.RecentEvents(0) {
			if e.Type != EventTypeMessage || len(e.Participants) == 0 {
				continue
			}
			switch {
			case !aliceSpoke && e.Participants[0] == "alice":
				aliceSpoke = true
				if alice.SocialBattery >= 1.0 {
					t.Errorf("alice battery = %v after speaking, want < 1.0", alice.SocialBattery)
				}
			case !bobSpoke && e.Participants[0] == "bob":
				bobSpoke = true
				if bob.SocialBattery >= 1.0 {
					t.Errorf("bob battery = %v after speaking, want < 1.0", bob.SocialBattery)
				}
			}
		}

		if aliceSpoke && bobSpoke && w.hub.ActiveConversationBetween("alice", "bob") == nil {
			break
		}
	}

	var msgs []*Event
	started, ended := false, false
	for _, e := range w.RecentEvents(0) {
		switch e.Type {
		case EventTypeMessage:
			msgs = append(msgs, e)
		case EventTypeConversationStart:
			started = true
		case EventTypeConversationEnd:
			ended = true
		}
	}

	if len(msgs) < 3 {
		t.Fatalf("got %d messages, want a full exchange", len(msgs))
	}
	first := msgs[0]
	if first.Participants[0] != "alice" || first.Participants[1] != "bob" {
		t.Errorf("first message %v -> %v, want alice -> bob", first.Participants[0], first.Participants[1])
	}
	if mt := first.Data["message_type"]; mt != "greeting" {
		t.Errorf("first message type = %v, want greeting", mt)
	}
	if !bobSpoke {
		t.Error("bob never replied")
	}
	farewell := false
	for _, m := range msgs {
		if m.Data["message_type"] == "farewell" {
			farewell = true
		}
	}
	if !farewell {
		t.Error("conversation closed without a farewell")
	}
	if !started || !ended {
		t.Errorf("lifecycle events: started = %v, ended = %v, want both", started, ended)
	}
	if w.hub.ActiveConversationBetween("alice", "bob") != nil {
		t.Error("conversation still open after the exchange wound down")
	}
}

func TestAtomicForceQuitIsSymmetric(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	w := newTestWorld(a, b)

	conv := w.hub.StartConversation("agent_a", "agent_b", "gossip")

	bind := func(agent *bdi.Agent, partner string) *bdi.Intention {
		d := bdi.NewDesire("chat with "+partner, 0.7, 0.7, bdi.MotivationSocial, bdi.SourceLLMDynamic)
		d.Context["target_agent"] = partner
		d.SetStatus(bdi.DesirePursued)
		in := bdi.NewIntention(d, bdi.NewPlan("talk", []*bdi.PlanStep{
			{Action: bdi.ActionSendMessage, Params: bdi.StepParams{Target: partner}},
			{Action: bdi.ActionEndConversation, Params: bdi.StepParams{Target: partner}},
		}))
		agent.Desires = append(agent.Desires, d)
		agent.Intentions = append(agent.Intentions, in)
		return in
	}
	inA := bind(a, "agent_b")
	inB := bind(b, "agent_a")
	w.waitTicks[inA.ID] = 2

	w.atomicForceQuit(w.agents["agent_a"], "agent_b")

	if w.hub.ActiveConversationBetween("agent_a", "agent_b") != nil {
		t.Errorf("conversation %s still open after force quit", conv.ID)
	}
	if inA.Status != bdi.IntentionAbandoned || inB.Status != bdi.IntentionAbandoned {
		t.Errorf("intentions = %s / %s, want both abandoned", inA.Status, inB.Status)
	}
	if _, ok := w.waitTicks[inA.ID]; ok {
		t.Error("wait counter survived force quit")
	}
	for _, agent := range []*bdi.Agent{a, b} {
		for _, d := range agent.Desires {
			if d.Status != bdi.DesireAbandoned {
				t.Errorf("%s desire %q = %s, want abandoned", agent.ID, d.Description, d.Status)
			}
		}
	}
	if !w.agents["agent_a"].delib.Generator().GloballyBlocked(a.Personality) {
		t.Error("initiator cooldown not seeded")
	}
	if !w.agents["agent_b"].delib.Generator().GloballyBlocked(b.Personality) {
		t.Error("partner cooldown not seeded")
	}
}

func TestInitiateTowardUserBypassesGates(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	w := newTestWorld(a)
	rt := w.agents["agent_a"]

	// Resting after a conversation would block any peer initiate.
	rt.delib.Generator().MarkConversationEnded("agent_x")

	d := bdi.NewDesire("respond to user", 1.0, 1.0, bdi.MotivationSocial, bdi.SourceUserMessage)
	d.Context["target_agent"] = bdi.UserID
	in := bdi.NewIntention(d, bdi.NewPlan("reply", []*bdi.PlanStep{
		{Action: bdi.ActionInitiateConversation, Params: bdi.StepParams{Target: bdi.UserID}},
	}))
	a.Desires = append(a.Desires, d)
	a.Intentions = append(a.Intentions, in)

	cmd := bdi.ActionCommand{AgentID: "agent_a", Intention: in, StepIndex: 0, Step: in.Plan.Steps[0]}
	w.executeAction(context.Background(), rt, cmd)

	if !in.Plan.Steps[0].Success {
		t.Fatalf("initiate toward user failed: %s", in.Plan.Steps[0].Result)
	}
	if w.hub.ActiveConversationBetween("agent_a", bdi.UserID) == nil {
		t.Error("no open conversation with the user")
	}
}

func TestInitiateBlockedByRestPeriod(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	w := newTestWorld(a, b)
	rt := w.agents["agent_a"]

	rt.delib.Generator().MarkConversationEnded("agent_b")

	d := bdi.NewDesire("chat with agent_b", 0.7, 0.7, bdi.MotivationSocial, bdi.SourceLLMDynamic)
	d.Context["target_agent"] = "agent_b"
	in := bdi.NewIntention(d, bdi.NewPlan("talk", []*bdi.PlanStep{
		{Action: bdi.ActionInitiateConversation, Params: bdi.StepParams{Target: "agent_b"}},
	}))
	a.Desires = append(a.Desires, d)
	a.Intentions = append(a.Intentions, in)

	cmd := bdi.ActionCommand{AgentID: "agent_a", Intention: in, StepIndex: 0, Step: in.Plan.Steps[0]}
	w.executeAction(context.Background(), rt, cmd)

	if in.Plan.Steps[0].Success {
		t.Error("initiate succeeded during the rest period")
	}
	if w.hub.ActiveConversationBetween("agent_a", "agent_b") != nil {
		t.Error("conversation opened despite cooldown")
	}
}

func TestDeepWorkProducesDeclineDesire(t *testing.T) {
	a := testAgent("agent_a", bdi.Personality{})
	b := testAgent("agent_b", bdi.Personality{})
	b.SocialBattery = 0.1
	w := newTestWorld(a, b)

	conv := w.hub.StartConversation("agent_a", "agent_b", "help")
	m := hub.NewMessage("agent_a", "agent_b", "got a minute?", hub.TypeQuestion)
	m.ConversationID = conv.ID
	w.hub.SendMessage(m)

	w.ProcessTick(context.Background())

	if !w.agents["agent_b"].delib.Generator().DeepWorkActive() {
		t.Fatal("drained agent did not enter deep work")
	}
	if !b.HasDesireWithSource(bdi.SourceDeepWorkReject, bdi.DesireActive, bdi.DesirePursued, bdi.DesireAchieved) {
		t.Error("no decline desire for the incoming message during deep work")
	}
	if b.HasDesireWithSource(bdi.SourceIncomingMessage, bdi.DesireActive, bdi.DesirePursued) {
		t.Error("full response desire created despite deep work")
	}
}

func TestRelationshipClampAndSymmetry(t *testing.T) {
	w := newTestWorld(
		testAgent("agent_a", bdi.Personality{}),
		testAgent("agent_b", bdi.Personality{}),
	)

	w.adjustRelationship("agent_a", "agent_b", 2.5)
	if got := w.Relationship("agent_a", "agent_b"); got != 1.0 {
		t.Errorf("affinity = %v, want clamped to 1.0", got)
	}
	if w.Relationship("agent_b", "agent_a") != w.Relationship("agent_a", "agent_b") {
		t.Error("relationship is not symmetric")
	}

	w.adjustRelationship("agent_a", "agent_b", -5)
	if got := w.Relationship("agent_a", "agent_b"); got != -1.0 {
		t.Errorf("affinity = %v, want clamped to -1.0", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	w := newTestWorld(
		testAgent("agent_a", bdi.Personality{}),
		testAgent("agent_b", bdi.Personality{}),
	)

	for i := 0; i < historyCap+5; i++ {
		w.recordTurn("agent_a", "agent_b", "agent_a", "line")
	}
	if got := len(w.History("agent_a", "agent_b")); got != historyCap {
		t.Errorf("history length = %d, want %d", got, historyCap)
	}
}

// Operator messages arrive on API goroutines while the tick loop records
// turns of its own; both paths append to the shared dialogue history.
func TestExternalMessagesConcurrentWithTicks(t *testing.T) {
	w := newTestWorld(
		testAgent("agent_a", bdi.Personality{Extraversion: 0.7}),
		testAgent("agent_b", bdi.Personality{}),
	)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				w.EnqueueExternalMessage(bdi.UserID, "agent_b", "status check", "", false)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		w.ProcessTick(context.Background())
	}
	wg.Wait()

	if got := len(w.History(bdi.UserID, "agent_b")); got != historyCap {
		t.Errorf("history length = %d, want capped at %d", got, historyCap)
	}
}

func TestRecentEventsNewestLast(t *testing.T) {
	w := newTestWorld(testAgent("agent_a", bdi.Personality{}))

	w.InjectEvent("first", nil)
	w.InjectEvent("second", nil)
	w.InjectEvent("third", nil)

	evs := w.RecentEvents(2)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[1].Description != "third" {
		t.Errorf("last event = %q, want the newest", evs[1].Description)
	}
}

func TestEnqueueJoinsOpenConversation(t *testing.T) {
	w := newTestWorld(
		testAgent("agent_a", bdi.Personality{}),
		testAgent("agent_b", bdi.Personality{}),
	)

	conv := w.hub.StartConversation("agent_a", "agent_b", "plans")
	m := w.EnqueueExternalMessage("agent_a", "agent_b", "still on for later?", "", true)

	if m.ConversationID != conv.ID {
		t.Errorf("message conversation = %q, want %q", m.ConversationID, conv.ID)
	}
}

func TestSetTimeSpeedClamped(t *testing.T) {
	w := newTestWorld(testAgent("agent_a", bdi.Personality{}))

	if got := w.SetTimeSpeed(99); got != 10.0 {
		t.Errorf("SetTimeSpeed(99) = %v, want 10.0", got)
	}
	if got := w.SetTimeSpeed(0.001); got != 0.1 {
		t.Errorf("SetTimeSpeed(0.001) = %v, want 0.1", got)
	}
	if got := w.TimeSpeed(); got != 0.1 {
		t.Errorf("TimeSpeed() = %v, want the last applied value", got)
	}
}
