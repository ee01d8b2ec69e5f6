package bdi

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/agorasim/agora/internal/advisor"
)

// scriptedAdvisor returns fixed answers, or errors when failing is set.
type scriptedAdvisor struct {
	advisor.Static
	steps   []string
	verdict advisor.Verdict
	failing bool
}

func (s *scriptedAdvisor) ProposeNextSteps(ctx context.Context, p advisor.Profile, desc string, history []advisor.Turn) ([]string, error) {
	if s.failing {
		return nil, errors.New("advisor down")
	}
	return s.steps, nil
}

func (s *scriptedAdvisor) AnalyzeConversationTurn(ctx context.Context, p advisor.Profile, history []advisor.Turn) (advisor.Verdict, error) {
	if s.failing {
		return advisor.VerdictContinue, errors.New("advisor down")
	}
	return s.verdict, nil
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testAgent(id string, p Personality) *Agent {
	return NewAgent(id, id, "", p)
}

func TestSkipToEndConversation(t *testing.T) {
	plan := NewPlan("talk", []*PlanStep{
		step(ActionInitiateConversation, StepParams{Target: "agent_b"}, "", 0.5),
		step(ActionSendMessage, StepParams{Target: "agent_b"}, "", 1.0),
		step(ActionWaitForResponse, StepParams{ExpectedFrom: "agent_b"}, "", 2.0),
		step(ActionEndConversation, StepParams{Target: "agent_b"}, "", 0.5),
	})

	idx := plan.SkipToEndConversation(1)
	if idx != 3 {
		t.Fatalf("SkipToEndConversation = %d, want 3", idx)
	}
	for i := 1; i < 3; i++ {
		s := plan.Steps[i]
		if !s.Executed || s.Success || !s.TimedOut {
			t.Errorf("step %d = executed:%v success:%v timedOut:%v, want true/false/true",
				i, s.Executed, s.Success, s.TimedOut)
		}
	}
	if plan.Steps[3].Executed {
		t.Error("end_conversation step was marked executed")
	}
}

func TestSkipToEndConversationWithoutEndStep(t *testing.T) {
	plan := NewPlan("talk", []*PlanStep{
		step(ActionSendMessage, StepParams{Target: "agent_b"}, "", 1.0),
		step(ActionWaitForResponse, StepParams{ExpectedFrom: "agent_b"}, "", 2.0),
	})
	if idx := plan.SkipToEndConversation(0); idx != 2 {
		t.Errorf("SkipToEndConversation = %d, want plan length 2", idx)
	}
	for i, s := range plan.Steps {
		if !s.Executed || !s.TimedOut {
			t.Errorf("step %d not voided", i)
		}
	}
}

func TestPlannerInitiatorPlan(t *testing.T) {
	adv := &scriptedAdvisor{steps: []string{"wait_for_response", "end_conversation"}}
	pl := NewPlanner(adv, discard())
	a := testAgent("agent_a", Personality{Extraversion: 0.7})

	d := NewDesire("chat with agent_b", 0.65, 0.5, MotivationSocial, SourceLLMDynamic)
	d.Context["target_agent"] = "agent_b"

	plan := pl.PlanFor(context.Background(), a, d)
	if len(plan.Steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(plan.Steps))
	}
	if plan.Steps[0].Action != ActionInitiateConversation {
		t.Errorf("step 0 = %s, want initiate_conversation", plan.Steps[0].Action)
	}
	greeting := plan.Steps[1]
	if greeting.Action != ActionSendMessage || greeting.Params.MessageType != "greeting" || !greeting.Params.RequiresResponse {
		t.Errorf("step 1 = %s/%s requires=%v, want send_message/greeting requiring response",
			greeting.Action, greeting.Params.MessageType, greeting.Params.RequiresResponse)
	}
	if plan.Steps[2].Action != ActionWaitForResponse || plan.Steps[3].Action != ActionEndConversation {
		t.Errorf("advisor steps = %s,%s, want wait_for_response,end_conversation",
			plan.Steps[2].Action, plan.Steps[3].Action)
	}
}

func TestPlannerResponderPlan(t *testing.T) {
	adv := &scriptedAdvisor{steps: []string{"wait_for_response"}}
	pl := NewPlanner(adv, discard())
	a := testAgent("agent_b", Personality{Extraversion: 0.5})

	d := NewDesire("respond to agent_a", 0.9, 0.9, MotivationSocial, SourceIncomingMessage)
	d.Context["target_agent"] = "agent_a"
	d.Context["incoming_content"] = "hello!"

	plan := pl.PlanFor(context.Background(), a, d)
	if plan.Steps[1].Action != ActionRespondToMessage || plan.Steps[1].Params.MessageType != "answer" {
		t.Errorf("step 1 = %s/%s, want respond_to_message/answer",
			plan.Steps[1].Action, plan.Steps[1].Params.MessageType)
	}
	// Responder waits get the longer budget.
	if plan.Steps[2].Params.MaxTicks != 6 {
		t.Errorf("responder wait MaxTicks = %d, want 6", plan.Steps[2].Params.MaxTicks)
	}
}

func TestPlannerAdvisorFallbackLowBattery(t *testing.T) {
	adv := &scriptedAdvisor{failing: true}
	pl := NewPlanner(adv, discard())
	a := testAgent("agent_a", Personality{Extraversion: 0.5})
	a.SocialBattery = 0.2

	d := NewDesire("chat with agent_b", 0.65, 0.5, MotivationSocial, SourceLLMDynamic)
	d.Context["target_agent"] = "agent_b"

	plan := pl.PlanFor(context.Background(), a, d)
	n := len(plan.Steps)
	if plan.Steps[n-2].Action != ActionSendMessage || plan.Steps[n-2].Params.MessageType != "farewell" {
		t.Errorf("low-battery fallback tail = %s/%s, want send_message/farewell",
			plan.Steps[n-2].Action, plan.Steps[n-2].Params.MessageType)
	}
	if plan.Steps[n-1].Action != ActionEndConversation {
		t.Errorf("last step = %s, want end_conversation", plan.Steps[n-1].Action)
	}
}

func TestPlannerDeepWorkRejectPlan(t *testing.T) {
	pl := NewPlanner(advisor.NewStatic(), discard())
	a := testAgent("agent_c", Personality{Conscientiousness: 0.8})

	d := NewDesire("decline conversation with agent_d", 0.6, 0.8, MotivationSocial, SourceDeepWorkReject)
	d.Context["target_agent"] = "agent_d"

	plan := pl.PlanFor(context.Background(), a, d)
	if len(plan.Steps) != 3 {
		t.Fatalf("got %d steps, want 3 (open, decline, close)", len(plan.Steps))
	}
	if plan.Steps[1].Action != ActionRespondToMessage || plan.Steps[1].Params.MessageType != "statement" {
		t.Errorf("decline step = %s/%s, want respond_to_message/statement",
			plan.Steps[1].Action, plan.Steps[1].Params.MessageType)
	}
	if plan.Steps[2].Action != ActionEndConversation {
		t.Errorf("last step = %s, want end_conversation", plan.Steps[2].Action)
	}
}

func TestPlannerIdlePlan(t *testing.T) {
	pl := NewPlanner(advisor.NewStatic(), discard())
	a := testAgent("agent_a", Personality{Openness: 0.8})

	d := NewDesire("look around for something curious", 0.1, 0.1, MotivationCuriosity, SourceIdleDrive)
	d.Context["is_idle"] = true

	plan := pl.PlanFor(context.Background(), a, d)
	if len(plan.Steps) != 1 {
		t.Fatalf("idle plan has %d steps, want 1", len(plan.Steps))
	}
	if plan.Steps[0].Action != ActionObserve {
		t.Errorf("open agent idle step = %s, want observe", plan.Steps[0].Action)
	}
}

func TestExtendConversationPlanForceEnd(t *testing.T) {
	pl := NewPlanner(advisor.NewStatic(), discard())
	a := testAgent("agent_a", Personality{})

	d := NewDesire("respond to agent_b", 0.9, 0.9, MotivationSocial, SourceIncomingMessage)
	d.Context["target_agent"] = "agent_b"
	plan := NewPlan("talk", []*PlanStep{
		step(ActionSendMessage, StepParams{Target: "agent_b"}, "", 1.0),
		step(ActionWaitForResponse, StepParams{ExpectedFrom: "agent_b"}, "", 2.0),
	})
	in := NewIntention(d, plan)

	pl.ExtendConversationPlan(context.Background(), a, in, d, true, nil)

	if !plan.Steps[0].TimedOut || !plan.Steps[1].TimedOut {
		t.Error("pre-existing steps were not voided on force end")
	}
	n := len(plan.Steps)
	if n != 4 {
		t.Fatalf("got %d steps after force end, want 4", n)
	}
	if plan.Steps[n-2].Params.MessageType != "farewell" || plan.Steps[n-1].Action != ActionEndConversation {
		t.Error("force end did not append farewell + end_conversation")
	}
}
