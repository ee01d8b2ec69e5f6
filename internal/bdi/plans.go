package bdi

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agorasim/agora/internal/advisor"
	"github.com/google/uuid"
)

// ActionType tags one executable plan step. Dispatch in the world loop
// is a closed table over these.
type ActionType string

const (
	ActionMove                 ActionType = "move"
	ActionObserve              ActionType = "observe"
	ActionThink                ActionType = "think"
	ActionSearch               ActionType = "search"
	ActionWait                 ActionType = "wait"
	ActionExpress              ActionType = "express"
	ActionAcquire              ActionType = "acquire"
	ActionUse                  ActionType = "use"
	ActionHelp                 ActionType = "help"
	ActionRequest              ActionType = "request"
	ActionGive                 ActionType = "give"
	ActionInitiateConversation ActionType = "initiate_conversation"
	ActionSendMessage          ActionType = "send_message"
	ActionWaitForResponse      ActionType = "wait_for_response"
	ActionRespondToMessage     ActionType = "respond_to_message"
	ActionEndConversation      ActionType = "end_conversation"
)

// Conversational reports whether executing this action counts as social
// activity (and therefore does not advance the solo-action counter).
func (a ActionType) Conversational() bool {
	switch a {
	case ActionInitiateConversation, ActionSendMessage, ActionWaitForResponse,
		ActionRespondToMessage, ActionEndConversation:
		return true
	}
	return false
}

// StepParams is the closed parameter set across all action variants.
// Each action reads only the fields it names.
type StepParams struct {
	Target           string  // conversation partner id
	Topic            string
	MessageType      string  // greeting, question, answer, statement, farewell, ack
	RequiresResponse bool
	ResponseTimeout  float64 // seconds, hub status labeling only
	Tone             string
	InReplyTo        string  // message id being answered
	IncomingContent  string  // content of the message being answered
	Destination      string  // move target
	Query            string  // search term
	Subject          string  // observe/think subject
	OnTimeout        string  // "end" or "continue"
	MaxTicks         int     // wait_for_response budget
	ExpectedFrom     string  // wait_for_response sender filter
}

// PlanStep is one executable unit. Executed/Success/TimedOut record the
// dispatch outcome.
type PlanStep struct {
	Action            ActionType
	Params            StepParams
	Description       string
	EstimatedDuration float64
	Executed          bool
	Success           bool
	TimedOut          bool
	Result            string
}

// Plan is an ordered step sequence built for one desire.
type Plan struct {
	ID             string
	Goal           string
	Steps          []*PlanStep
	EstimatedTotal float64
}

// NewPlan constructs a plan and totals the step durations.
func NewPlan(goal string, steps []*PlanStep) *Plan {
	id, _ := uuid.NewV7()
	p := &Plan{ID: id.String(), Goal: goal, Steps: steps}
	for _, s := range steps {
		p.EstimatedTotal += s.EstimatedDuration
	}
	return p
}

// Append adds steps and updates the duration total.
func (p *Plan) Append(steps ...*PlanStep) {
	p.Steps = append(p.Steps, steps...)
	for _, s := range steps {
		p.EstimatedTotal += s.EstimatedDuration
	}
}

// Remaining counts steps at or after current that have not executed.
func (p *Plan) Remaining(current int) int {
	n := 0
	for i := current; i < len(p.Steps); i++ {
		if !p.Steps[i].Executed {
			n++
		}
	}
	return n
}

// AllExecuted reports whether every step has run.
func (p *Plan) AllExecuted() bool {
	for _, s := range p.Steps {
		if !s.Executed {
			return false
		}
	}
	return len(p.Steps) > 0
}

// SkipToEndConversation marks every step from `from` up to the first
// end_conversation step as executed, failed, and timed out, and returns
// that step's index so execution lands on the farewell. With no
// end_conversation present, all remaining steps are marked and the plan
// length is returned.
func (p *Plan) SkipToEndConversation(from int) int {
	for i := from; i < len(p.Steps); i++ {
		if p.Steps[i].Action == ActionEndConversation {
			return i
		}
		p.Steps[i].Executed = true
		p.Steps[i].Success = false
		p.Steps[i].TimedOut = true
	}
	return len(p.Steps)
}

// FirstTarget returns the partner id from the first step that names one.
func (p *Plan) FirstTarget() string {
	for _, s := range p.Steps {
		if s.Params.Target != "" {
			return s.Params.Target
		}
	}
	return ""
}

// Planner materializes plans for desires and extends dialogue plans in
// flight with advisor-proposed steps.
type Planner struct {
	advisor advisor.Advisor
	logger  *slog.Logger
}

// NewPlanner creates a planner. The advisor must be non-nil; pass
// [advisor.NewStatic] for model-free operation.
func NewPlanner(adv advisor.Advisor, logger *slog.Logger) *Planner {
	return &Planner{advisor: adv, logger: logger.With("component", "planner")}
}

// PlanFor builds a plan for the selected desire. Dispatch runs on source
// first, then description vocabulary. Never returns nil; the generic
// think-observe plan is the catch-all.
func (pl *Planner) PlanFor(ctx context.Context, agent *Agent, d *Desire) *Plan {
	desc := strings.ToLower(d.Description)

	switch {
	case d.Source == SourceIncomingMessage || d.Source == SourceUserMessage ||
		d.Source == SourceDeepWorkReject || strings.HasPrefix(desc, "respond"):
		return pl.buildDialoguePlan(ctx, agent, d, false)

	case d.Source == SourceIdleDrive || d.Context["is_idle"] == true:
		return pl.buildIdlePlan(agent, d)

	case d.Source == SourceWorldEvent:
		return pl.buildEventReactionPlan(d)

	case IsSocialIntent(d.Description) && d.TargetAgent() != "":
		return pl.buildDialoguePlan(ctx, agent, d, true)

	case containsAny(desc, "move", "go to", "walk", "пойти", "идти", "прогул"):
		return NewPlan(d.Description, []*PlanStep{
			step(ActionMove, StepParams{Destination: pickDestination(desc)}, "walk somewhere new", 2.0),
		})

	case containsAny(desc, "learn", "study", "research", "explore", "изуч", "исслед", "узнать"):
		return NewPlan(d.Description, []*PlanStep{
			step(ActionMove, StepParams{Destination: "library"}, "head somewhere quiet", 2.0),
			step(ActionSearch, StepParams{Query: d.Description}, "look for material", 1.5),
			step(ActionObserve, StepParams{Subject: d.Description}, "take it in", 1.0),
			step(ActionThink, StepParams{Subject: d.Description}, "connect the pieces", 1.0),
		})

	case containsAny(desc, "reflect", "organize", "plan", "tidy", "размыш", "порядок", "организ"):
		return NewPlan(d.Description, []*PlanStep{
			step(ActionMove, StepParams{Destination: "quiet corner"}, "find a quiet spot", 1.5),
			step(ActionThink, StepParams{Subject: d.Description}, "work through it", 1.5),
			step(ActionObserve, StepParams{Subject: "surroundings"}, "check the result", 1.0),
		})

	default:
		return NewPlan(d.Description, []*PlanStep{
			step(ActionThink, StepParams{Subject: d.Description}, "consider the goal", 1.0),
			step(ActionObserve, StepParams{Subject: "surroundings"}, "look around", 1.0),
		})
	}
}

func step(a ActionType, p StepParams, desc string, dur float64) *PlanStep {
	return &PlanStep{Action: a, Params: p, Description: desc, EstimatedDuration: dur}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func pickDestination(desc string) string {
	switch {
	case strings.Contains(desc, "park"), strings.Contains(desc, "парк"):
		return "park"
	case strings.Contains(desc, "cafe"), strings.Contains(desc, "кафе"):
		return "cafe"
	default:
		return "plaza"
	}
}

// buildIdlePlan emits one low-effort solo step shaped by personality.
func (pl *Planner) buildIdlePlan(agent *Agent, d *Desire) *Plan {
	var s *PlanStep
	switch {
	case agent.Personality.Openness > 0.7:
		s = step(ActionObserve, StepParams{Subject: "something interesting"}, "watch the world go by", 1.0)
	case agent.Personality.Conscientiousness > 0.7:
		s = step(ActionThink, StepParams{Subject: "today's plans"}, "go over the day", 1.0)
	default:
		s = step(ActionMove, StepParams{Destination: "around"}, "wander a bit", 1.0)
	}
	return NewPlan(d.Description, []*PlanStep{s})
}

// buildEventReactionPlan is the one-shot response to an injected event.
func (pl *Planner) buildEventReactionPlan(d *Desire) *Plan {
	subject, _ := d.Context["event_description"].(string)
	if subject == "" {
		subject = d.Description
	}
	return NewPlan(d.Description, []*PlanStep{
		step(ActionObserve, StepParams{Subject: subject}, "assess what happened", 0.5),
		step(ActionExpress, StepParams{Subject: subject}, "react to it", 0.5),
		step(ActionThink, StepParams{Subject: subject}, "decide what it means", 0.5),
	})
}

// buildDialoguePlan assembles the fixed opening of a conversation plan
// and asks the advisor for the 1-2 steps that follow. initiator plans
// open with a greeting that expects a reply; responder plans answer the
// message that triggered them.
func (pl *Planner) buildDialoguePlan(ctx context.Context, agent *Agent, d *Desire, initiator bool) *Plan {
	target := d.TargetAgent()
	topic, _ := d.Context["topic"].(string)

	steps := []*PlanStep{
		step(ActionInitiateConversation, StepParams{Target: target, Topic: topic}, "open the conversation", 0.5),
	}
	if initiator {
		steps = append(steps, step(ActionSendMessage, StepParams{
			Target: target, Topic: topic, MessageType: "greeting", RequiresResponse: true,
		}, "say hello", 1.0))
	} else {
		incoming, _ := d.Context["incoming_content"].(string)
		inReplyTo, _ := d.Context["in_reply_to"].(string)
		mtype := "answer"
		if d.Source == SourceDeepWorkReject {
			mtype = "statement"
		}
		steps = append(steps, step(ActionRespondToMessage, StepParams{
			Target: target, Topic: topic, MessageType: mtype,
			IncomingContent: incoming, InReplyTo: inReplyTo,
		}, "reply", 1.0))
	}

	plan := NewPlan(d.Description, steps)

	if d.Source == SourceDeepWorkReject {
		// Busy signal: decline and close, no advisory continuation.
		plan.Append(
			step(ActionEndConversation, StepParams{Target: target}, "get back to work", 0.5),
		)
		return plan
	}

	plan.Append(pl.adviseContinuation(ctx, agent, d, target, nil, initiator)...)
	return plan
}

// adviseContinuation fetches 1-2 advisor steps and converts them, or
// falls back deterministically on failure: a low battery ends the
// conversation, otherwise wait out the reply then close.
func (pl *Planner) adviseContinuation(ctx context.Context, agent *Agent, d *Desire, target string, history []advisor.Turn, initiator bool) []*PlanStep {
	names, err := pl.advisor.ProposeNextSteps(ctx, agent.Profile(), d.Description, history)
	if err != nil || len(names) == 0 {
		if err != nil {
			pl.logger.Debug("next-step advisory failed, using fallback",
				"agent", agent.ID, "error", err)
		}
		if agent.SocialBattery < 0.3 {
			return []*PlanStep{
				step(ActionSendMessage, StepParams{Target: target, MessageType: "farewell"}, "say goodbye", 1.0),
				step(ActionEndConversation, StepParams{Target: target}, "close the conversation", 0.5),
			}
		}
		maxTicks := 4
		if !initiator {
			maxTicks = 6
		}
		return []*PlanStep{
			step(ActionWaitForResponse, StepParams{
				Target: target, ExpectedFrom: target, MaxTicks: maxTicks, OnTimeout: "end",
			}, "wait for a reply", 2.0),
			step(ActionEndConversation, StepParams{Target: target}, "close the conversation", 0.5),
		}
	}

	var out []*PlanStep
	for _, name := range names {
		out = append(out, pl.stepFromName(name, target, initiator))
	}
	return out
}

// stepFromName maps an advisor step keyword to a concrete plan step.
func (pl *Planner) stepFromName(name, target string, initiator bool) *PlanStep {
	switch name {
	case "send_message":
		return step(ActionSendMessage, StepParams{
			Target: target, MessageType: "question", RequiresResponse: true,
		}, "keep the conversation going", 1.0)
	case "wait_for_response":
		maxTicks := 4
		if !initiator {
			maxTicks = 6
		}
		return step(ActionWaitForResponse, StepParams{
			Target: target, ExpectedFrom: target, MaxTicks: maxTicks, OnTimeout: "end",
		}, "wait for a reply", 2.0)
	case "respond_to_message":
		return step(ActionRespondToMessage, StepParams{
			Target: target, MessageType: "answer",
		}, "answer them", 1.0)
	case "end_conversation":
		return step(ActionEndConversation, StepParams{Target: target}, "close the conversation", 0.5)
	case "initiate_conversation":
		return step(ActionInitiateConversation, StepParams{Target: target}, "open the conversation", 0.5)
	default:
		return step(ActionThink, StepParams{Subject: "the conversation"}, "gather thoughts", 0.5)
	}
}

// ExtendConversationPlan appends the next dialogue moves when the plan
// has nearly run out. With forceEnd, every unexecuted step is voided and
// a farewell pair is appended instead.
func (pl *Planner) ExtendConversationPlan(ctx context.Context, agent *Agent, in *Intention, d *Desire, forceEnd bool, history []advisor.Turn) {
	target := in.Plan.FirstTarget()
	if target == "" && d != nil {
		target = d.TargetAgent()
	}

	if forceEnd {
		for i := in.CurrentStep; i < len(in.Plan.Steps); i++ {
			s := in.Plan.Steps[i]
			if !s.Executed {
				s.Executed = true
				s.Success = false
				s.TimedOut = true
			}
		}
		in.Plan.Append(
			step(ActionSendMessage, StepParams{Target: target, MessageType: "farewell"}, "say goodbye", 1.0),
			step(ActionEndConversation, StepParams{Target: target}, "close the conversation", 0.5),
		)
		return
	}

	desc := ""
	if d != nil {
		desc = d.Description
	}
	names, err := pl.advisor.ProposeNextSteps(ctx, agent.Profile(), desc, history)
	if err != nil || len(names) == 0 {
		if err != nil {
			pl.logger.Debug("plan extension advisory failed, using fallback",
				"agent", agent.ID, "error", err)
		}
		names = []string{"respond_to_message", "wait_for_response"}
		if agent.SocialBattery < 0.3 {
			names = []string{"send_message", "end_conversation"}
		}
	}
	for _, name := range names {
		in.Plan.Append(pl.stepFromName(name, target, false))
	}
}
