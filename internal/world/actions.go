package world

import (
	"context"
	"fmt"
	"time"

	"github.com/agorasim/agora/internal/advisor"
	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/events"
	"github.com/agorasim/agora/internal/hub"
)

const defaultMaxWaitTicks = 4

// executeAction dispatches one harvested plan step. Every path confirms
// the step's outcome exactly once, except a wait step that is still
// waiting, which stays pending and re-emits next tick. A handler panic
// confirms the step as failed and the tick continues.
func (w *World) executeAction(ctx context.Context, rt *runtime, cmd bdi.ActionCommand) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("action handler panicked",
				"agent", rt.agent.ID, "action", string(cmd.Step.Action), "panic", fmt.Sprint(r))
			if !cmd.Step.Executed {
				cmd.Intention.ConfirmStep(cmd.StepIndex, false, fmt.Sprintf("handler panic: %v", r))
			}
		}
	}()

	switch cmd.Step.Action {
	case bdi.ActionInitiateConversation:
		w.execInitiate(rt, cmd)
	case bdi.ActionSendMessage, bdi.ActionRespondToMessage:
		w.execSend(ctx, rt, cmd)
	case bdi.ActionWaitForResponse:
		w.execWait(rt, cmd)
	case bdi.ActionEndConversation:
		w.execEnd(rt, cmd)
	case bdi.ActionMove:
		w.execMove(rt, cmd)
	case bdi.ActionThink, bdi.ActionObserve, bdi.ActionSearch, bdi.ActionWait,
		bdi.ActionExpress, bdi.ActionAcquire, bdi.ActionUse, bdi.ActionHelp,
		bdi.ActionRequest, bdi.ActionGive:
		w.execSolo(rt, cmd)
	default:
		w.logger.Warn("unknown action type", "agent", rt.agent.ID, "action", string(cmd.Step.Action))
		cmd.Intention.ConfirmStep(cmd.StepIndex, false, "unknown action type")
	}
}

// rejectSocial confirms the step as failed and rewinds the plan to its
// end-conversation step so the dialogue closes instead of hanging.
func (w *World) rejectSocial(rt *runtime, cmd bdi.ActionCommand, reason string) {
	w.logger.Debug("social step rejected",
		"agent", rt.agent.ID, "action", string(cmd.Step.Action), "reason", reason)
	cmd.Intention.ConfirmStep(cmd.StepIndex, false, reason)
	cmd.Intention.Plan.SkipToEndConversation(cmd.StepIndex + 1)
}

func (w *World) execInitiate(rt *runtime, cmd bdi.ActionCommand) {
	agentID := rt.agent.ID
	target := cmd.Step.Params.Target
	if target == "" {
		cmd.Intention.ConfirmStep(cmd.StepIndex, false, "no target")
		return
	}

	// The reserved user identifier bypasses every social gate.
	if target != bdi.UserID {
		partnerRT, known := w.agents[target]
		switch {
		case !known:
			w.rejectSocial(rt, cmd, "unknown agent "+target)
			return
		case rt.delib.Generator().PartnerOnCooldown(target, rt.agent.Personality):
			w.rejectSocial(rt, cmd, "partner on cooldown")
			return
		case rt.delib.Generator().GloballyBlocked(rt.agent.Personality):
			w.rejectSocial(rt, cmd, "resting after recent conversations")
			return
		case partnerRT.delib.Generator().GloballyBlocked(partnerRT.agent.Personality):
			w.rejectSocial(rt, cmd, "partner is resting")
			return
		case partnerRT.agent.SocialBattery < 0.05:
			w.rejectSocial(rt, cmd, "partner exhausted")
			return
		}
	}

	conv := w.hub.StartConversation(agentID, target, cmd.Step.Params.Topic)
	rt.agent.Beliefs.Add(bdi.NewBelief(bdi.BeliefSelf, "self", "current_conversation", conv.ID, 1.0, "observation"))

	w.logEvent(EventTypeConversationStart, "conversation started",
		[]string{agentID, target}, map[string]any{"conversation_id": conv.ID, "topic": conv.Topic})
	w.bus.Emit(events.SourceHub, events.KindConversationStart, map[string]any{
		"conversation_id": conv.ID, "initiator": agentID, "target": target, "topic": conv.Topic,
	})
	cmd.Intention.ConfirmStep(cmd.StepIndex, true, "conversation "+conv.ID)
}

func (w *World) execSend(ctx context.Context, rt *runtime, cmd bdi.ActionCommand) {
	agentID := rt.agent.ID
	params := cmd.Step.Params
	target := params.Target
	if target == "" {
		target = cmd.Intention.Plan.FirstTarget()
	}
	if target == "" {
		cmd.Intention.ConfirmStep(cmd.StepIndex, false, "no target")
		return
	}

	conv := w.hub.ActiveConversationBetween(agentID, target)
	if conv == nil && target != bdi.UserID {
		// No monologuing into a closed conversation.
		w.rejectSocial(rt, cmd, "no active conversation with "+target)
		return
	}

	desire := rt.agent.DesireByID(cmd.Intention.DesireID)
	bypass := desire != nil && desire.Context["bypass_battery"] == true

	content := w.generateContent(ctx, rt, desire, target, params)

	m := hub.NewMessage(agentID, target, content, hub.ParseMessageType(params.MessageType))
	if conv != nil {
		m.ConversationID = conv.ID
		if m.Topic = params.Topic; m.Topic == "" {
			m.Topic = conv.Topic
		}
	} else {
		m.Topic = params.Topic
	}
	m.Tone = params.Tone
	m.Emotion = dominantEmotion(rt.agent)
	m.InReplyTo = params.InReplyTo
	m.RequiresResponse = params.RequiresResponse
	if params.ResponseTimeout > 0 {
		m.ResponseTimeout = time.Duration(params.ResponseTimeout * float64(time.Second))
	}
	w.hub.SendMessage(m)
	w.recordTurn(agentID, target, rt.agent.Name, content)

	if target != bdi.UserID {
		affinity := w.adjustRelationship(agentID, target, 0.03)
		updateEmotionsFromDialogue(rt.agent, affinity)
	}
	if !bypass {
		drainBattery(rt.agent)
	}

	w.logEvent(EventTypeMessage, content, []string{agentID, target}, map[string]any{
		"message_id": m.ID, "message_type": string(m.Type), "conversation_id": m.ConversationID,
	})
	w.bus.Emit(events.SourceHub, events.KindMessageSent, map[string]any{
		"sender": agentID, "receiver": target,
		"message_type": string(m.Type), "conversation_id": m.ConversationID,
	})
	cmd.Intention.ConfirmStep(cmd.StepIndex, true, "sent "+m.ID)
}

// generateContent produces the outbound utterance: a canned busy line
// for deep-work rejections, otherwise an advisor call with the static
// pool as the error path.
func (w *World) generateContent(ctx context.Context, rt *runtime, desire *bdi.Desire, target string, params bdi.StepParams) string {
	if desire != nil && desire.Source == bdi.SourceDeepWorkReject {
		return advisor.BusyReply(rt.agent.ID)
	}

	req := advisor.UtteranceRequest{
		Profile:         rt.agent.Profile(),
		Context:         "talking with " + w.displayName(target),
		History:         lastTurns(w.History(rt.agent.ID, target), 5),
		MessageType:     params.MessageType,
		IncomingMessage: params.IncomingContent,
		Topic:           params.Topic,
		Tone:            params.Tone,
	}
	content, err := w.advisor.GenerateUtterance(ctx, req)
	if err != nil || content == "" {
		content, _ = advisor.NewStatic().GenerateUtterance(ctx, req)
	}
	return content
}

func (w *World) execWait(rt *runtime, cmd bdi.ActionCommand) {
	agentID := rt.agent.ID
	params := cmd.Step.Params
	expected := params.ExpectedFrom
	if expected == "" {
		expected = params.Target
	}

	var reply *hub.Message
	for _, m := range w.tickCache[agentID] {
		if m.SenderID == expected {
			reply = m
			break
		}
	}

	if reply != nil {
		delete(w.waitTicks, cmd.Intention.ID)
		switch reply.Type {
		case hub.TypeFarewell, hub.TypeAck:
			// Partner is closing; jump straight to our own farewell.
			cmd.Intention.ConfirmStep(cmd.StepIndex, true, "partner closed the conversation")
			cmd.Intention.Plan.SkipToEndConversation(cmd.StepIndex + 1)
		default:
			rt.agent.Beliefs.Add(bdi.NewBelief(bdi.BeliefEvent, "reply_"+reply.ID, "received", true, 1.0, "communication"))
			cmd.Intention.ConfirmStep(cmd.StepIndex, true, "reply received")
		}
		return
	}

	w.waitTicks[cmd.Intention.ID]++
	maxTicks := params.MaxTicks
	if maxTicks <= 0 {
		maxTicks = defaultMaxWaitTicks
	}
	if w.waitTicks[cmd.Intention.ID] < maxTicks {
		return // still waiting; the step stays pending and re-emits
	}

	delete(w.waitTicks, cmd.Intention.ID)

	// Last-moment recheck: the reply may have been sent this very tick
	// and is sitting in the inbox for the next drain.
	if w.hub.HasPendingFrom(agentID, expected) {
		cmd.Intention.ConfirmStep(cmd.StepIndex, true, "reply arrived within the tick")
		return
	}

	cmd.Step.TimedOut = true
	if params.OnTimeout == "continue" {
		cmd.Intention.ConfirmStep(cmd.StepIndex, true, "timed out, continuing")
		return
	}
	cmd.Intention.ConfirmStep(cmd.StepIndex, false, "timed out waiting for "+expected)
	cmd.Intention.Plan.SkipToEndConversation(cmd.StepIndex + 1)
}

func (w *World) execEnd(rt *runtime, cmd bdi.ActionCommand) {
	agentID := rt.agent.ID
	target := cmd.Step.Params.Target
	if target == "" {
		target = cmd.Intention.Plan.FirstTarget()
	}

	convID := ""
	if target != "" {
		if conv := w.hub.ActiveConversationBetween(agentID, target); conv != nil {
			convID = conv.ID
			w.hub.EndConversation(conv.ID)
		}
	}

	rt.agent.Beliefs.Remove(bdi.BeliefSelf, "self", "current_conversation")
	rt.delib.NotifyConversationEnded(target)
	if partnerRT, ok := w.agents[target]; ok {
		// Cooldowns start on both sides at once.
		partnerRT.delib.NotifyConversationEnded(agentID)
		partnerRT.agent.Beliefs.Remove(bdi.BeliefSelf, "self", "current_conversation")
	}

	w.logEvent(EventTypeConversationEnd, "conversation ended",
		[]string{agentID, target}, map[string]any{"conversation_id": convID})
	w.bus.Emit(events.SourceHub, events.KindConversationEnd, map[string]any{
		"conversation_id": convID, "participants": []string{agentID, target},
	})
	cmd.Intention.ConfirmStep(cmd.StepIndex, true, "conversation closed")
}

func (w *World) execMove(rt *runtime, cmd bdi.ActionCommand) {
	dest := cmd.Step.Params.Destination
	if dest == "" {
		dest = "around"
	}
	rt.agent.Beliefs.Add(bdi.NewBelief(bdi.BeliefSelf, "self", "location", dest, 1.0, "observation"))

	w.logEvent(EventTypeMove, rt.agent.Name+" moved to "+dest,
		[]string{rt.agent.ID}, map[string]any{"destination": dest})
	w.bus.Emit(events.SourceWorld, events.KindAgentMove, map[string]any{
		"agent": rt.agent.ID, "destination": dest,
	})

	rt.delib.Generator().MarkSoloAction(bdi.ActionMove)
	restoreBattery(rt.agent)
	cmd.Intention.ConfirmStep(cmd.StepIndex, true, "moved to "+dest)
}

func (w *World) execSolo(rt *runtime, cmd bdi.ActionCommand) {
	rt.delib.Generator().MarkSoloAction(cmd.Step.Action)
	restoreBattery(rt.agent)
	if cmd.Step.Action == bdi.ActionThink || cmd.Step.Action == bdi.ActionObserve {
		applyEmotionTrigger(rt.agent, "solitude")
	}
	cmd.Intention.ConfirmStep(cmd.StepIndex, true, string(cmd.Step.Action)+" done")
}
