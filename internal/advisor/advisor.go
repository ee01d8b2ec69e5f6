// Package advisor defines the language-model advisory capability used by
// the deliberation engine, plus a deterministic fallback implementation.
// The engine treats the advisor as a hint source, never an oracle: every
// call site has a local fallback, so the simulation runs unchanged with
// no model available.
package advisor

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Profile carries the agent identity an advisory call reasons about.
// Personality and emotion axes are passed as plain maps so the advisor
// stays decoupled from the engine's internal types.
type Profile struct {
	Name          string
	ID            string
	Personality   map[string]float64
	Emotions      map[string]float64
	SocialBattery float64
}

// DesireProposal is one goal the advisor suggests for an agent.
type DesireProposal struct {
	Description string         `json:"description"`
	Priority    float64        `json:"priority"`
	Urgency     float64        `json:"urgency"`
	Motivation  string         `json:"motivation_type"`
	Context     map[string]any `json:"context,omitempty"`
}

// Turn is one entry of a conversation history passed to the advisor.
type Turn struct {
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

// Verdict is the advisor's assessment of an ongoing conversation.
type Verdict string

const (
	VerdictContinue  Verdict = "CONTINUE"
	VerdictWrapUp    Verdict = "WRAP_UP"
	VerdictForceQuit Verdict = "FORCE_QUIT"
)

// UtteranceRequest parameterizes single-message content generation.
type UtteranceRequest struct {
	Profile         Profile
	Context         string // free-form situation summary
	History         []Turn // last few turns, most recent last
	MessageType     string // greeting, question, answer, statement, farewell, ack
	IncomingMessage string // the message being replied to, if any
	Topic           string
	Tone            string
}

// Advisor is the capability interface the deliberation engine consumes.
// Implementations must honor ctx cancellation; callers bound every call
// with a timeout and fall back deterministically on error.
type Advisor interface {
	// ProposeDesires suggests 0-3 goals fitting the agent's personality
	// and recent perceptions. Longer lists are truncated by the caller.
	ProposeDesires(ctx context.Context, p Profile, recentPerceptions []string) ([]DesireProposal, error)

	// AnalyzeConversationTurn classifies whether a dialogue should
	// continue, wind down politely, or be cut off.
	AnalyzeConversationTurn(ctx context.Context, p Profile, history []Turn) (Verdict, error)

	// ProposeNextSteps suggests 1-2 next plan actions from the dialogue
	// action vocabulary. Unknown actions are filtered by the caller.
	ProposeNextSteps(ctx context.Context, p Profile, desireDescription string, history []Turn) ([]string, error)

	// GenerateUtterance produces one plain-text message.
	GenerateUtterance(ctx context.Context, req UtteranceRequest) (string, error)
}

// ValidSteps is the closed action vocabulary for ProposeNextSteps
// responses. Anything outside it is dropped.
var ValidSteps = map[string]bool{
	"send_message":          true,
	"wait_for_response":     true,
	"end_conversation":      true,
	"initiate_conversation": true,
	"respond_to_message":    true,
	"think":                 true,
}

// FilterSteps drops unknown actions and truncates to two.
func FilterSteps(steps []string) []string {
	var out []string
	for _, s := range steps {
		s = strings.ToLower(strings.TrimSpace(s))
		if ValidSteps[s] {
			out = append(out, s)
		}
		if len(out) == 2 {
			break
		}
	}
	return out
}

// ParseVerdict normalizes a model answer to a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(up, string(VerdictForceQuit)):
		return VerdictForceQuit, nil
	case strings.Contains(up, string(VerdictWrapUp)):
		return VerdictWrapUp, nil
	case strings.Contains(up, string(VerdictContinue)):
		return VerdictContinue, nil
	}
	return VerdictContinue, fmt.Errorf("unrecognized verdict %q", s)
}

// Static is the deterministic no-model advisor. Its answers are derived
// from the profile alone so behavior is reproducible in tests and when
// the model endpoint is down.
type Static struct{}

// NewStatic returns the fallback advisor.
func NewStatic() *Static { return &Static{} }

// ProposeDesires returns one personality-flavored desire: extroverted
// agents get a social goal, open agents a curiosity goal, the rest a
// reflective one.
func (s *Static) ProposeDesires(_ context.Context, p Profile, _ []string) ([]DesireProposal, error) {
	switch {
	case p.Personality["extraversion"] > 0.6 && p.SocialBattery > 0.5:
		return []DesireProposal{{
			Description: "find someone to chat with",
			Priority:    0.6, Urgency: 0.5,
			Motivation: "social",
		}}, nil
	case p.Personality["openness"] > 0.6:
		return []DesireProposal{{
			Description: "explore something new nearby",
			Priority:    0.5, Urgency: 0.4,
			Motivation: "curiosity",
		}}, nil
	default:
		return []DesireProposal{{
			Description: "reflect on recent experiences",
			Priority:    0.4, Urgency: 0.3,
			Motivation: "achievement",
		}}, nil
	}
}

// AnalyzeConversationTurn wraps up once the history grows long or the
// battery runs low, otherwise continues.
func (s *Static) AnalyzeConversationTurn(_ context.Context, p Profile, history []Turn) (Verdict, error) {
	if p.SocialBattery < 0.15 {
		return VerdictForceQuit, nil
	}
	if len(history) >= 8 || p.SocialBattery < 0.3 {
		return VerdictWrapUp, nil
	}
	return VerdictContinue, nil
}

// ProposeNextSteps alternates between waiting and replying based on
// whose turn the history suggests it is.
func (s *Static) ProposeNextSteps(_ context.Context, p Profile, _ string, history []Turn) ([]string, error) {
	if p.SocialBattery < 0.3 {
		return []string{"send_message", "end_conversation"}, nil
	}
	if len(history) > 0 && history[len(history)-1].SenderName == p.Name {
		return []string{"wait_for_response"}, nil
	}
	return []string{"send_message", "wait_for_response"}, nil
}

// GenerateUtterance picks from a small canned pool per message type,
// seeded by the speaker id and history length so repeated calls vary.
func (s *Static) GenerateUtterance(_ context.Context, req UtteranceRequest) (string, error) {
	pool, ok := cannedUtterances[strings.ToLower(req.MessageType)]
	if !ok {
		pool = cannedUtterances["statement"]
	}
	h := fnv.New32a()
	h.Write([]byte(req.Profile.ID))
	idx := (int(h.Sum32()) + len(req.History)) % len(pool)
	if idx < 0 {
		idx = -idx
	}
	return pool[idx], nil
}

var cannedUtterances = map[string][]string{
	"greeting": {
		"Hey! Got a minute to talk?",
		"Hi there, how is your day going?",
		"Hello! Good to see you around.",
	},
	"question": {
		"What have you been up to lately?",
		"How do you feel about the way things are going here?",
		"Anything interesting happen to you today?",
	},
	"answer": {
		"Not much, honestly. Just keeping busy.",
		"Things have been pretty calm on my end.",
		"Quite a bit, actually. It has been a full day.",
	},
	"statement": {
		"I was just thinking about that myself.",
		"That makes sense to me.",
		"Interesting. I had not looked at it that way.",
	},
	"farewell": {
		"I should get going. Good talking with you!",
		"Let's catch up again soon. Take care!",
		"I need to run, see you around!",
	},
	"ack": {
		"Got it.",
		"Understood.",
		"Okay.",
	},
	"busy": {
		"Sorry, I'm deep in something right now. Later?",
		"Can't talk at the moment, catch you after I finish this.",
	},
}

// BusyReply returns a canned deep-work rejection line.
func BusyReply(agentID string) string {
	pool := cannedUtterances["busy"]
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return pool[int(h.Sum32())%len(pool)]
}
