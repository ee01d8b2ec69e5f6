package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ollama is an Advisor backed by an Ollama-compatible chat endpoint.
// Every method degrades to the Static advisor's answer on transport or
// parse failure, so the caller's fallback path only has to handle the
// returned error for rate-limit accounting.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	fallback   *Static
	logger     *slog.Logger
}

// NewOllama creates an Ollama-backed advisor.
func NewOllama(baseURL, model string, timeout time.Duration, logger *slog.Logger) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		fallback:   NewStatic(),
		logger:     logger.With("component", "advisor"),
	}
}

// Ping checks whether the endpoint is reachable.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// chat sends a non-streaming chat request and returns the content.
func (o *Ollama) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Options: &chatOptions{Temperature: 0.8, NumPredict: maxTokens},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return chatResp.Message.Content, nil
}

func (o *Ollama) profileLine(p Profile) string {
	return fmt.Sprintf(
		"You are %s. Personality (0-1): openness %.2f, conscientiousness %.2f, extraversion %.2f, agreeableness %.2f, neuroticism %.2f. Social battery: %.2f.",
		p.Name,
		p.Personality["openness"], p.Personality["conscientiousness"],
		p.Personality["extraversion"], p.Personality["agreeableness"],
		p.Personality["neuroticism"], p.SocialBattery,
	)
}

func formatHistory(history []Turn) string {
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.SenderName, t.Content)
	}
	return b.String()
}

// ProposeDesires asks the model for up to three goals as a JSON array.
func (o *Ollama) ProposeDesires(ctx context.Context, p Profile, recentPerceptions []string) ([]DesireProposal, error) {
	system := o.profileLine(p) + " You decide what this character wants to do next in a small social simulation. Respond with ONLY a JSON array of 1-3 objects, each {\"description\", \"priority\" (0-1), \"urgency\" (0-1), \"motivation_type\" (one of survival, safety, social, esteem, achievement, curiosity)}."
	user := "Recent perceptions:\n" + strings.Join(recentPerceptions, "\n")

	content, err := o.chat(ctx, system, user, 400)
	if err != nil {
		o.logger.Warn("desire proposal failed", "error", err)
		return nil, err
	}

	proposals, err := parseDesireProposals(content)
	if err != nil {
		o.logger.Warn("desire proposal unparseable", "error", err)
		return nil, err
	}
	if len(proposals) > 3 {
		proposals = proposals[:3]
	}
	return proposals, nil
}

// parseDesireProposals extracts a JSON array from model output, tolerating
// surrounding prose and markdown fences.
func parseDesireProposals(content string) ([]DesireProposal, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var proposals []DesireProposal
	if err := json.Unmarshal([]byte(content[start:end+1]), &proposals); err != nil {
		return nil, fmt.Errorf("parse proposals: %w", err)
	}
	return proposals, nil
}

// AnalyzeConversationTurn asks for a single verdict keyword.
func (o *Ollama) AnalyzeConversationTurn(ctx context.Context, p Profile, history []Turn) (Verdict, error) {
	system := o.profileLine(p) + " Assess this conversation from your character's point of view. Answer with exactly one word: CONTINUE, WRAP_UP, or FORCE_QUIT."
	content, err := o.chat(ctx, system, formatHistory(history), 10)
	if err != nil {
		return VerdictContinue, err
	}
	v, err := ParseVerdict(content)
	if err != nil {
		o.logger.Warn("verdict unparseable", "response", content)
		return VerdictContinue, err
	}
	return v, nil
}

// ProposeNextSteps asks for the next 1-2 dialogue actions.
func (o *Ollama) ProposeNextSteps(ctx context.Context, p Profile, desireDescription string, history []Turn) ([]string, error) {
	system := o.profileLine(p) + " Choose the character's next 1-2 conversational actions. Respond with ONLY a JSON array of strings from: send_message, wait_for_response, end_conversation, respond_to_message, think."
	user := fmt.Sprintf("Current goal: %s\n\nConversation so far:\n%s", desireDescription, formatHistory(history))

	content, err := o.chat(ctx, system, user, 60)
	if err != nil {
		return nil, err
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var steps []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("parse steps: %w", err)
	}
	steps = FilterSteps(steps)
	if len(steps) == 0 {
		return nil, fmt.Errorf("no valid steps in response")
	}
	return steps, nil
}

// GenerateUtterance produces one in-character message. On failure the
// canned pool answers so dialogue never stalls on a dead endpoint.
func (o *Ollama) GenerateUtterance(ctx context.Context, req UtteranceRequest) (string, error) {
	system := o.profileLine(req.Profile) + fmt.Sprintf(
		" Write your character's next %s in a casual conversation. One or two sentences, plain text, no quotes, no narration.",
		strings.ToLower(req.MessageType))

	var user strings.Builder
	if req.Topic != "" {
		fmt.Fprintf(&user, "Topic: %s\n", req.Topic)
	}
	if req.Tone != "" {
		fmt.Fprintf(&user, "Tone: %s\n", req.Tone)
	}
	if req.Context != "" {
		fmt.Fprintf(&user, "Situation: %s\n", req.Context)
	}
	if len(req.History) > 0 {
		fmt.Fprintf(&user, "Conversation so far:\n%s", formatHistory(req.History))
	}
	if req.IncomingMessage != "" {
		fmt.Fprintf(&user, "You are replying to: %s\n", req.IncomingMessage)
	}

	content, err := o.chat(ctx, system, user.String(), 120)
	if err != nil {
		o.logger.Warn("utterance generation failed, using canned reply", "error", err)
		return o.fallback.GenerateUtterance(ctx, req)
	}
	content = strings.TrimSpace(strings.Trim(strings.TrimSpace(content), `"`))
	if content == "" {
		return o.fallback.GenerateUtterance(ctx, req)
	}
	return content, nil
}
