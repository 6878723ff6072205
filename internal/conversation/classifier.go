package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
)

const defaultHistoryWindow = 20

// LLMClassifier asks a language model for the next intent and tool call.
type LLMClassifier struct {
	client LLMClient
	prompt PromptConfig
	model  string
	window int
	now    func() time.Time
}

type ClassifierOption func(*LLMClassifier)

// WithModel overrides the provider's default model id.
func WithModel(model string) ClassifierOption {
	return func(c *LLMClassifier) { c.model = model }
}

// WithHistoryWindow bounds how many past messages are sent per turn.
func WithHistoryWindow(n int) ClassifierOption {
	return func(c *LLMClassifier) {
		if n > 0 {
			c.window = n
		}
	}
}

func WithClassifierClock(now func() time.Time) ClassifierOption {
	return func(c *LLMClassifier) { c.now = now }
}

func NewLLMClassifier(client LLMClient, prompt PromptConfig, opts ...ClassifierOption) *LLMClassifier {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	c := &LLMClassifier{client: client, prompt: prompt, window: defaultHistoryWindow, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LLMClassifier) Classify(ctx context.Context, history []dispatch.Message, sess *session.Context) (dispatch.Classification, error) {
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	msgs := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: m.Role, Content: m.Content})
	}
	resp, err := c.client.Complete(ctx, LLMRequest{
		Model:       c.model,
		System:      []string{buildSystemPrompt(c.prompt, sess, c.now())},
		Messages:    msgs,
		JSON:        true,
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		return dispatch.Classification{}, fmt.Errorf("conversation: classify: %w", err)
	}
	return parseClassification(resp.Text)
}

var errEmptyCompletion = errors.New("conversation: empty completion")

type rawClassification struct {
	Intent string          `json:"intent"`
	Tool   json.RawMessage `json:"tool"`
	Reply  string          `json:"reply"`
}

// parseClassification reads the model's JSON. Text that is not JSON becomes a
// general reply so the patient still gets an answer.
func parseClassification(text string) (dispatch.Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return dispatch.Classification{}, errEmptyCompletion
	}
	body := stripFences(text)
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return dispatch.Classification{Intent: dispatch.IntentGeneral, Reply: text}, nil
	}

	var raw rawClassification
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return dispatch.Classification{Intent: dispatch.IntentGeneral, Reply: text}, nil
	}
	out := dispatch.Classification{
		Intent: dispatch.ParseIntent(strings.ToLower(strings.TrimSpace(raw.Intent))),
		Reply:  strings.TrimSpace(raw.Reply),
		Tool:   parseTool(raw.Tool),
	}
	return out, nil
}

func parseTool(raw json.RawMessage) *dispatch.ToolCall {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var name string
	if json.Unmarshal(raw, &name) == nil {
		if name = strings.TrimSpace(name); name == "" {
			return nil
		}
		return &dispatch.ToolCall{Name: name}
	}
	var call struct {
		Name      string         `json:"name"`
		Args      map[string]any `json:"args"`
		Arguments map[string]any `json:"arguments"`
	}
	if json.Unmarshal(raw, &call) != nil || strings.TrimSpace(call.Name) == "" {
		return nil
	}
	args := call.Args
	if args == nil {
		args = call.Arguments
	}
	return &dispatch.ToolCall{Name: strings.TrimSpace(call.Name), Args: args}
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
