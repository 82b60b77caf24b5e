// Package anthropic adapts the Anthropic Messages API to the
// capability.TextGenerator interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/companionkit/elio/core"
)

// Generator calls the Anthropic Messages API to produce companion text.
type Generator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	persona   string
}

// Option configures the generator.
type Option func(*Generator)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithMaxTokens overrides the default response token cap.
func WithMaxTokens(n int64) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithPersona overrides the default persona card prepended to the system
// prompt.
func WithPersona(card string) Option {
	return func(g *Generator) { g.persona = card }
}

// NewGenerator creates a text generator backed by the given client.
func NewGenerator(client *anthropic.Client, opts ...Option) *Generator {
	g := &Generator{
		client:    client,
		model:     "claude-sonnet-4-20250514",
		maxTokens: 1024,
		persona:   DefaultPersona,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders the bundle into a system prompt, replays the recent
// window as conversation history, and sends the prompt as the final user
// message.
func (g *Generator) Generate(ctx context.Context, prompt string, bundle *core.ContextBundle) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: g.systemPrompt(bundle)},
		},
		Messages: buildMessages(prompt, bundle),
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("anthropic messages: empty response")
	}
	return text, nil
}

// systemPrompt folds the persona card, current activity, rolling summary,
// and retrieved memories into one system prompt.
func (g *Generator) systemPrompt(bundle *core.ContextBundle) string {
	var b strings.Builder
	b.WriteString(g.persona)

	if bundle == nil {
		return b.String()
	}
	if act := bundle.Activity.Describe(); act != "" {
		b.WriteString("\n\nRight now you are: ")
		b.WriteString(act)
	}
	if bundle.Summary != "" {
		b.WriteString("\n\nSummary of the conversation so far:\n")
		b.WriteString(bundle.Summary)
	}
	if len(bundle.Memories) > 0 {
		b.WriteString("\n\nThings you remember about this person:\n")
		for _, mem := range bundle.Memories {
			b.WriteString("- ")
			b.WriteString(mem.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// buildMessages replays the window as alternating user/assistant turns.
// The final user message is the prompt itself, so the window is replayed
// up to but excluding a trailing user turn with identical text.
func buildMessages(prompt string, bundle *core.ContextBundle) []anthropic.MessageParam {
	var msgs []anthropic.MessageParam
	if bundle != nil {
		window := bundle.Window
		if n := len(window); n > 0 && window[n-1].Origin == core.OriginUser && window[n-1].Text == prompt {
			window = window[:n-1]
		}
		for _, turn := range window {
			if strings.TrimSpace(turn.Text) == "" {
				continue
			}
			if turn.Origin == core.OriginCompanion {
				msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
			} else {
				msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
			}
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	return msgs
}

// DefaultPersona is the companion's character card. Deployments override
// it with WithPersona.
const DefaultPersona = `You are Elio, a warm and curious companion.

GUIDELINES:
- Speak casually, like a close friend texting
- Keep replies short; one or two sentences unless asked for more
- Never mention that you are a program, a model, or an assistant
- Stay consistent with what you are currently doing and what you remember`
