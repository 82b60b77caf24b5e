package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/companionkit/elio/core"
)

// Node is one routed processing stage. The set of nodes is closed: the
// engine switches over the RoutingDecision's path, so adding a node means
// adding a path.
type Node interface {
	Name() string
	Execute(ctx context.Context, t *turnState) (*core.Response, error)
}

func (e *Engine) nodeFor(path core.Path) Node {
	switch path {
	case core.PathImage:
		return &imageNode{e}
	case core.PathAudio:
		return &audioNode{e}
	default:
		return &conversationNode{e}
	}
}

// conversationNode produces the plain text reply.
type conversationNode struct{ e *Engine }

func (n *conversationNode) Name() string { return "conversation" }

func (n *conversationNode) Execute(ctx context.Context, t *turnState) (*core.Response, error) {
	reply, err := n.e.generateText(ctx, t.inbound.Text(), t.bundle)
	if err != nil {
		return nil, err
	}
	t.reply = reply
	return &core.Response{Modality: core.ModalityText, Text: reply}, nil
}

// audioNode produces the text reply and renders it as speech. Synthesis
// failure falls back to the text response rather than failing the turn.
type audioNode struct{ e *Engine }

func (n *audioNode) Name() string { return "audio" }

func (n *audioNode) Execute(ctx context.Context, t *turnState) (*core.Response, error) {
	reply, err := n.e.generateText(ctx, t.inbound.Text(), t.bundle)
	if err != nil {
		return nil, err
	}
	t.reply = reply

	audio, err := n.e.synthesize(ctx, reply)
	if err != nil {
		n.e.log.Warn().Err(err).Msg("speech synthesis failed, falling back to text")
		return &core.Response{Modality: core.ModalityText, Text: reply, Degraded: true}, nil
	}
	return &core.Response{Modality: core.ModalityAudio, Text: reply, Binary: audio}, nil
}

// imageNode derives a scene prompt from the recent conversation, renders
// it, and produces a text reply acknowledging the attached image.
type imageNode struct{ e *Engine }

func (n *imageNode) Name() string { return "image" }

func (n *imageNode) Execute(ctx context.Context, t *turnState) (*core.Response, error) {
	scenario, err := n.e.generateText(ctx, n.scenarioPrompt(t), nil)
	if err != nil {
		return nil, err
	}
	scenario = strings.TrimSpace(scenario)

	image, err := n.e.generateImage(ctx, scenario)
	if err != nil {
		return nil, err
	}

	reply, err := n.e.generateText(ctx, fmt.Sprintf(imageAckPrompt, scenario), t.bundle)
	if err != nil {
		// The image exists; deliver it with a minimal caption.
		n.e.log.Warn().Err(err).Msg("image caption reply failed, sending image alone")
		t.reply = scenario
		return &core.Response{Modality: core.ModalityImage, Text: scenario, Binary: image, Degraded: true}, nil
	}
	t.reply = reply
	return &core.Response{Modality: core.ModalityImage, Text: reply, Binary: image}, nil
}

// scenarioPrompt folds the recent window into an image-scene instruction.
func (n *imageNode) scenarioPrompt(t *turnState) string {
	var b strings.Builder
	b.WriteString(scenarioInstruction)
	turns := t.bundle.Window
	if len(turns) > scenarioWindow {
		turns = turns[len(turns)-scenarioWindow:]
	}
	for _, turn := range turns {
		b.WriteString("\n")
		b.WriteString(string(turn.Origin))
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String()
}
