// Package capability defines the external service interfaces consumed by
// the orchestration engine. Implementations are replaceable collaborators:
// this repo ships an Anthropic text generator, an ONNX embedder, and
// deterministic mocks, while production deployments can swap in anything
// that satisfies these interfaces.
package capability

import (
	"context"
	"time"

	"github.com/companionkit/elio/core"
)

// TextGenerator produces the companion's text output. The bundle carries
// activity, retrieved memories, summary, and the recent window; the
// implementation decides how to fold them into its prompt. A nil bundle
// means a bare utility call (e.g. summarization).
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, bundle *core.ContextBundle) (string, error)
}

// SpeechSynthesizer renders text as audio bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SpeechRecognizer transcribes audio bytes to text.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// ImageGenerator renders a prompt as image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Embedder converts text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ActivityProvider exposes what the companion is currently doing for a
// given timestamp.
type ActivityProvider interface {
	CurrentActivity(ctx context.Context, at time.Time) (core.ActivityDescriptor, error)
}
