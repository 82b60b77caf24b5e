// Package mock provides deterministic in-process capability
// implementations for tests and local development. None of them touch the
// network.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/companionkit/elio/core"
)

// Embedder generates deterministic embeddings from a text hash. Identical
// text always maps to the identical unit vector, which is enough for
// exercising storage and retrieval without a real model.
type Embedder struct {
	dims int
}

// NewEmbedder creates an embedder with all-MiniLM-L6-v2 dimensions.
func NewEmbedder() *Embedder {
	return &Embedder{dims: 384}
}

func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dims)
	for i := 0; i < m.dims; i++ {
		// LCG keeps the vector deterministic per input text.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

func (m *Embedder) Dimensions() int { return m.dims }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	scale := float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / scale
	}
	return out
}

// TextGenerator echoes a short canned reply. If Replies is non-empty it
// cycles through them in order instead.
type TextGenerator struct {
	Replies []string

	mu    sync.Mutex
	calls int
}

func (g *TextGenerator) Generate(ctx context.Context, prompt string, bundle *core.ContextBundle) (string, error) {
	g.mu.Lock()
	n := g.calls
	g.calls++
	g.mu.Unlock()

	if len(g.Replies) > 0 {
		return g.Replies[n%len(g.Replies)], nil
	}
	short := prompt
	if len(short) > 40 {
		short = short[:40]
	}
	return fmt.Sprintf("Mock reply #%d to %q", n+1, short), nil
}

// Synthesizer returns a tiny fake audio payload derived from the text.
type Synthesizer struct{}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	return append([]byte("RIFF"), []byte(text)...), nil
}

// Recognizer returns a fixed transcript, or fails when Err is set.
type Recognizer struct {
	Transcript string
	Err        error
}

func (r *Recognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: empty audio")
	}
	if r.Transcript != "" {
		return r.Transcript, nil
	}
	return fmt.Sprintf("(transcript of %d audio bytes)", len(audio)), nil
}

// ImageGenerator returns a minimal PNG-tagged payload embedding the prompt.
type ImageGenerator struct{}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (g *ImageGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("image generate: empty prompt")
	}
	return append(append([]byte{}, pngMagic...), []byte(prompt)...), nil
}
