//go:build onnx

// Package onnx provides a local Embedder backed by ONNX Runtime running an
// all-MiniLM-L6-v2 sentence-transformer export. It gives real semantic
// similarity fully offline; the mock embedder covers everything else.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const maxSeqLen = 128 // standard sequence length for MiniLM

// Config configures the embedder.
type Config struct {
	// ModelPath points to the exported model.onnx.
	ModelPath string

	// TokenizerPath points to the HuggingFace tokenizer.json holding the
	// WordPiece vocabulary.
	TokenizerPath string

	// LibraryPath points to libonnxruntime.so; falls back to the
	// ONNXRUNTIME_LIB environment variable.
	LibraryPath string

	// Dimensions is the embedding size (default 384).
	Dimensions int
}

// Embedder runs sentence embedding inference through ONNX Runtime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int64
	clsID      int64
	sepID      int64
	unkID      int64
	dimensions int
}

// New initializes the runtime, loads the vocabulary, and opens an
// inference session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_LIB")
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	e := &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
	}
	e.clsID = e.lookup("[CLS]")
	e.sepID = e.lookup("[SEP]")
	e.unkID = e.lookup("[UNK]")
	return e, nil
}

// Embed tokenizes the text, runs inference, mean-pools the hidden states
// over attended tokens, and returns a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := e.tokenize(text)
	inputIDs := make([]int64, maxSeqLen)
	attention := make([]int64, maxSeqLen)
	tokenTypes := make([]int64, maxSeqLen)

	inputIDs[0] = e.clsID
	attention[0] = 1
	n := len(tokens)
	if n > maxSeqLen-2 {
		n = maxSeqLen - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = tokens[i]
		attention[i+1] = 1
	}
	inputIDs[n+1] = e.sepID
	attention[n+1] = 1

	shape := ort.NewShape(1, int64(maxSeqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	return e.pool(tensor, attention)
}

func (e *Embedder) Dimensions() int { return e.dimensions }

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	return nil
}

// pool mean-pools [1, seq, hidden] hidden states over attended positions;
// a [1, hidden] output is taken as already pooled.
func (e *Embedder) pool(tensor *ort.Tensor[float32], attention []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	embedding := make([]float32, e.dimensions)
	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("onnx: output dimension mismatch: got %d, want %d", len(data), e.dimensions)
		}
		copy(embedding, data[:e.dimensions])
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != e.dimensions {
			return nil, fmt.Errorf("onnx: hidden size mismatch: got %d, want %d", hidden, e.dimensions)
		}
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			row := data[i*hidden : (i+1)*hidden]
			for j, v := range row {
				embedding[j] += v
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx: no attended tokens")
		}
		for j := range embedding {
			embedding[j] /= attended
		}
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(math.Sqrt(norm))
		for j := range embedding {
			embedding[j] /= scale
		}
	}
	return embedding, nil
}

func (e *Embedder) lookup(token string) int64 {
	if id, ok := e.vocab[token]; ok {
		return id
	}
	return 0
}

// tokenize performs greedy WordPiece over lowercased whitespace splits.
func (e *Embedder) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		ids = append(ids, e.wordpiece(word)...)
	}
	return ids
}

func (e *Embedder) wordpiece(word string) []int64 {
	var ids []int64
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		var match int64 = -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int64{e.unkID}
		}
		ids = append(ids, match)
		start = end
	}
	return ids
}

// loadVocab reads the vocabulary out of a HuggingFace tokenizer.json.
func loadVocab(path string) (map[string]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("no vocab entries in %s", path)
	}
	return doc.Model.Vocab, nil
}
