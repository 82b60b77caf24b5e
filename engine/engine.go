// Package engine executes the orchestration graph for one inbound message
// at a time per session: store-long-term, context injection, routing, one
// processing node, and a conditional summarization pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/companionkit/elio/capability"
	"github.com/companionkit/elio/core"
	"github.com/companionkit/elio/injector"
	"github.com/companionkit/elio/memory"
	"github.com/companionkit/elio/router"
)

// Capabilities bundles the external collaborators injected at
// construction time. Text, Embedder, and Activity are required; Speech,
// Recognizer, and Image may be nil, which degrades the corresponding
// paths to text.
type Capabilities struct {
	Text       capability.TextGenerator
	Speech     capability.SpeechSynthesizer
	Recognizer capability.SpeechRecognizer
	Image      capability.ImageGenerator
	Embedder   capability.Embedder
	Activity   capability.ActivityProvider
}

// Config bounds the engine's memory and patience.
type Config struct {
	// ShortTermCapacity is C: reaching it at end of turn triggers
	// summarization.
	ShortTermCapacity int

	// KeepRecent is M (< C): raw turns preserved untouched through a
	// compaction.
	KeepRecent int

	// CapabilityTimeout caps every external capability call.
	CapabilityTimeout time.Duration

	// Context bounds the per-turn bundle.
	Context injector.Config
}

// DefaultConfig mirrors the companion's production defaults.
func DefaultConfig() *Config {
	return &Config{
		ShortTermCapacity: 20,
		KeepRecent:        5,
		CapabilityTimeout: 30 * time.Second,
		Context:           injector.DefaultConfig(),
	}
}

// Engine is the orchestrator. Construct with New; all external services
// arrive as capability interfaces, never as package-level state.
type Engine struct {
	caps     Capabilities
	short    memory.ShortTermStore
	long     memory.LongTermStore
	injector *injector.Injector
	cfg      *Config
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default is a disabled logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over the given capabilities and memory stores.
func New(caps Capabilities, short memory.ShortTermStore, long memory.LongTermStore, cfg *Config, opts ...Option) (*Engine, error) {
	if caps.Text == nil {
		return nil, fmt.Errorf("engine: TextGenerator capability is required")
	}
	if caps.Embedder == nil {
		return nil, fmt.Errorf("engine: Embedder capability is required")
	}
	if caps.Activity == nil {
		return nil, fmt.Errorf("engine: ActivityProvider capability is required")
	}
	if short == nil || long == nil {
		return nil, fmt.Errorf("engine: both memory stores are required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.KeepRecent >= cfg.ShortTermCapacity {
		return nil, fmt.Errorf("engine: KeepRecent (%d) must be smaller than ShortTermCapacity (%d)",
			cfg.KeepRecent, cfg.ShortTermCapacity)
	}

	e := &Engine{
		caps:  caps,
		short: short,
		long:  long,
		cfg:   cfg,
		log:   zerolog.Nop(),
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	// The injector's capability calls run under the same per-call timeout
	// as the engine's own, unless explicitly configured otherwise.
	injCfg := cfg.Context
	if injCfg.CallTimeout <= 0 {
		injCfg.CallTimeout = cfg.CapabilityTimeout
	}
	e.injector = injector.New(caps.Activity, caps.Embedder, long, short, injCfg, e.log)
	return e, nil
}

// HandleInboundMessage runs one message through the graph under the
// session's lock. The only error ever returned is InvalidMessageError;
// every other failure degrades into the Response.
func (e *Engine) HandleInboundMessage(ctx context.Context, sessionID string, msg core.Message) (*core.Response, error) {
	msg.SessionID = sessionID
	if msg.Origin == "" {
		msg.Origin = core.OriginUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return e.process(ctx, msg), nil
}

// sessionLock returns the mutex serializing turns for one session.
// Different sessions run fully concurrently.
func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// turnState threads one message's progress through the graph. It is
// created fresh per turn; deltas to durable state go through the stores.
type turnState struct {
	id       string
	state    State
	inbound  memory.ShortTermRecord
	bundle   *core.ContextBundle
	decision core.RoutingDecision
	reply    string
	degraded bool
}

func (t *turnState) advance(s State) { t.state = s }

// process is the single pass through the graph. It always reaches
// StateEnd with a Response.
func (e *Engine) process(ctx context.Context, msg core.Message) *core.Response {
	t := &turnState{
		id:      uuid.New().String(),
		state:   StateStart,
		inbound: memory.ShortTermRecord{Message: msg},
	}
	log := e.log.With().
		Str("turn", t.id).
		Str("session", msg.SessionID).
		Str("modality", string(msg.Modality)).
		Logger()

	// Voice is transcribed up front so every later stage sees text. A
	// failed transcription degrades the turn but still advances the
	// session log by exactly one.
	if msg.Modality == core.ModalityVoice {
		transcript, err := e.transcribe(ctx, msg.Binary)
		if err != nil {
			log.Warn().Err(err).Msg("transcription failed, degrading turn")
			t.degraded = true
		}
		t.inbound.Transcript = transcript
	}

	if _, err := e.short.Append(ctx, &t.inbound); err != nil {
		log.Error().Err(err).Msg("short-term append failed, terminating turn")
		return e.fallback(t)
	}

	// Long-term persistence is best-effort: failures never block the turn.
	e.storeLongTerm(ctx, t, log)
	t.advance(StateStoredLongTerm)

	if t.degraded {
		// Transcription already failed; there is nothing meaningful to
		// route. Skip straight to the terminal fallback.
		return e.finish(ctx, t, e.fallback(t), log)
	}

	bundle, err := e.injector.Build(ctx, msg.SessionID, e.now())
	if err != nil {
		log.Error().Err(err).Msg("context injection failed, terminating turn")
		t.degraded = true
		return e.finish(ctx, t, e.fallback(t), log)
	}
	t.bundle = bundle
	t.advance(StateContextBuilt)

	intent := router.ClassifyIntent(bundle.Window)
	t.decision = router.Route(msg.Modality, intent, bundle)
	t.advance(StateRouted)
	log.Debug().
		Str("path", string(t.decision.Path)).
		Str("rationale", t.decision.Rationale).
		Msg("routed")

	resp, err := e.nodeFor(t.decision.Path).Execute(ctx, t)
	if err != nil {
		log.Warn().Err(err).Str("path", string(t.decision.Path)).Msg("node failed, degrading turn")
		t.degraded = true
		resp = e.fallback(t)
	}
	t.advance(StateNodeExecuted)

	// The companion's reply becomes a short-term turn of its own, except
	// on degraded turns, which advance the log by the inbound only.
	if !t.degraded && t.reply != "" {
		companion := memory.ShortTermRecord{Message: core.Message{
			SessionID: msg.SessionID,
			Modality:  core.ModalityText,
			Text:      t.reply,
			Timestamp: e.now(),
			Origin:    core.OriginCompanion,
		}}
		if _, err := e.short.Append(ctx, &companion); err != nil {
			log.Error().Err(err).Msg("companion append failed")
			resp.Degraded = true
		}
	}

	return e.finish(ctx, t, resp, log)
}

// finish runs the conditional summarization pass and closes the turn.
func (e *Engine) finish(ctx context.Context, t *turnState, resp *core.Response, log zerolog.Logger) *core.Response {
	if err := e.maybeSummarize(ctx, t.inbound.Message.SessionID); err != nil {
		log.Warn().Err(err).Msg("summarization failed")
		resp.Degraded = true
	}
	t.advance(StateMaybeSummarized)
	t.advance(StateEnd)
	log.Info().
		Bool("degraded", resp.Degraded).
		Str("response_modality", string(resp.Modality)).
		Msg("turn complete")
	return resp
}

// storeLongTerm embeds and inserts the inbound turn's textual content.
// Never blocks the pipeline: embedding and insert failures are logged and
// swallowed.
func (e *Engine) storeLongTerm(ctx context.Context, t *turnState, log zerolog.Logger) {
	text := t.inbound.Text()
	if text == "" || t.inbound.Message.Origin != core.OriginUser {
		return
	}

	embedding, err := e.embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed, skipping long-term store")
		return
	}
	id, err := e.long.Insert(ctx, &memory.LongTermRecord{
		Text:      text,
		Embedding: embedding,
		Timestamp: t.inbound.Message.Timestamp,
		SessionID: t.inbound.Message.SessionID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("long-term insert failed, continuing")
		return
	}
	log.Debug().Str("memory_id", id).Msg("stored long-term memory")
}

// fallback builds the degraded terminal Response.
func (e *Engine) fallback(t *turnState) *core.Response {
	t.degraded = true
	return &core.Response{
		Modality: core.ModalityText,
		Text:     fallbackReply,
		Degraded: true,
	}
}

// Capability call wrappers. Every external call gets its own deadline so
// the session lock is never held across an unbounded wait.

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CapabilityTimeout)
}

func capErr(name string, ctx context.Context, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &core.CapabilityError{Capability: name, Timeout: timeout, Err: err}
}

func (e *Engine) generateText(ctx context.Context, prompt string, bundle *core.ContextBundle) (string, error) {
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	out, err := e.caps.Text.Generate(cctx, prompt, bundle)
	if err != nil {
		return "", capErr("text-generate", cctx, err)
	}
	return out, nil
}

func (e *Engine) transcribe(ctx context.Context, audio []byte) (string, error) {
	if e.caps.Recognizer == nil {
		return "", &core.CapabilityError{Capability: "speech-recognize", Err: errors.New("not configured")}
	}
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	out, err := e.caps.Recognizer.Transcribe(cctx, audio)
	if err != nil {
		return "", capErr("speech-recognize", cctx, err)
	}
	return out, nil
}

func (e *Engine) synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.caps.Speech == nil {
		return nil, &core.CapabilityError{Capability: "speech-synthesize", Err: errors.New("not configured")}
	}
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	out, err := e.caps.Speech.Synthesize(cctx, text)
	if err != nil {
		return nil, capErr("speech-synthesize", cctx, err)
	}
	return out, nil
}

func (e *Engine) generateImage(ctx context.Context, prompt string) ([]byte, error) {
	if e.caps.Image == nil {
		return nil, &core.CapabilityError{Capability: "image-generate", Err: errors.New("not configured")}
	}
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	out, err := e.caps.Image.Generate(cctx, prompt)
	if err != nil {
		return nil, capErr("image-generate", cctx, err)
	}
	return out, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	out, err := e.caps.Embedder.Embed(cctx, text)
	if err != nil {
		return nil, capErr("embed", cctx, err)
	}
	return out, nil
}
