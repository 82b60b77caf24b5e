// Package router decides which processing path handles a turn. Both the
// intent classifier and the routing function are pure and deterministic:
// identical inputs always produce identical outputs, which keeps turns
// replayable in tests.
package router

import (
	"strings"

	"github.com/companionkit/elio/core"
)

// Intent is the classified conversational intent of the latest user turns.
type Intent string

const (
	IntentConversation Intent = "conversation"
	IntentDrawImage    Intent = "draw-image"
	IntentSpeakAloud   Intent = "speak-aloud"
)

// MessagesToAnalyze bounds how far back the classifier looks for the
// newest user turn, in case the window trails off in companion turns.
const MessagesToAnalyze = 3

var imagePhrases = []string{
	"draw",
	"sketch",
	"paint me",
	"picture of",
	"image of",
	"photo of",
	"show me what",
	"send me a picture",
	"send me a photo",
	"send me an image",
}

var audioPhrases = []string{
	"say it aloud",
	"say that aloud",
	"say aloud",
	"read it to me",
	"read that to me",
	"voice message",
	"send me a voice",
	"want to hear you",
	"tell me out loud",
}

// ClassifyIntent inspects the transcript of the most recent turns (latest
// last) and classifies the newest user turn, defaulting to plain
// conversation. Only the newest user turn carries intent: a request the
// companion already served must not re-route the next, unrelated message.
func ClassifyIntent(turns []core.Turn) Intent {
	start := len(turns) - MessagesToAnalyze
	if start < 0 {
		start = 0
	}
	for i := len(turns) - 1; i >= start; i-- {
		if turns[i].Origin != core.OriginUser {
			continue
		}
		return classifyText(turns[i].Text)
	}
	return IntentConversation
}

func classifyText(text string) Intent {
	lower := strings.ToLower(text)
	for _, phrase := range imagePhrases {
		if strings.Contains(lower, phrase) {
			return IntentDrawImage
		}
	}
	for _, phrase := range audioPhrases {
		if strings.Contains(lower, phrase) {
			return IntentSpeakAloud
		}
	}
	return IntentConversation
}

// Route maps (modality, intent, context) to a processing path. Priority
// order is total, so ties are impossible:
//
//  1. image modality -> Image
//  2. voice modality -> Audio (the transcript was already derived before
//     intent classification)
//  3. explicit generation intent -> corresponding path
//  4. default -> Conversation
//
// The bundle participates in the contract for future policies but the
// current policy never reads it; passing nil is allowed.
func Route(modality core.Modality, intent Intent, _ *core.ContextBundle) core.RoutingDecision {
	switch {
	case modality == core.ModalityImage:
		return core.RoutingDecision{Path: core.PathImage, Rationale: "image modality"}
	case modality == core.ModalityVoice:
		return core.RoutingDecision{Path: core.PathAudio, Rationale: "voice modality"}
	case intent == IntentDrawImage:
		return core.RoutingDecision{Path: core.PathImage, Rationale: "explicit draw request"}
	case intent == IntentSpeakAloud:
		return core.RoutingDecision{Path: core.PathAudio, Rationale: "explicit speech request"}
	default:
		return core.RoutingDecision{Path: core.PathConversation, Rationale: "default conversation"}
	}
}
