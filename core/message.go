package core

import (
	"strings"
	"time"
)

// Modality identifies the payload type of a message or response.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
	ModalityImage Modality = "image"

	// ModalityAudio is an outbound-only modality: synthesized speech
	// produced by the audio workflow. Inbound speech is ModalityVoice.
	ModalityAudio Modality = "audio"
)

// Origin identifies which side of the conversation produced a message.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginCompanion Origin = "companion"
)

// Message is one inbound or outbound conversation turn. Messages are
// immutable once stored; Sequence is assigned by the short-term store at
// append time and is strictly increasing per session with no gaps.
type Message struct {
	SessionID string
	Sequence  uint64
	Modality  Modality
	Text      string
	Binary    []byte
	Timestamp time.Time
	Origin    Origin
}

// Validate rejects messages that must not enter the orchestration graph.
// Text messages need non-blank text; voice and image messages need a
// binary payload.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return &InvalidMessageError{Reason: "missing session id"}
	}
	switch m.Modality {
	case ModalityText:
		if strings.TrimSpace(m.Text) == "" {
			return &InvalidMessageError{Reason: "empty text payload"}
		}
	case ModalityVoice, ModalityImage:
		if len(m.Binary) == 0 {
			return &InvalidMessageError{Reason: "empty binary payload"}
		}
	default:
		return &InvalidMessageError{Reason: "unrecognized modality: " + string(m.Modality)}
	}
	return nil
}

// Response is what the engine hands back to the transport adapter.
// Degraded marks turns where a node failed and a fallback was substituted.
type Response struct {
	Modality Modality
	Text     string
	Binary   []byte
	Degraded bool
}

// Turn is the lightweight textual view of a stored turn carried inside a
// ContextBundle. Voice turns appear here as their transcript.
type Turn struct {
	Origin    Origin
	Text      string
	Timestamp time.Time
}
