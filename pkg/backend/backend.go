// Package backend connects a session to its conversational AI collaborator:
// the voice that plays each suspect. The backend consumes PCM16 audio
// frames and produces synthesized speech plus transcript deltas keyed by
// response ID. The realtime implementation speaks an OpenAI-style realtime
// WebSocket protocol; Pipe is an in-process double for tests and local
// development.
package backend

import (
	"context"
	"iter"
)

// Persona describes the suspect the backend is asked to play for one
// interrogation round.
type Persona struct {
	// SuspectID is the stable suspect identity.
	SuspectID string `json:"suspect_id" yaml:"suspect_id"`

	// Name is the display name the model speaks as.
	Name string `json:"name" yaml:"name"`

	// Instructions is the persona prompt (alibi, temperament, what the
	// suspect knows).
	Instructions string `json:"instructions" yaml:"instructions"`

	// Voice selects the synthesis voice.
	Voice string `json:"voice,omitempty" yaml:"voice,omitempty"`
}

// EventType discriminates backend events.
type EventType int

const (
	// EventAudioDelta carries one frame of synthesized speech.
	EventAudioDelta EventType = iota + 1

	// EventTranscriptDelta carries a fragment of the assistant's
	// utterance transcript.
	EventTranscriptDelta

	// EventTranscriptDone marks the assistant's utterance complete.
	EventTranscriptDone

	// EventUserTranscriptDone carries the completed transcription of
	// the user's speech.
	EventUserTranscriptDone

	// EventResponseDone marks the end of one model response.
	EventResponseDone
)

// Event is one unit of backend output.
type Event struct {
	Type EventType

	// ResponseID correlates fragments of the same utterance.
	ResponseID string

	// Audio is a PCM16 frame at the backend's sample rate
	// (EventAudioDelta only).
	Audio []byte

	// Text is the transcript fragment or completed transcript.
	Text string
}

// Stream is one live conversation with the backend, scoped to a single
// interrogation round.
type Stream interface {
	// AppendAudio pushes one PCM16 frame of user speech.
	AppendAudio(frame []byte) error

	// Commit marks the end of the user's turn and requests a response.
	// Backends running server-side voice activity detection may treat
	// this as a hint.
	Commit() error

	// Events yields backend output until the stream closes or fails.
	Events() iter.Seq2[*Event, error]

	// Close tears the stream down. Safe to call twice.
	Close() error
}

// Backend opens conversation streams.
type Backend interface {
	// Connect opens a stream for one interrogation round, configured
	// with the suspect's persona.
	Connect(ctx context.Context, persona Persona) (Stream, error)
}
