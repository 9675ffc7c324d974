// Package wire defines the JSON message protocol between game clients and
// the server. Every message is a typed envelope with a payload object.
package wire

import (
	"encoding/json"
	"fmt"
)

// Message types, client to server.
const (
	TypeGameStart           = "game:start"
	TypeRealtimeStart       = "realtime:start"
	TypeAudioDeltaUser      = "realtime:audio:delta:user"
	TypeTranscriptDoneUser  = "realtime:transcript:done:user"
	TypeRealtimeEnd         = "realtime:end"
	TypeDeductionNodeCreate = "deduction:node:created"
	TypeDeductionLeadCreate = "deduction:lead:created"
	TypeDeductionLeadRemove = "deduction:lead:removed"
	TypeDeductionSubmit     = "deduction:submit"
	TypeVoteSubmit          = "vote:submit"
)

// Message types, server to client.
const (
	TypeGameUpdated              = "game:updated"
	TypeRoundTick                = "round:tick"
	TypeAudioDeltaAssistant      = "realtime:audio:delta:assistant"
	TypeTranscriptDeltaAssistant = "realtime:transcript:delta:assistant"
	TypeError                    = "error"
)

// Error codes carried by Error payloads.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeStreamAlreadyOpen = "stream_already_open"
	CodeUnknownResponse   = "unknown_response"
	CodeGraphFrozen       = "graph_frozen"
	CodeBackpressure      = "backpressure"
	CodeBadMessage        = "bad_message"
	CodeUnknownSession    = "unknown_session"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes one raw message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: parse envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("wire: envelope missing type")
	}
	return &env, nil
}

// Marshal encodes a payload into an envelope of the given type.
func Marshal(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Decode unmarshals an envelope payload into T.
func Decode[T any](env *Envelope) (*T, error) {
	var payload T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
		}
	}
	return &payload, nil
}

// GameStart asks the server to begin the game in the client's room.
type GameStart struct{}

// RealtimeStart opens an interrogation round against one suspect.
type RealtimeStart struct {
	SuspectID string `json:"suspectId"`
}

// AudioDelta carries one PCM16 frame in either direction. Delta is base64
// in JSON by virtue of being a byte slice.
type AudioDelta struct {
	RoundID string `json:"roundId"`
	Delta   []byte `json:"delta"`
}

// TranscriptDelta streams a partial utterance keyed by response id.
type TranscriptDelta struct {
	RoundID    string `json:"roundId"`
	ResponseID string `json:"responseId"`
	Delta      string `json:"delta"`
}

// TranscriptDone finalizes an utterance.
type TranscriptDone struct {
	RoundID    string `json:"roundId"`
	ResponseID string `json:"responseId"`
	Text       string `json:"text,omitempty"`
}

// RealtimeEnd terminates the active interrogation round.
type RealtimeEnd struct {
	RoundID string `json:"roundId"`
}

// NodeCreate adds a node to the deduction graph.
type NodeCreate struct {
	ID        string `json:"id,omitempty"`
	NodeType  string `json:"nodeType"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	SuspectID string `json:"suspectId,omitempty"`
}

// LeadCreate links two deduction nodes.
type LeadCreate struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	LeadType string `json:"leadType"`
}

// LeadRemove deletes a lead by id.
type LeadRemove struct {
	LeadID string `json:"leadId"`
}

// DeductionSubmit accuses a suspect in single-player mode.
type DeductionSubmit struct {
	SuspectID string `json:"suspectId"`
}

// VoteSubmit casts one player's vote in multiplayer mode.
type VoteSubmit struct {
	SuspectID string `json:"suspectId"`
}

// GameUpdated broadcasts a full versioned session snapshot.
type GameUpdated struct {
	Version int64           `json:"version"`
	State   json.RawMessage `json:"state"`
}

// RoundTick broadcasts the remaining time of a timed round.
type RoundTick struct {
	RoundID     string `json:"roundId"`
	RemainingMS int64  `json:"remainingMs"`
}

// Error reports a rejected intent with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewError builds an encoded error envelope, falling back to a minimal
// hand-built message if encoding itself fails.
func NewError(code, message string) []byte {
	data, err := Marshal(TypeError, Error{Code: code, Message: message})
	if err != nil {
		return []byte(`{"type":"error","payload":{"code":"` + code + `"}}`)
	}
	return data
}
