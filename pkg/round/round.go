// Package round owns the authoritative phase and timer logic for one game
// session: which round is active, who may be interrogated, when voting
// opens, and how the session finishes. The machine is purely in-memory
// and single-threaded; the owning session worker serializes all calls and
// drives the countdown.
package round

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/culprit/pkg/jsontime"
	"github.com/haivivi/culprit/pkg/transcript"
)

// ErrInvalidTransition is returned for out-of-order phase transitions.
// The machine state is unchanged when it is returned.
var ErrInvalidTransition = errors.New("round: invalid transition")

// Phase is the session-level phase.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseInterrogationSelect
	PhaseInterrogationActive
	PhaseVoting
	PhaseFinished
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseInterrogationSelect:
		return "interrogation_select"
	case PhaseInterrogationActive:
		return "interrogation_active"
	case PhaseVoting:
		return "voting"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "setup":
		*p = PhaseSetup
	case "interrogation_select":
		*p = PhaseInterrogationSelect
	case "interrogation_active":
		*p = PhaseInterrogationActive
	case "voting":
		*p = PhaseVoting
	case "finished":
		*p = PhaseFinished
	default:
		return fmt.Errorf("round: unknown phase %q", name)
	}
	return nil
}

// Type classifies a round.
type Type int

const (
	TypeInterrogation Type = iota
	TypeVoting
)

// String returns the string representation of the round type.
func (t Type) String() string {
	switch t {
	case TypeInterrogation:
		return "interrogation"
	case TypeVoting:
		return "voting"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "interrogation":
		*t = TypeInterrogation
	case "voting":
		*t = TypeVoting
	default:
		return fmt.Errorf("round: unknown round type %q", name)
	}
	return nil
}

// Status is the lifecycle status of a round.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusCompleted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "inactive":
		*s = StatusInactive
	case "active":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("round: unknown status %q", name)
	}
	return nil
}

// Result is the outcome payload recorded on a completed voting round.
type Result struct {
	// SuspectID is the accused suspect.
	SuspectID string `json:"suspect_id,omitempty" msgpack:"suspect_id,omitempty"`

	// Correct reports whether the accused suspect is the culprit.
	Correct bool `json:"correct" msgpack:"correct"`

	// Warmth is the deduction graph feedback score at submission.
	Warmth int `json:"warmth" msgpack:"warmth"`

	// GuiltDelta is the guilt-score change handed to the rating layer.
	GuiltDelta int `json:"guilt_delta" msgpack:"guilt_delta"`

	// VoteTally holds per-suspect vote counts in multiplayer.
	VoteTally map[string]int `json:"vote_tally,omitempty" msgpack:"vote_tally,omitempty"`

	// Tie reports a tied multiplayer vote.
	Tie bool `json:"tie,omitempty" msgpack:"tie,omitempty"`
}

// Round is one bounded phase of a session. A completed round is immutable.
type Round struct {
	ID            string             `json:"id" msgpack:"id"`
	Type          Type               `json:"type" msgpack:"type"`
	Status        Status             `json:"status" msgpack:"status"`
	ParticipantID string             `json:"participant_id,omitempty" msgpack:"participant_id,omitempty"`
	StartedAt     jsontime.Milli     `json:"started_at" msgpack:"started_at"`
	Deadline      jsontime.Milli     `json:"deadline,omitzero" msgpack:"deadline,omitempty"`
	Conversation  []*transcript.Item `json:"conversation,omitempty" msgpack:"conversation,omitempty"`
	Result        *Result            `json:"result,omitempty" msgpack:"result,omitempty"`
}

func newRoundID() string {
	return "rnd_" + uuid.NewString()[:8]
}

func milli(t time.Time) jsontime.Milli {
	return jsontime.Milli(t)
}
