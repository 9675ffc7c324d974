// Package transcript merges streamed transcript deltas into ordered
// conversation items. Deltas for different utterances may interleave; they
// are correlated by response ID, not by arrival position. Within one
// response ID the backend delivers fragments in send order, so appending
// is sufficient.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haivivi/culprit/pkg/jsontime"
)

// ErrUnknownResponse is returned when a delta or finalize refers to a
// response ID that was already finalized or never existed.
var ErrUnknownResponse = errors.New("transcript: unknown response")

// Speaker identifies who produced an utterance.
type Speaker int

const (
	SpeakerUnknown Speaker = iota
	SpeakerUser
	SpeakerAssistant
)

// String returns the string representation of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s Speaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Speaker) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "user":
		*s = SpeakerUser
	case "assistant":
		*s = SpeakerAssistant
	default:
		*s = SpeakerUnknown
	}
	return nil
}

// Item is one utterance assembled from transcript deltas. Once finalized
// it is immutable.
type Item struct {
	// ResponseID correlates fragments of the same utterance.
	ResponseID string `json:"response_id" msgpack:"response_id"`

	// Speaker is taken from the first delta seen for this response ID.
	Speaker Speaker `json:"speaker" msgpack:"speaker"`

	// Text is the accumulated utterance text.
	Text string `json:"text" msgpack:"text"`

	// At is the arrival time of the first delta.
	At jsontime.Milli `json:"at" msgpack:"at"`

	// Final reports whether the utterance is complete.
	Final bool `json:"final" msgpack:"final"`
}

// Clone returns a copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	cp := *it
	return &cp
}

// Reconciler accumulates deltas into items keyed by response ID, preserving
// first-seen order across response IDs.
type Reconciler struct {
	mu    sync.Mutex
	items map[string]*entry
	order []string
}

type entry struct {
	item Item
	text strings.Builder
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{items: make(map[string]*entry)}
}

// ApplyDelta appends a text fragment to the item for responseID, creating
// the item if none exists. A delta that arrives with no prior item always
// starts a new item, even if it is mid-utterance because the first fragment
// was lost; the utterance then shows up split in two. That matches how the
// backend's delta stream is specified under loss and is not corrected here.
//
// Deltas for a finalized item fail with ErrUnknownResponse.
func (r *Reconciler) ApplyDelta(responseID string, speaker Speaker, fragment string, at time.Time) (*Item, error) {
	if responseID == "" {
		return nil, fmt.Errorf("transcript: empty response id: %w", ErrUnknownResponse)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[responseID]
	if !ok {
		e = &entry{item: Item{
			ResponseID: responseID,
			Speaker:    speaker,
			At:         jsontime.Milli(at),
		}}
		r.items[responseID] = e
		r.order = append(r.order, responseID)
	}
	if e.item.Final {
		return nil, fmt.Errorf("transcript: delta for finalized response %s: %w", responseID, ErrUnknownResponse)
	}
	e.text.WriteString(fragment)
	e.item.Text = e.text.String()
	return e.item.Clone(), nil
}

// Finalize marks the item for responseID immutable and returns it.
// Finalizing an unknown response ID fails with ErrUnknownResponse.
// Finalizing twice is a no-op.
func (r *Reconciler) Finalize(responseID string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[responseID]
	if !ok {
		return nil, fmt.Errorf("transcript: finalize %s: %w", responseID, ErrUnknownResponse)
	}
	e.item.Final = true
	return e.item.Clone(), nil
}

// Items returns copies of all items in first-seen response ID order.
func (r *Reconciler) Items() []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Item, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id].item.Clone())
	}
	return out
}

// Len returns the number of items.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
