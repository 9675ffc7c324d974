package transcript

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestReconciler_MergesFragments(t *testing.T) {
	r := New()
	now := time.Now()

	if _, err := r.ApplyDelta("r1", SpeakerAssistant, "Hel", now); err != nil {
		t.Fatalf("ApplyDelta error: %v", err)
	}
	item, err := r.ApplyDelta("r1", SpeakerAssistant, "lo", now)
	if err != nil {
		t.Fatalf("ApplyDelta error: %v", err)
	}
	if item.Text != "Hello" {
		t.Errorf("Text = %q, want %q", item.Text, "Hello")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestReconciler_InterleavedResponses(t *testing.T) {
	r := New()
	now := time.Now()

	r.ApplyDelta("r1", SpeakerAssistant, "Hel", now)
	r.ApplyDelta("r2", SpeakerUser, "Hi", now)
	r.ApplyDelta("r1", SpeakerAssistant, "lo", now)

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("Items = %d, want 2", len(items))
	}
	if items[0].ResponseID != "r1" || items[0].Text != "Hello" {
		t.Errorf("items[0] = %s %q, want r1 %q", items[0].ResponseID, items[0].Text, "Hello")
	}
	if items[1].ResponseID != "r2" || items[1].Text != "Hi" {
		t.Errorf("items[1] = %s %q, want r2 %q", items[1].ResponseID, items[1].Text, "Hi")
	}
	if items[1].Speaker != SpeakerUser {
		t.Errorf("items[1].Speaker = %v, want user", items[1].Speaker)
	}
}

func TestReconciler_FinalizeRejectsLateDeltas(t *testing.T) {
	r := New()
	now := time.Now()

	r.ApplyDelta("r1", SpeakerAssistant, "done", now)
	item, err := r.Finalize("r1")
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if !item.Final {
		t.Error("Final = false after Finalize")
	}

	if _, err := r.ApplyDelta("r1", SpeakerAssistant, "late", now); !errors.Is(err, ErrUnknownResponse) {
		t.Errorf("late delta error = %v, want ErrUnknownResponse", err)
	}
	// The finalized text is unchanged.
	if got := r.Items()[0].Text; got != "done" {
		t.Errorf("Text after rejected delta = %q, want %q", got, "done")
	}

	// Double finalize is a no-op.
	if _, err := r.Finalize("r1"); err != nil {
		t.Errorf("second Finalize error: %v", err)
	}
}

func TestReconciler_FinalizeUnknown(t *testing.T) {
	r := New()
	if _, err := r.Finalize("nope"); !errors.Is(err, ErrUnknownResponse) {
		t.Errorf("Finalize unknown = %v, want ErrUnknownResponse", err)
	}
}

func TestReconciler_LostFirstDeltaStartsNewItem(t *testing.T) {
	// If the opening fragment of an utterance is lost and the backend
	// re-keys the remainder, a second item appears. Documented behavior,
	// not corrected.
	r := New()
	now := time.Now()
	r.ApplyDelta("r1", SpeakerAssistant, "I was at the ", now)
	r.Finalize("r1")
	r.ApplyDelta("r1b", SpeakerAssistant, "theater all night.", now)

	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestSpeaker_JSON(t *testing.T) {
	tests := []struct {
		speaker Speaker
		want    string
	}{
		{SpeakerUser, `"user"`},
		{SpeakerAssistant, `"assistant"`},
		{SpeakerUnknown, `"unknown"`},
	}
	for _, tc := range tests {
		data, err := json.Marshal(tc.speaker)
		if err != nil {
			t.Fatalf("Marshal error: %v", err)
		}
		if string(data) != tc.want {
			t.Errorf("Marshal(%v) = %s, want %s", tc.speaker, data, tc.want)
		}
		var back Speaker
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		if back != tc.speaker {
			t.Errorf("round trip = %v, want %v", back, tc.speaker)
		}
	}
}

func TestReconciler_EmptyResponseID(t *testing.T) {
	r := New()
	if _, err := r.ApplyDelta("", SpeakerUser, "x", time.Now()); !errors.Is(err, ErrUnknownResponse) {
		t.Errorf("empty id = %v, want ErrUnknownResponse", err)
	}
}
