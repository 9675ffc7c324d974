package backend

import (
	"context"
	"testing"
	"time"
)

func collectEvents(t *testing.T, s Stream, want int) []*Event {
	t.Helper()
	got := make([]*Event, 0, want)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev, err := range s.Events() {
			if err != nil {
				t.Errorf("events: %v", err)
				return
			}
			got = append(got, ev)
			if len(got) == want {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d events, got %d", want, len(got))
	}
	return got
}

func TestPipeScriptedTurn(t *testing.T) {
	pipe := NewPipe()
	pipe.AddScript("sus_butler", Script{
		UserTranscript: "Where were you at midnight?",
		Reply:          "Asleep.",
		Audio:          []byte{1, 2, 3, 4},
	})

	stream, err := pipe.Connect(context.Background(), Persona{SuspectID: "sus_butler"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	if err := stream.AppendAudio([]byte{0, 0}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := stream.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// user transcript + 7 reply runes + audio + transcript done + response done
	events := collectEvents(t, stream, 11)

	if events[0].Type != EventUserTranscriptDone || events[0].Text != "Where were you at midnight?" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}

	var text string
	var sawAudio, sawDone bool
	var doneText string
	for _, ev := range events[1:] {
		switch ev.Type {
		case EventTranscriptDelta:
			text += ev.Text
		case EventAudioDelta:
			sawAudio = true
			if len(ev.Audio) != 4 {
				t.Fatalf("audio length = %d, want 4", len(ev.Audio))
			}
		case EventTranscriptDone:
			doneText = ev.Text
		case EventResponseDone:
			sawDone = true
		}
	}
	if text != "Asleep." {
		t.Fatalf("assembled transcript = %q, want %q", text, "Asleep.")
	}
	if doneText != "Asleep." {
		t.Fatalf("final transcript = %q", doneText)
	}
	if !sawAudio || !sawDone {
		t.Fatalf("sawAudio=%v sawDone=%v", sawAudio, sawDone)
	}
}

func TestPipeScriptsConsumedInOrder(t *testing.T) {
	pipe := NewPipe()
	pipe.AddScript("sus_maid",
		Script{Reply: "No."},
		Script{Reply: "Yes."},
	)

	stream, err := pipe.Connect(context.Background(), Persona{SuspectID: "sus_maid"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	if err := stream.Commit(); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	first := collectEvents(t, stream, 5)
	if first[len(first)-2].Text != "No." {
		t.Fatalf("first reply = %q, want %q", first[len(first)-2].Text, "No.")
	}

	if err := stream.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	second := collectEvents(t, stream, 6)
	if second[len(second)-2].Text != "Yes." {
		t.Fatalf("second reply = %q, want %q", second[len(second)-2].Text, "Yes.")
	}

	if err := stream.Commit(); err == nil {
		t.Fatal("expected error on exhausted script queue")
	}
}

func TestPipeClosedStreamRejectsWrites(t *testing.T) {
	pipe := NewPipe()
	stream, err := pipe.Connect(context.Background(), Persona{SuspectID: "sus_cook"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := stream.AppendAudio([]byte{1}); err == nil {
		t.Fatal("expected append error after close")
	}
	if err := stream.Commit(); err == nil {
		t.Fatal("expected commit error after close")
	}
}
