package backend

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"
)

// Script is one canned suspect reply, produced per committed user turn.
type Script struct {
	// UserTranscript stands in for input audio transcription.
	UserTranscript string

	// Reply is streamed back as transcript deltas plus one audio delta.
	Reply string

	// Audio is the raw reply audio. Optional.
	Audio []byte
}

// Pipe is an in-process Backend that replays canned scripts. It exists for
// tests and for running the server without a realtime API key.
type Pipe struct {
	mu      sync.Mutex
	scripts map[string][]Script
}

// NewPipe creates an empty Pipe.
func NewPipe() *Pipe {
	return &Pipe{scripts: make(map[string][]Script)}
}

// AddScript queues replies for the given suspect, consumed one per commit.
func (p *Pipe) AddScript(suspectID string, scripts ...Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[suspectID] = append(p.scripts[suspectID], scripts...)
}

// Connect opens a scripted stream for the persona's suspect.
func (p *Pipe) Connect(ctx context.Context, persona Persona) (Stream, error) {
	return &pipeStream{
		pipe:      p,
		suspectID: persona.SuspectID,
		closeCh:   make(chan struct{}),
		events:    make(chan eventOrError, 128),
	}, nil
}

type pipeStream struct {
	pipe      *Pipe
	suspectID string
	closeCh   chan struct{}
	events    chan eventOrError
	closeOnce sync.Once
}

func (s *pipeStream) AppendAudio(frame []byte) error {
	select {
	case <-s.closeCh:
		return fmt.Errorf("backend: pipe stream closed")
	default:
		return nil
	}
}

// Commit pops the next script for the suspect and emits its events in the
// same order the realtime protocol would.
func (s *pipeStream) Commit() error {
	select {
	case <-s.closeCh:
		return fmt.Errorf("backend: pipe stream closed")
	default:
	}

	s.pipe.mu.Lock()
	queue := s.pipe.scripts[s.suspectID]
	if len(queue) == 0 {
		s.pipe.mu.Unlock()
		return fmt.Errorf("backend: no script queued for suspect %q", s.suspectID)
	}
	script := queue[0]
	s.pipe.scripts[s.suspectID] = queue[1:]
	s.pipe.mu.Unlock()

	responseID := "resp_" + uuid.NewString()[:8]
	if script.UserTranscript != "" {
		s.deliver(&Event{
			Type:       EventUserTranscriptDone,
			ResponseID: "item_" + uuid.NewString()[:8],
			Text:       script.UserTranscript,
		})
	}
	for _, r := range script.Reply {
		s.deliver(&Event{
			Type:       EventTranscriptDelta,
			ResponseID: responseID,
			Text:       string(r),
		})
	}
	if len(script.Audio) > 0 {
		s.deliver(&Event{
			Type:       EventAudioDelta,
			ResponseID: responseID,
			Audio:      script.Audio,
		})
	}
	s.deliver(&Event{
		Type:       EventTranscriptDone,
		ResponseID: responseID,
		Text:       script.Reply,
	})
	s.deliver(&Event{
		Type:       EventResponseDone,
		ResponseID: responseID,
	})
	return nil
}

func (s *pipeStream) Events() iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item := <-s.events:
				if !yield(item.event, item.err) {
					return
				}
			}
		}
	}
}

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

func (s *pipeStream) deliver(e *Event) {
	select {
	case <-s.closeCh:
	case s.events <- eventOrError{event: e}:
	}
}

var _ Backend = (*Pipe)(nil)
var _ Stream = (*pipeStream)(nil)
