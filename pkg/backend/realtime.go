package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultRealtimeURL is the default realtime WebSocket endpoint.
const DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"

// DefaultRealtimeModel is used when RealtimeConfig.Model is empty.
const DefaultRealtimeModel = "gpt-4o-realtime-preview"

// Wire event types of the realtime protocol, client to server.
const (
	wireSessionUpdate    = "session.update"
	wireInputAudioAppend = "input_audio_buffer.append"
	wireInputAudioCommit = "input_audio_buffer.commit"
	wireResponseCreate   = "response.create"
)

// Wire event types, server to client.
const (
	wireError                    = "error"
	wireSessionCreated           = "session.created"
	wireResponseAudioDelta       = "response.audio.delta"
	wireResponseTranscriptDelta  = "response.audio_transcript.delta"
	wireResponseTranscriptDone   = "response.audio_transcript.done"
	wireResponseDone             = "response.done"
	wireInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
)

// RealtimeConfig configures the realtime backend.
type RealtimeConfig struct {
	// APIKey authenticates against the realtime API. Required.
	APIKey string `yaml:"api_key"`

	// URL overrides the WebSocket endpoint.
	URL string `yaml:"url,omitempty"`

	// Model selects the realtime model.
	Model string `yaml:"model,omitempty"`

	// Logger receives protocol-level debug logs.
	Logger *slog.Logger `yaml:"-"`
}

// Realtime is a Backend speaking the realtime WebSocket protocol.
type Realtime struct {
	cfg RealtimeConfig
}

// NewRealtime creates a realtime Backend.
func NewRealtime(cfg RealtimeConfig) (*Realtime, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend: realtime API key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultRealtimeURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRealtimeModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Realtime{cfg: cfg}, nil
}

// Connect dials the realtime endpoint and configures the session with the
// suspect's persona.
func (b *Realtime) Connect(ctx context.Context, persona Persona) (Stream, error) {
	url := fmt.Sprintf("%s?model=%s", b.cfg.URL, b.cfg.Model)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+b.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("backend: realtime connect failed with HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("backend: realtime connect failed: %w", err)
	}

	s := &realtimeStream{
		conn:    conn,
		log:     b.cfg.Logger.With("suspect", persona.SuspectID),
		closeCh: make(chan struct{}),
		events:  make(chan eventOrError, 128),
	}
	go s.readLoop()

	if err := s.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     wireSessionUpdate,
		"session": map[string]any{
			"instructions": persona.Instructions,
			"voice":        persona.Voice,
			"modalities":   []string{"audio", "text"},
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
		},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("backend: configure session: %w", err)
	}
	return s, nil
}

type eventOrError struct {
	event *Event
	err   error
}

type realtimeStream struct {
	conn    *websocket.Conn
	log     *slog.Logger
	closeCh chan struct{}
	events  chan eventOrError

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newEventID() string {
	return "evt_" + uuid.NewString()[:12]
}

func (s *realtimeStream) AppendAudio(frame []byte) error {
	return s.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     wireInputAudioAppend,
		"audio":    base64.StdEncoding.EncodeToString(frame),
	})
}

func (s *realtimeStream) Commit() error {
	if err := s.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     wireInputAudioCommit,
	}); err != nil {
		return err
	}
	return s.sendEvent(map[string]any{
		"event_id": newEventID(),
		"type":     wireResponseCreate,
	})
}

func (s *realtimeStream) Events() iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.events:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

func (s *realtimeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *realtimeStream) sendEvent(event map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(event)
}

// serverEvent is the subset of the wire schema the stream consumes.
type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *realtimeStream) readLoop() {
	defer close(s.events)
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.deliver(eventOrError{err: fmt.Errorf("backend: read: %w", err)})
			return
		}

		var raw serverEvent
		if err := json.Unmarshal(message, &raw); err != nil {
			s.deliver(eventOrError{err: fmt.Errorf("backend: parse event: %w", err)})
			continue
		}

		switch raw.Type {
		case wireSessionCreated:
			s.log.Debug("realtime session created")
		case wireError:
			msg := "unknown error"
			if raw.Error != nil {
				msg = raw.Error.Code + ": " + raw.Error.Message
			}
			s.deliver(eventOrError{err: fmt.Errorf("backend: server error: %s", msg)})
		case wireResponseAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(raw.Delta)
			if err != nil {
				s.log.Warn("undecodable audio delta", "err", err)
				continue
			}
			s.deliver(eventOrError{event: &Event{
				Type:       EventAudioDelta,
				ResponseID: raw.ResponseID,
				Audio:      audio,
			}})
		case wireResponseTranscriptDelta:
			s.deliver(eventOrError{event: &Event{
				Type:       EventTranscriptDelta,
				ResponseID: raw.ResponseID,
				Text:       raw.Delta,
			}})
		case wireResponseTranscriptDone:
			s.deliver(eventOrError{event: &Event{
				Type:       EventTranscriptDone,
				ResponseID: raw.ResponseID,
				Text:       raw.Transcript,
			}})
		case wireInputTranscriptCompleted:
			s.deliver(eventOrError{event: &Event{
				Type:       EventUserTranscriptDone,
				ResponseID: raw.ItemID,
				Text:       raw.Transcript,
			}})
		case wireResponseDone:
			s.deliver(eventOrError{event: &Event{
				Type:       EventResponseDone,
				ResponseID: raw.ResponseID,
			}})
		}
	}
}

// deliver forwards one item unless the stream is closing.
func (s *realtimeStream) deliver(item eventOrError) {
	select {
	case <-s.closeCh:
	case s.events <- item:
	}
}

var _ Stream = (*realtimeStream)(nil)
var _ Backend = (*Realtime)(nil)
