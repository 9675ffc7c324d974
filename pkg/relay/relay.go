// Package relay carries PCM16 voice frames between a client and the
// conversational backend for the duration of one interrogation round.
// The client-to-backend direction is queued through a bounded drop-oldest
// ring so a slow backend never blocks the network layer; the
// backend-to-client direction is forwarded immediately with no buffering
// beyond the frame in flight. The relay path is deliberately separate from
// the session worker's intent queue so voice latency is unaffected by
// graph edits or other session traffic.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haivivi/culprit/pkg/audio/pcm"
	"github.com/haivivi/culprit/pkg/audio/resampler"
	"github.com/haivivi/culprit/pkg/buffer"
)

// Sentinel errors.
var (
	// ErrStreamAlreadyOpen is returned when opening a stream for a round
	// that already has one.
	ErrStreamAlreadyOpen = errors.New("relay: stream already open")

	// ErrStreamClosed is returned for frames pushed after Close.
	ErrStreamClosed = errors.New("relay: stream closed")
)

// DefaultQueueFrames bounds the client-to-backend queue. At 20ms frames
// this is about 1.3 seconds of audio; beyond it the oldest frames drop.
const DefaultQueueFrames = 64

// BackendWriter receives resampled client audio. *backend.Stream
// satisfies this.
type BackendWriter interface {
	AppendAudio(frame []byte) error
}

// Config configures a Relay.
type Config struct {
	// ClientFormat is the client-side frame format.
	// Defaults to pcm.L16Mono16K.
	ClientFormat pcm.Format

	// BackendFormat is the backend-side frame format.
	// Defaults to pcm.L16Mono24K.
	BackendFormat pcm.Format

	// QueueFrames bounds the outbound queue. Defaults to
	// DefaultQueueFrames.
	QueueFrames int

	// Logger receives forwarding errors. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) queueFrames() int {
	if c.QueueFrames > 0 {
		return c.QueueFrames
	}
	return DefaultQueueFrames
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Relay owns at most one Stream per round.
type Relay struct {
	cfg Config

	mu      sync.Mutex
	streams map[string]*Stream
}

// New creates a Relay. The zero Config selects 16 kHz client audio and
// 24 kHz backend audio, which is what the realtime backend speaks.
func New(cfg Config) *Relay {
	if cfg.ClientFormat == pcm.FormatUnknown {
		cfg.ClientFormat = pcm.L16Mono16K
	}
	if cfg.BackendFormat == pcm.FormatUnknown {
		cfg.BackendFormat = pcm.L16Mono24K
	}
	return &Relay{cfg: cfg, streams: make(map[string]*Stream)}
}

// Open allocates the stream context for a round. backendW receives
// resampled client frames; clientW receives resampled backend frames.
// onClose fires once when the stream closes, signalling end-of-utterance
// to the transcript layer; it may be nil.
func (r *Relay) Open(roundID, participantID string, backendW BackendWriter, clientW pcm.Writer, onClose func()) (*Stream, error) {
	up, err := resampler.New(r.cfg.ClientFormat, r.cfg.BackendFormat)
	if err != nil {
		return nil, fmt.Errorf("relay: open %s: %w", roundID, err)
	}
	down, err := resampler.New(r.cfg.BackendFormat, r.cfg.ClientFormat)
	if err != nil {
		return nil, fmt.Errorf("relay: open %s: %w", roundID, err)
	}

	s := &Stream{
		roundID:       roundID,
		participantID: participantID,
		clientFmt:     r.cfg.ClientFormat,
		up:            up,
		down:          down,
		queue:         buffer.NewRing[[]byte](r.cfg.queueFrames()),
		backend:       backendW,
		client:        clientW,
		onClose:       onClose,
		log:           r.cfg.logger().With("round", roundID, "participant", participantID),
		done:          make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.streams[roundID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: round %s", ErrStreamAlreadyOpen, roundID)
	}
	r.streams[roundID] = s
	r.mu.Unlock()

	s.wg.Add(1)
	go s.forward()
	return s, nil
}

// Stream returns the open stream for a round, or nil.
func (r *Relay) Stream(roundID string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[roundID]
}

// CloseStream closes and releases the stream for a round. Closing a round
// with no stream is a no-op, so a timer-driven and a user-driven end can
// race safely.
func (r *Relay) CloseStream(roundID string) {
	r.mu.Lock()
	s := r.streams[roundID]
	delete(r.streams, roundID)
	r.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Stream is the per-round bidirectional audio context.
type Stream struct {
	roundID       string
	participantID string
	clientFmt     pcm.Format
	up            *resampler.Converter
	down          *resampler.Converter
	queue         *buffer.Ring[[]byte]
	backend       BackendWriter
	client        pcm.Writer
	onClose       func()
	log           *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// RoundID returns the round this stream belongs to.
func (s *Stream) RoundID() string { return s.roundID }

// ParticipantID returns the interrogated participant.
func (s *Stream) ParticipantID() string { return s.participantID }

// PushClientFrame queues one client frame toward the backend. It never
// blocks: when the backend lags and the queue fills, the oldest queued
// frame is discarded.
func (s *Stream) PushClientFrame(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	converted, err := s.up.Convert(frame)
	if err != nil {
		return err
	}
	if len(converted) == 0 {
		return nil
	}
	if s.queue.Push(converted) {
		s.log.Debug("outbound audio queue full, dropped oldest frame")
	}
	return nil
}

// PushBackendFrame forwards one synthesized-speech frame to the client
// immediately.
func (s *Stream) PushBackendFrame(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	converted, err := s.down.Convert(frame)
	if err != nil {
		return err
	}
	if len(converted) == 0 {
		return nil
	}
	return s.client.Write(s.clientFmt.DataChunk(converted))
}

// Dropped reports how many outbound frames were discarded under
// backpressure.
func (s *Stream) Dropped() int64 {
	return s.queue.Dropped()
}

// Close flushes queued frames to the backend, fires the end-of-utterance
// callback, and releases the stream. Safe to call twice: a countdown
// expiry and an explicit end request may both reach it.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.Close()
		s.wg.Wait()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// forward drains the queue into the backend until the queue is closed and
// empty.
func (s *Stream) forward() {
	defer s.wg.Done()
	for {
		frame, err := s.queue.Recv(context.Background())
		if err != nil {
			return // closed and drained
		}
		if err := s.backend.AppendAudio(frame); err != nil {
			s.log.Warn("backend rejected audio frame", "err", err)
			return
		}
	}
}
