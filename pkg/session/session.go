// Package session hosts the authoritative owner of one game: a single
// worker goroutine that validates client intents against the round
// machine, applies graph edits, relays interrogation audio, and
// broadcasts a versioned snapshot after every accepted mutation.
//
// All mutable state belongs to the worker. Client-facing I/O hands
// intents over through a bounded queue; a full queue rejects with
// ErrBackpressure instead of blocking the network layer. Audio frames
// bypass the queue entirely and go straight to the relay.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/culprit/pkg/backend"
	"github.com/haivivi/culprit/pkg/deduction"
	"github.com/haivivi/culprit/pkg/kv"
	"github.com/haivivi/culprit/pkg/relay"
	"github.com/haivivi/culprit/pkg/round"
	"github.com/haivivi/culprit/pkg/storage"
	"github.com/haivivi/culprit/pkg/transcript"
	"github.com/haivivi/culprit/pkg/wire"
)

// Sentinel errors.
var (
	// ErrBackpressure is returned when the session's intent queue is
	// full. The client should retry with backoff.
	ErrBackpressure = errors.New("session: intent queue full")

	// ErrStaleRound marks an intent referring to a round that already
	// advanced. Stale intents are dropped, never surfaced to the user.
	ErrStaleRound = errors.New("session: stale round")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session: closed")
)

// DefaultQueueSize bounds the per-session intent queue.
const DefaultQueueSize = 64

// DefaultRoundDuration bounds one interrogation when the config does not
// say otherwise.
const DefaultRoundDuration = 3 * time.Minute

// Suspect is one AI-driven character the players interrogate.
type Suspect struct {
	ID           string `json:"id" msgpack:"id" yaml:"id"`
	Name         string `json:"name" msgpack:"name" yaml:"name"`
	Instructions string `json:"-" msgpack:"instructions" yaml:"instructions"`
	Voice        string `json:"-" msgpack:"voice" yaml:"voice"`
}

// Evidence is one shared clue visible to all players.
type Evidence struct {
	ID    string `json:"id" msgpack:"id" yaml:"id"`
	Title string `json:"title" msgpack:"title" yaml:"title"`
	Text  string `json:"text" msgpack:"text" yaml:"text"`
}

// Subscriber receives broadcast frames for one connected client. Send
// must not block; a slow client is the gateway's problem, not the
// session worker's.
type Subscriber interface {
	Send(data []byte)
}

// Config assembles one session.
type Config struct {
	// RoomID keys the session and its persisted snapshot.
	RoomID string

	// Mode selects single-player deduction or multiplayer voting.
	Mode round.Mode

	// Players are the stable participant ids. Single mode needs one.
	Players []string

	// Suspects are the interrogation targets. CulpritID must name one.
	Suspects  []Suspect
	CulpritID string

	// Evidence is the shared clue set shown during setup.
	Evidence []Evidence

	// RoundDuration bounds each interrogation round. Zero means
	// DefaultRoundDuration; negative disables the countdown.
	RoundDuration time.Duration

	// QueueSize bounds the intent queue. Zero means DefaultQueueSize.
	QueueSize int

	// Backend produces suspect speech. Nil disables the audio path,
	// useful for text-only tests.
	Backend backend.Backend

	// Store persists snapshots for resume. Nil disables persistence.
	Store kv.Store

	// Archive receives the finished-game record. Nil disables archiving.
	Archive storage.FileStore

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Clock overrides the time source in tests.
	Clock func() time.Time
}

func (c *Config) validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("session: room id is required")
	}
	if len(c.Suspects) == 0 {
		return fmt.Errorf("session: at least one suspect is required")
	}
	if len(c.Players) == 0 {
		return fmt.Errorf("session: at least one player is required")
	}
	found := false
	for _, s := range c.Suspects {
		if s.ID == c.CulpritID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("session: culprit %q is not a suspect", c.CulpritID)
	}
	return nil
}

func (c *Config) queueSize() int {
	if c.QueueSize > 0 {
		return c.QueueSize
	}
	return DefaultQueueSize
}

func (c *Config) roundDuration() time.Duration {
	switch {
	case c.RoundDuration > 0:
		return c.RoundDuration
	case c.RoundDuration < 0:
		return 0
	default:
		return DefaultRoundDuration
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}

// Session is one live game. All methods are safe for concurrent use;
// they hand work to the single worker goroutine.
type Session struct {
	roomID string
	log    *slog.Logger
	cfg    Config

	intents   chan *intent
	internals chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Worker-owned state. Touched only from run().
	machine       *round.Machine
	graph         *deduction.Graph
	rec           *transcript.Reconciler
	relay         *relay.Relay
	backendStream backend.Stream
	roundSuspects map[string]string
	version       int64
	subscribers   map[Subscriber]string
	result        *round.Result
}

// New creates a session in Setup and starts its worker.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := newSession(cfg)
	s.machine = round.NewMachine(cfg.Mode, s.machineParticipants(), cfg.roundDuration(), round.WithClock(cfg.clock()))
	s.graph = deduction.NewGraph()
	s.start()
	return s, nil
}

// Resume rebuilds a session from a persisted snapshot and starts its
// worker. The config supplies the runtime collaborators; game state
// comes from the snapshot.
func Resume(cfg Config, snap *Snapshot) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if snap.RoomID != cfg.RoomID {
		return nil, fmt.Errorf("session: snapshot is for room %q, not %q", snap.RoomID, cfg.RoomID)
	}
	s := newSession(cfg)
	s.machine = round.FromSnapshot(snap.Machine, round.WithClock(cfg.clock()))
	s.graph = deduction.FromSnapshot(snap.Graph)
	s.version = snap.Version
	s.result = snap.Result
	for rid, sid := range snap.RoundSuspects {
		s.roundSuspects[rid] = sid
	}
	// An interrogation that was live at save time cannot survive a
	// restart; its audio stream is gone. Complete it with whatever
	// conversation the snapshot recorded.
	if r := s.machine.ActiveRound(); r != nil && r.Type == round.TypeInterrogation {
		if _, err := s.machine.EndInterrogation(r.Conversation); err != nil {
			return nil, fmt.Errorf("session: settle interrupted round: %w", err)
		}
		s.version++
	}
	s.start()
	return s, nil
}

func newSession(cfg Config) *Session {
	log := cfg.logger().With("room", cfg.RoomID)
	return &Session{
		roomID:        cfg.RoomID,
		log:           log,
		cfg:           cfg,
		intents:       make(chan *intent, cfg.queueSize()),
		internals:     make(chan func(), 256),
		done:          make(chan struct{}),
		rec:           transcript.New(),
		roundSuspects: make(map[string]string),
		subscribers:   make(map[Subscriber]string),
		relay: relay.New(relay.Config{
			ClientFormat:  clientFormat,
			BackendFormat: backendFormat,
			Logger:        log,
		}),
	}
}

func (s *Session) start() {
	s.wg.Add(1)
	go s.run()
}

// RoomID returns the session's room id.
func (s *Session) RoomID() string { return s.roomID }

// machineParticipants picks what the round machine iterates over:
// suspects in single mode, players taking turns in multi mode.
func (s *Session) machineParticipants() []string {
	if s.cfg.Mode == round.ModeMulti {
		return s.cfg.Players
	}
	ids := make([]string, 0, len(s.cfg.Suspects))
	for _, sp := range s.cfg.Suspects {
		ids = append(ids, sp.ID)
	}
	return ids
}

func (s *Session) suspect(id string) *Suspect {
	for i := range s.cfg.Suspects {
		if s.cfg.Suspects[i].ID == id {
			return &s.cfg.Suspects[i]
		}
	}
	return nil
}

// Join subscribes a client and replays the latest snapshot to it.
func (s *Session) Join(participantID string, sub Subscriber) error {
	return s.enqueueInternal(func() {
		s.subscribers[sub] = participantID
		s.sendSnapshot(sub)
	})
}

// Leave drops a subscriber. Safe to call for a subscriber that never
// joined.
func (s *Session) Leave(sub Subscriber) error {
	return s.enqueueInternal(func() {
		delete(s.subscribers, sub)
	})
}

// Dispatch queues one client intent for the worker. It fails fast with
// ErrBackpressure when the queue is full and ErrClosed after Close.
// Validation failures are reported to the submitting subscriber as
// error frames, not through the return value.
func (s *Session) Dispatch(from string, sub Subscriber, env *wire.Envelope) error {
	it := &intent{from: from, sub: sub, env: env}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.intents <- it:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return fmt.Errorf("%w: room %s", ErrBackpressure, s.roomID)
	}
}

// PushAudio forwards one user PCM16 frame to the round's relay stream.
// This path skips the intent queue so voice latency is independent of
// graph-edit traffic. Frames for a round that already advanced are
// dropped silently.
func (s *Session) PushAudio(roundID string, frame []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	st := s.relay.Stream(roundID)
	if st == nil {
		return nil
	}
	return st.PushClientFrame(frame)
}

// enqueueInternal hands a callback to the worker. Internal work is never
// subject to client backpressure, but a closed session rejects it.
func (s *Session) enqueueInternal(fn func()) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.internals <- fn:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Close stops the worker, tears down any open streams, and persists the
// final snapshot. Safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}
