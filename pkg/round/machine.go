package round

import (
	"fmt"
	"time"

	"github.com/haivivi/culprit/pkg/transcript"
)

// Mode selects the session flavor.
type Mode int

const (
	// ModeSingle is one player interrogating every suspect, then building
	// a deduction graph.
	ModeSingle Mode = iota
	// ModeMulti is several players taking interrogation turns, then
	// voting on a culprit.
	ModeMulti
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// Machine drives the phase flow
//
//	Setup → InterrogationSelect ⇄ InterrogationActive → Voting → Finished
//
// with one interrogation round per participant before voting opens.
type Machine struct {
	mode         Mode
	participants []string
	duration     time.Duration
	now          func() time.Time

	phase        Phase
	rounds       []*Round
	interrogated map[string]bool
	votes        map[string]string // voter -> suspect (multi mode)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock injects the time source. Tests use this to control deadlines.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a machine in Setup. Participants are the suspects to
// interrogate in single mode, or the players taking turns in multi mode.
// duration bounds each interrogation round; zero disables the countdown.
func NewMachine(mode Mode, participants []string, duration time.Duration, opts ...Option) *Machine {
	m := &Machine{
		mode:         mode,
		participants: append([]string(nil), participants...),
		duration:     duration,
		now:          time.Now,
		phase:        PhaseSetup,
		interrogated: make(map[string]bool),
		votes:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Mode returns the session mode.
func (m *Machine) Mode() Mode { return m.mode }

// Rounds returns the round list, oldest first. Callers must not mutate
// completed rounds.
func (m *Machine) Rounds() []*Round { return m.rounds }

// ActiveRound returns the round with StatusActive, or nil.
func (m *Machine) ActiveRound() *Round {
	if n := len(m.rounds); n > 0 && m.rounds[n-1].Status == StatusActive {
		return m.rounds[n-1]
	}
	return nil
}

// Remaining returns the time left on the active round's countdown, or 0
// when there is no deadline.
func (m *Machine) Remaining() time.Duration {
	r := m.ActiveRound()
	if r == nil || r.Deadline.IsZero() {
		return 0
	}
	left := r.Deadline.Time().Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

// StartGame leaves Setup and opens interrogation selection.
func (m *Machine) StartGame() error {
	if m.phase != PhaseSetup {
		return fmt.Errorf("%w: start game in phase %s", ErrInvalidTransition, m.phase)
	}
	if len(m.participants) == 0 {
		return fmt.Errorf("%w: start game with no participants", ErrInvalidTransition)
	}
	m.phase = PhaseInterrogationSelect
	return nil
}

// StartInterrogation opens an interrogation round for the participant.
// It fails when a round is already active, the participant is unknown, or
// the participant was interrogated before.
func (m *Machine) StartInterrogation(participantID string) (*Round, error) {
	if m.phase != PhaseInterrogationSelect {
		return nil, fmt.Errorf("%w: start interrogation in phase %s", ErrInvalidTransition, m.phase)
	}
	if m.ActiveRound() != nil {
		return nil, fmt.Errorf("%w: a round is already active", ErrInvalidTransition)
	}
	if !m.isParticipant(participantID) {
		return nil, fmt.Errorf("%w: unknown participant %s", ErrInvalidTransition, participantID)
	}
	if m.interrogated[participantID] {
		return nil, fmt.Errorf("%w: participant %s already interrogated", ErrInvalidTransition, participantID)
	}

	now := m.now()
	r := &Round{
		ID:            newRoundID(),
		Type:          TypeInterrogation,
		Status:        StatusActive,
		ParticipantID: participantID,
		StartedAt:     milli(now),
	}
	if m.duration > 0 {
		r.Deadline = milli(now.Add(m.duration))
	}
	m.rounds = append(m.rounds, r)
	m.phase = PhaseInterrogationActive
	return r, nil
}

// EndInterrogation completes the active interrogation round, records its
// conversation, and advances to the next selection or to voting once all
// participants are done. The voting round is created and activated here.
func (m *Machine) EndInterrogation(conversation []*transcript.Item) (*Round, error) {
	if m.phase != PhaseInterrogationActive {
		return nil, fmt.Errorf("%w: end interrogation in phase %s", ErrInvalidTransition, m.phase)
	}
	r := m.ActiveRound()
	if r == nil || r.Type != TypeInterrogation {
		return nil, fmt.Errorf("%w: no active interrogation round", ErrInvalidTransition)
	}

	r.Status = StatusCompleted
	r.Conversation = conversation
	m.interrogated[r.ParticipantID] = true

	if m.allInterrogated() {
		m.openVoting()
	} else {
		m.phase = PhaseInterrogationSelect
	}
	return r, nil
}

// ExpireRound is the countdown callback. It completes the round only if
// the given round is still the active one; a round already completed by a
// manual end (or an earlier expiry) makes this a no-op, so a racing timer
// and user intent produce exactly one completed transition.
func (m *Machine) ExpireRound(roundID string, conversation []*transcript.Item) (*Round, bool) {
	r := m.ActiveRound()
	if r == nil || r.ID != roundID {
		return nil, false
	}
	switch r.Type {
	case TypeInterrogation:
		done, err := m.EndInterrogation(conversation)
		if err != nil {
			return nil, false
		}
		return done, true
	default:
		return nil, false
	}
}

// SubmitDeduction completes the voting round with the given result and
// finishes the session. Single-player only; valid only from Voting.
func (m *Machine) SubmitDeduction(result *Result) (*Round, error) {
	if m.mode != ModeSingle {
		return nil, fmt.Errorf("%w: deduction submit in %s mode", ErrInvalidTransition, m.mode)
	}
	return m.completeVoting(result)
}

// SubmitVote records one player's accusation. When every participant has
// voted, the tally is computed into a Result, the voting round completes,
// and the session finishes. The returned Result is nil until then.
// Voting twice fails with ErrInvalidTransition.
func (m *Machine) SubmitVote(voterID, suspectID string) (*Result, error) {
	if m.mode != ModeMulti {
		return nil, fmt.Errorf("%w: vote in %s mode", ErrInvalidTransition, m.mode)
	}
	if m.phase != PhaseVoting {
		return nil, fmt.Errorf("%w: vote in phase %s", ErrInvalidTransition, m.phase)
	}
	if !m.isParticipant(voterID) {
		return nil, fmt.Errorf("%w: unknown voter %s", ErrInvalidTransition, voterID)
	}
	if _, dup := m.votes[voterID]; dup {
		return nil, fmt.Errorf("%w: %s already voted", ErrInvalidTransition, voterID)
	}
	m.votes[voterID] = suspectID

	if len(m.votes) < len(m.participants) {
		return nil, nil
	}

	result := tally(m.votes)
	if _, err := m.completeVoting(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Votes returns a copy of the recorded votes.
func (m *Machine) Votes() map[string]string {
	out := make(map[string]string, len(m.votes))
	for k, v := range m.votes {
		out[k] = v
	}
	return out
}

// tally counts votes and picks the most-accused suspect.
func tally(votes map[string]string) *Result {
	counts := make(map[string]int)
	for _, sid := range votes {
		counts[sid]++
	}
	best, bestN, tie := "", 0, false
	for sid, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tie = sid, n, false
		case n == bestN:
			tie = true
		}
	}
	r := &Result{VoteTally: counts, Tie: tie}
	if !tie {
		r.SuspectID = best
	}
	return r
}

func (m *Machine) completeVoting(result *Result) (*Round, error) {
	if m.phase != PhaseVoting {
		return nil, fmt.Errorf("%w: submit in phase %s", ErrInvalidTransition, m.phase)
	}
	r := m.ActiveRound()
	if r == nil || r.Type != TypeVoting {
		return nil, fmt.Errorf("%w: no active voting round", ErrInvalidTransition)
	}
	r.Status = StatusCompleted
	r.Result = result
	m.phase = PhaseFinished
	return r, nil
}

func (m *Machine) openVoting() {
	m.rounds = append(m.rounds, &Round{
		ID:        newRoundID(),
		Type:      TypeVoting,
		Status:    StatusActive,
		StartedAt: milli(m.now()),
	})
	m.phase = PhaseVoting
}

func (m *Machine) isParticipant(id string) bool {
	for _, p := range m.participants {
		if p == id {
			return true
		}
	}
	return false
}

func (m *Machine) allInterrogated() bool {
	for _, p := range m.participants {
		if !m.interrogated[p] {
			return false
		}
	}
	return true
}

// CheckInvariant verifies that at most one round is active and that every
// earlier round is completed. It returns an error describing the first
// violation; the orchestrator logs it as a programming error.
func (m *Machine) CheckInvariant() error {
	active := 0
	for i, r := range m.rounds {
		switch r.Status {
		case StatusActive:
			active++
			if i != len(m.rounds)-1 {
				return fmt.Errorf("round: non-terminal round %s is active", r.ID)
			}
		case StatusInactive:
			return fmt.Errorf("round: round %s left inactive in list", r.ID)
		}
	}
	if active > 1 {
		return fmt.Errorf("round: %d rounds active", active)
	}
	return nil
}
