package round

import (
	"time"

	"github.com/haivivi/culprit/pkg/transcript"
)

// MachineSnapshot is a serializable copy of the machine, embedded in the
// session snapshot for resume.
type MachineSnapshot struct {
	Mode         Mode              `json:"mode" msgpack:"mode"`
	Phase        Phase             `json:"phase" msgpack:"phase"`
	Participants []string          `json:"participants" msgpack:"participants"`
	Duration     time.Duration     `json:"duration" msgpack:"duration"`
	Rounds       []*Round          `json:"rounds" msgpack:"rounds"`
	Interrogated []string          `json:"interrogated,omitempty" msgpack:"interrogated,omitempty"`
	Votes        map[string]string `json:"votes,omitempty" msgpack:"votes,omitempty"`
}

// Snapshot copies the machine state. Rounds are deep-copied so the
// snapshot stays stable while the machine advances.
func (m *Machine) Snapshot() *MachineSnapshot {
	s := &MachineSnapshot{
		Mode:         m.mode,
		Phase:        m.phase,
		Participants: append([]string(nil), m.participants...),
		Duration:     m.duration,
		Votes:        m.Votes(),
	}
	for _, r := range m.rounds {
		cp := *r
		cp.Conversation = make([]*transcript.Item, 0, len(r.Conversation))
		for _, item := range r.Conversation {
			cp.Conversation = append(cp.Conversation, item.Clone())
		}
		if r.Result != nil {
			res := *r.Result
			cp.Result = &res
		}
		s.Rounds = append(s.Rounds, &cp)
	}
	for p, done := range m.interrogated {
		if done {
			s.Interrogated = append(s.Interrogated, p)
		}
	}
	return s
}

// FromSnapshot rebuilds a machine from a snapshot, keeping the default
// clock unless an option overrides it.
func FromSnapshot(s *MachineSnapshot, opts ...Option) *Machine {
	m := NewMachine(s.Mode, s.Participants, s.Duration, opts...)
	m.phase = s.Phase
	m.rounds = s.Rounds
	for _, p := range s.Interrogated {
		m.interrogated[p] = true
	}
	for voter, sid := range s.Votes {
		m.votes[voter] = sid
	}
	return m
}
