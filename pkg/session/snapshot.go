package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/culprit/pkg/deduction"
	"github.com/haivivi/culprit/pkg/kv"
	"github.com/haivivi/culprit/pkg/round"
	"github.com/haivivi/culprit/pkg/wire"
)

// Status is the coarse session lifecycle derived from the round phase.
type Status int

const (
	StatusSetup Status = iota
	StatusActive
	StatusFinished
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSetup:
		return "setup"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
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
	case "setup":
		*s = StatusSetup
	case "active":
		*s = StatusActive
	case "finished":
		*s = StatusFinished
	default:
		return fmt.Errorf("session: unknown status %q", name)
	}
	return nil
}

func statusOf(p round.Phase) Status {
	switch p {
	case round.PhaseSetup:
		return StatusSetup
	case round.PhaseFinished:
		return StatusFinished
	default:
		return StatusActive
	}
}

// Snapshot is the canonical serialized state of one session. The same
// document is broadcast to clients as JSON and persisted as msgpack; the
// culprit is blanked on the client copy until the game finishes.
type Snapshot struct {
	RoomID        string                 `json:"room_id" msgpack:"room_id"`
	Version       int64                  `json:"version" msgpack:"version"`
	Mode          round.Mode             `json:"mode" msgpack:"mode"`
	Status        Status                 `json:"status" msgpack:"status"`
	Phase         round.Phase            `json:"phase" msgpack:"phase"`
	Players       []string               `json:"players" msgpack:"players"`
	Suspects      []Suspect              `json:"suspects" msgpack:"suspects"`
	Evidence      []Evidence             `json:"evidence,omitempty" msgpack:"evidence,omitempty"`
	Machine       *round.MachineSnapshot `json:"machine" msgpack:"machine"`
	Graph         *deduction.Snapshot    `json:"graph,omitempty" msgpack:"graph,omitempty"`
	RoundSuspects map[string]string      `json:"round_suspects,omitempty" msgpack:"round_suspects,omitempty"`
	Result        *round.Result          `json:"result,omitempty" msgpack:"result,omitempty"`
	CulpritID     string                 `json:"culprit_id,omitempty" msgpack:"culprit_id,omitempty"`
}

// snapshot copies the worker-owned state. Worker only.
func (s *Session) snapshot() *Snapshot {
	snap := &Snapshot{
		RoomID:    s.roomID,
		Version:   s.version,
		Mode:      s.cfg.Mode,
		Status:    statusOf(s.machine.Phase()),
		Phase:     s.machine.Phase(),
		Players:   append([]string(nil), s.cfg.Players...),
		Suspects:  append([]Suspect(nil), s.cfg.Suspects...),
		Evidence:  append([]Evidence(nil), s.cfg.Evidence...),
		Machine:   s.machine.Snapshot(),
		Graph:     s.graph.Snapshot(),
		Result:    s.result,
		CulpritID: s.cfg.CulpritID,
	}
	if len(s.roundSuspects) > 0 {
		snap.RoundSuspects = make(map[string]string, len(s.roundSuspects))
		for k, v := range s.roundSuspects {
			snap.RoundSuspects[k] = v
		}
	}
	return snap
}

// clientFrame encodes the snapshot as a game:updated broadcast, hiding
// the culprit while the game is still in progress.
func (s *Session) clientFrame(snap *Snapshot) ([]byte, error) {
	view := *snap
	if view.Status != StatusFinished {
		view.CulpritID = ""
	}
	state, err := json.Marshal(&view)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(wire.TypeGameUpdated, wire.GameUpdated{
		Version: snap.Version,
		State:   state,
	})
}

func (s *Session) broadcastSnapshot() {
	data, err := s.clientFrame(s.snapshot())
	if err != nil {
		s.log.Error("snapshot encode failed", "err", err)
		return
	}
	for sub := range s.subscribers {
		sub.Send(data)
	}
}

func (s *Session) sendSnapshot(sub Subscriber) {
	data, err := s.clientFrame(s.snapshot())
	if err != nil {
		s.log.Error("snapshot encode failed", "err", err)
		return
	}
	sub.Send(data)
}

// persist writes the msgpack snapshot to the store.
func (s *Session) persist() {
	if s.cfg.Store == nil {
		return
	}
	data, err := msgpack.Marshal(s.snapshot())
	if err != nil {
		s.log.Error("snapshot marshal failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.Set(ctx, snapshotKey(s.roomID), data); err != nil {
		s.log.Error("snapshot persist failed", "err", err)
	}
}

func snapshotKey(roomID string) kv.Key {
	return kv.Key{"session", roomID}
}

// LoadSnapshot reads a persisted session snapshot. Missing rooms yield
// kv.ErrNotFound.
func LoadSnapshot(ctx context.Context, store kv.Store, roomID string) (*Snapshot, error) {
	data, err := store.Get(ctx, snapshotKey(roomID))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session: decode snapshot for %s: %w", roomID, err)
	}
	return &snap, nil
}

// DeleteSnapshot drops a persisted session.
func DeleteSnapshot(ctx context.Context, store kv.Store, roomID string) error {
	return store.Delete(ctx, snapshotKey(roomID))
}
