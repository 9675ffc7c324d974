package round

import (
	"errors"
	"testing"
	"time"

	"github.com/haivivi/culprit/pkg/transcript"
)

func singleMachine(t *testing.T, suspects ...string) *Machine {
	t.Helper()
	if len(suspects) == 0 {
		suspects = []string{"suspect-a", "suspect-b"}
	}
	return NewMachine(ModeSingle, suspects, 90*time.Second)
}

func checkInvariant(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.CheckInvariant(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestStartGame(t *testing.T) {
	m := singleMachine(t)
	if err := m.StartGame(); err != nil {
		t.Fatalf("StartGame error: %v", err)
	}
	if m.Phase() != PhaseInterrogationSelect {
		t.Errorf("Phase = %v, want interrogation_select", m.Phase())
	}
	if err := m.StartGame(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second StartGame = %v, want ErrInvalidTransition", err)
	}
	checkInvariant(t, m)
}

func TestStartGame_NoParticipants(t *testing.T) {
	m := NewMachine(ModeSingle, nil, 0)
	if err := m.StartGame(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("StartGame with no participants = %v, want ErrInvalidTransition", err)
	}
}

func TestStartInterrogation(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()

	r, err := m.StartInterrogation("suspect-a")
	if err != nil {
		t.Fatalf("StartInterrogation error: %v", err)
	}
	if r.Status != StatusActive || r.ParticipantID != "suspect-a" {
		t.Errorf("round = %+v, want active for suspect-a", r)
	}
	if r.Deadline.IsZero() {
		t.Error("timed machine should set a deadline")
	}
	if m.Phase() != PhaseInterrogationActive {
		t.Errorf("Phase = %v, want interrogation_active", m.Phase())
	}
	checkInvariant(t, m)

	// A second start while a round is active is rejected.
	if _, err := m.StartInterrogation("suspect-b"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("overlapping start = %v, want ErrInvalidTransition", err)
	}
	// Unknown participant.
	m2 := singleMachine(t)
	m2.StartGame()
	if _, err := m2.StartInterrogation("nobody"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown participant = %v, want ErrInvalidTransition", err)
	}
}

func TestStartInterrogation_BeforeStartGame(t *testing.T) {
	m := singleMachine(t)
	if _, err := m.StartInterrogation("suspect-a"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start before game = %v, want ErrInvalidTransition", err)
	}
}

func TestEndInterrogation_AdvancesThroughAllSuspects(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()

	conv := []*transcript.Item{{ResponseID: "r1", Speaker: transcript.SpeakerAssistant, Text: "I was home."}}

	m.StartInterrogation("suspect-a")
	done, err := m.EndInterrogation(conv)
	if err != nil {
		t.Fatalf("EndInterrogation error: %v", err)
	}
	if done.Status != StatusCompleted || len(done.Conversation) != 1 {
		t.Errorf("completed round = %+v, want completed with conversation", done)
	}
	if m.Phase() != PhaseInterrogationSelect {
		t.Errorf("Phase = %v, want interrogation_select", m.Phase())
	}
	checkInvariant(t, m)

	// Same suspect cannot be interrogated twice.
	if _, err := m.StartInterrogation("suspect-a"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("re-interrogation = %v, want ErrInvalidTransition", err)
	}

	m.StartInterrogation("suspect-b")
	if _, err := m.EndInterrogation(nil); err != nil {
		t.Fatalf("EndInterrogation error: %v", err)
	}

	// All suspects done: voting round opens automatically.
	if m.Phase() != PhaseVoting {
		t.Errorf("Phase = %v, want voting", m.Phase())
	}
	active := m.ActiveRound()
	if active == nil || active.Type != TypeVoting {
		t.Fatalf("active round = %+v, want voting round", active)
	}
	checkInvariant(t, m)
}

func TestEndInterrogation_WithoutActiveRound(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()
	if _, err := m.EndInterrogation(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("end without round = %v, want ErrInvalidTransition", err)
	}
}

func TestExpireRound_TimerVsManualRace(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()
	r, _ := m.StartInterrogation("suspect-a")

	// Manual end wins; the timer callback is a no-op.
	if _, err := m.EndInterrogation(nil); err != nil {
		t.Fatalf("EndInterrogation error: %v", err)
	}
	if _, fired := m.ExpireRound(r.ID, nil); fired {
		t.Error("timer expiry after manual end should be a no-op")
	}

	completed := 0
	for _, round := range m.Rounds() {
		if round.Type == TypeInterrogation && round.Status == StatusCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("completed interrogation rounds = %d, want 1", completed)
	}
	checkInvariant(t, m)
}

func TestExpireRound_TimerFirst(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()
	r, _ := m.StartInterrogation("suspect-a")

	if _, fired := m.ExpireRound(r.ID, nil); !fired {
		t.Fatal("timer expiry on active round should fire")
	}
	// Manual end after the timer is an invalid transition (round gone).
	if _, err := m.EndInterrogation(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("manual end after expiry = %v, want ErrInvalidTransition", err)
	}
	// A stale/duplicate expiry is also a no-op.
	if _, fired := m.ExpireRound(r.ID, nil); fired {
		t.Error("duplicate expiry should be a no-op")
	}
	checkInvariant(t, m)
}

func TestSubmitDeduction(t *testing.T) {
	m := singleMachine(t, "suspect-a")
	m.StartGame()
	m.StartInterrogation("suspect-a")
	m.EndInterrogation(nil)

	if m.Phase() != PhaseVoting {
		t.Fatalf("Phase = %v, want voting", m.Phase())
	}
	result := &Result{SuspectID: "suspect-a", Correct: true, Warmth: 50, GuiltDelta: 10}
	r, err := m.SubmitDeduction(result)
	if err != nil {
		t.Fatalf("SubmitDeduction error: %v", err)
	}
	if r.Result != result || r.Status != StatusCompleted {
		t.Errorf("voting round = %+v, want completed with result", r)
	}
	if m.Phase() != PhaseFinished {
		t.Errorf("Phase = %v, want finished", m.Phase())
	}
	// Submitting again is rejected.
	if _, err := m.SubmitDeduction(result); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second submit = %v, want ErrInvalidTransition", err)
	}
	checkInvariant(t, m)
}

func TestSubmitDeduction_OutsideVoting(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()
	if _, err := m.SubmitDeduction(&Result{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("deduction before voting = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitVote_MultiMode(t *testing.T) {
	m := NewMachine(ModeMulti, []string{"p1", "p2", "p3"}, 0)
	m.StartGame()
	for _, p := range []string{"p1", "p2", "p3"} {
		m.StartInterrogation(p)
		m.EndInterrogation(nil)
	}
	if m.Phase() != PhaseVoting {
		t.Fatalf("Phase = %v, want voting", m.Phase())
	}

	if res, err := m.SubmitVote("p1", "suspect-x"); err != nil || res != nil {
		t.Fatalf("first vote = %v,%v, want nil,nil", res, err)
	}
	if _, err := m.SubmitVote("p1", "suspect-y"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("duplicate vote = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.SubmitVote("stranger", "suspect-x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stranger vote = %v, want ErrInvalidTransition", err)
	}
	m.SubmitVote("p2", "suspect-x")
	res, err := m.SubmitVote("p3", "suspect-y")
	if err != nil {
		t.Fatalf("final vote error: %v", err)
	}
	if res == nil || res.SuspectID != "suspect-x" || res.Tie {
		t.Errorf("result = %+v, want suspect-x majority", res)
	}
	if res.VoteTally["suspect-x"] != 2 || res.VoteTally["suspect-y"] != 1 {
		t.Errorf("tally = %v, want x:2 y:1", res.VoteTally)
	}
	if m.Phase() != PhaseFinished {
		t.Errorf("Phase = %v, want finished", m.Phase())
	}
	checkInvariant(t, m)
}

func TestSubmitVote_Tie(t *testing.T) {
	m := NewMachine(ModeMulti, []string{"p1", "p2"}, 0)
	m.StartGame()
	for _, p := range []string{"p1", "p2"} {
		m.StartInterrogation(p)
		m.EndInterrogation(nil)
	}
	m.SubmitVote("p1", "suspect-x")
	res, err := m.SubmitVote("p2", "suspect-y")
	if err != nil {
		t.Fatalf("final vote error: %v", err)
	}
	if !res.Tie || res.SuspectID != "" {
		t.Errorf("result = %+v, want tie with no suspect", res)
	}
}

func TestRemaining(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	m := NewMachine(ModeSingle, []string{"s"}, time.Minute, WithClock(func() time.Time { return current }))
	m.StartGame()
	if m.Remaining() != 0 {
		t.Errorf("Remaining without round = %v, want 0", m.Remaining())
	}
	m.StartInterrogation("s")
	if got := m.Remaining(); got != time.Minute {
		t.Errorf("Remaining = %v, want 1m", got)
	}
	current = base.Add(40 * time.Second)
	if got := m.Remaining(); got != 20*time.Second {
		t.Errorf("Remaining = %v, want 20s", got)
	}
	current = base.Add(2 * time.Minute)
	if got := m.Remaining(); got != 0 {
		t.Errorf("Remaining past deadline = %v, want 0", got)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := singleMachine(t)
	m.StartGame()
	m.StartInterrogation("suspect-a")
	m.EndInterrogation([]*transcript.Item{{ResponseID: "r1", Text: "hello", Final: true}})

	s := m.Snapshot()
	restored := FromSnapshot(s)

	if restored.Phase() != PhaseInterrogationSelect {
		t.Errorf("restored Phase = %v, want interrogation_select", restored.Phase())
	}
	if len(restored.Rounds()) != 1 {
		t.Fatalf("restored rounds = %d, want 1", len(restored.Rounds()))
	}
	// suspect-a is still marked interrogated.
	if _, err := restored.StartInterrogation("suspect-a"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("restored re-interrogation = %v, want ErrInvalidTransition", err)
	}
	if _, err := restored.StartInterrogation("suspect-b"); err != nil {
		t.Errorf("restored fresh interrogation error: %v", err)
	}
	checkInvariant(t, restored)
}
