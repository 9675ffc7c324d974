package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haivivi/culprit/pkg/audio/pcm"
	"github.com/haivivi/culprit/pkg/backend"
	"github.com/haivivi/culprit/pkg/deduction"
	"github.com/haivivi/culprit/pkg/round"
	"github.com/haivivi/culprit/pkg/transcript"
	"github.com/haivivi/culprit/pkg/wire"
)

// Audio formats on the two legs of the relay.
const (
	clientFormat  = pcm.L16Mono16K
	backendFormat = pcm.L16Mono24K
)

const connectTimeout = 10 * time.Second

// intent is one queued client message.
type intent struct {
	from string
	sub  Subscriber
	env  *wire.Envelope
}

func (s *Session) run() {
	defer s.wg.Done()
	defer s.teardown()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-s.done:
			return
		case fn := <-s.internals:
			fn()
		case it := <-s.intents:
			s.handleIntent(it)
		case <-tick.C:
			s.handleTick()
		}
	}
}

func (s *Session) teardown() {
	if r := s.machine.ActiveRound(); r != nil {
		s.relay.CloseStream(r.ID)
	}
	s.closeAudio()
	s.persist()
}

func (s *Session) now() time.Time {
	return s.cfg.clock()()
}

func (s *Session) handleIntent(it *intent) {
	var err error
	switch it.env.Type {
	case wire.TypeGameStart:
		err = s.handleGameStart()
	case wire.TypeRealtimeStart:
		err = s.handleRealtimeStart(it)
	case wire.TypeRealtimeEnd:
		err = s.handleRealtimeEnd(it)
	case wire.TypeTranscriptDoneUser:
		err = s.handleUserTranscript(it)
	case wire.TypeDeductionNodeCreate:
		err = s.handleNodeCreate(it)
	case wire.TypeDeductionLeadCreate:
		err = s.handleLeadCreate(it)
	case wire.TypeDeductionLeadRemove:
		err = s.handleLeadRemove(it)
	case wire.TypeDeductionSubmit:
		err = s.handleDeductionSubmit(it)
	case wire.TypeVoteSubmit:
		err = s.handleVoteSubmit(it)
	default:
		err = fmt.Errorf("unknown message type %q", it.env.Type)
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrStaleRound) {
		s.log.Debug("dropped stale intent", "type", it.env.Type, "from", it.from)
		return
	}
	s.log.Warn("rejected intent",
		"type", it.env.Type, "from", it.from, "err", err)
	s.reject(it.sub, errorCode(err), err)
}

// errorCode maps a rejection to its stable wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, round.ErrInvalidTransition):
		return wire.CodeInvalidTransition
	case errors.Is(err, deduction.ErrGraphFrozen):
		return wire.CodeGraphFrozen
	case errors.Is(err, transcript.ErrUnknownResponse):
		return wire.CodeUnknownResponse
	default:
		return wire.CodeBadMessage
	}
}

func (s *Session) handleGameStart() error {
	if err := s.machine.StartGame(); err != nil {
		return err
	}
	s.mutated()
	return nil
}

func (s *Session) handleRealtimeStart(it *intent) error {
	req, err := wire.Decode[wire.RealtimeStart](it.env)
	if err != nil {
		return err
	}
	sp := s.suspect(req.SuspectID)
	if sp == nil {
		return fmt.Errorf("%w: unknown suspect %q", round.ErrInvalidTransition, req.SuspectID)
	}

	participant := req.SuspectID
	if s.cfg.Mode == round.ModeMulti {
		participant = it.from
	}
	r, err := s.machine.StartInterrogation(participant)
	if err != nil {
		return err
	}

	s.roundSuspects[r.ID] = sp.ID
	s.rec = transcript.New()
	s.openAudio(r, sp)
	s.mutated()
	return nil
}

// openAudio connects the backend and wires the relay for one round. A
// connect failure degrades the round to text-only rather than failing
// the transition that already happened.
func (s *Session) openAudio(r *round.Round, sp *Suspect) {
	if s.cfg.Backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	stream, err := s.cfg.Backend.Connect(ctx, backend.Persona{
		SuspectID:    sp.ID,
		Name:         sp.Name,
		Instructions: sp.Instructions,
		Voice:        sp.Voice,
	})
	if err != nil {
		s.log.Error("backend connect failed, round continues without audio",
			"round", r.ID, "suspect", sp.ID, "err", err)
		return
	}
	s.backendStream = stream

	roundID := r.ID
	clientW := pcm.WriteFunc(func(c pcm.Chunk) error {
		s.broadcast(wire.TypeAudioDeltaAssistant, wire.AudioDelta{
			RoundID: roundID,
			Delta:   pcm.Bytes(c),
		})
		return nil
	})
	rs, err := s.relay.Open(roundID, r.ParticipantID, stream, clientW, func() {
		stream.Close()
	})
	if err != nil {
		s.log.Error("relay open failed", "round", roundID, "err", err)
		stream.Close()
		s.backendStream = nil
		return
	}

	s.wg.Add(1)
	go s.pumpBackend(roundID, stream, rs)
}

// pumpBackend consumes backend events for one round. Audio goes straight
// to the relay's low-latency path; transcript events hop onto the worker.
func (s *Session) pumpBackend(roundID string, stream backend.Stream, rs relayStream) {
	defer s.wg.Done()
	for ev, err := range stream.Events() {
		if err != nil {
			s.log.Warn("backend event stream ended", "round", roundID, "err", err)
			return
		}
		if ev.Type == backend.EventAudioDelta {
			if err := rs.PushBackendFrame(ev.Audio); err != nil {
				s.log.Debug("backend frame dropped", "round", roundID, "err", err)
			}
			continue
		}
		if err := s.enqueueInternal(func() { s.handleBackendEvent(roundID, ev) }); err != nil {
			return
		}
	}
}

// relayStream is the slice of the relay stream the backend pump needs.
type relayStream interface {
	PushBackendFrame(frame []byte) error
}

func (s *Session) handleBackendEvent(roundID string, ev *backend.Event) {
	active := s.machine.ActiveRound()
	if active == nil || active.ID != roundID {
		s.log.Debug("dropped backend event for advanced round",
			"round", roundID, "type", ev.Type)
		return
	}

	switch ev.Type {
	case backend.EventTranscriptDelta:
		if _, err := s.rec.ApplyDelta(ev.ResponseID, transcript.SpeakerAssistant, ev.Text, s.now()); err != nil {
			s.log.Warn("assistant delta rejected", "response", ev.ResponseID, "err", err)
			return
		}
		s.broadcast(wire.TypeTranscriptDeltaAssistant, wire.TranscriptDelta{
			RoundID:    roundID,
			ResponseID: ev.ResponseID,
			Delta:      ev.Text,
		})
	case backend.EventTranscriptDone:
		if _, err := s.rec.Finalize(ev.ResponseID); err != nil {
			// Every delta for this response was lost. Recover the
			// utterance from the final text when the backend sent one.
			if !errors.Is(err, transcript.ErrUnknownResponse) || ev.Text == "" {
				s.log.Warn("assistant finalize rejected", "response", ev.ResponseID, "err", err)
				return
			}
			if _, err := s.rec.ApplyDelta(ev.ResponseID, transcript.SpeakerAssistant, ev.Text, s.now()); err != nil {
				return
			}
			if _, err := s.rec.Finalize(ev.ResponseID); err != nil {
				return
			}
		}
	case backend.EventUserTranscriptDone:
		s.recordUserUtterance(roundID, ev.ResponseID, ev.Text)
	}
}

func (s *Session) recordUserUtterance(roundID, responseID, text string) {
	if _, err := s.rec.ApplyDelta(responseID, transcript.SpeakerUser, text, s.now()); err != nil {
		s.log.Warn("user transcript rejected", "response", responseID, "err", err)
		return
	}
	if _, err := s.rec.Finalize(responseID); err != nil {
		s.log.Warn("user finalize rejected", "response", responseID, "err", err)
		return
	}
	s.broadcast(wire.TypeTranscriptDoneUser, wire.TranscriptDone{
		RoundID:    roundID,
		ResponseID: responseID,
		Text:       text,
	})
}

// handleUserTranscript records a client-submitted user utterance and
// prompts the suspect to reply. This is the text path; with live audio
// the backend's own transcription events drive the same bookkeeping.
func (s *Session) handleUserTranscript(it *intent) error {
	req, err := wire.Decode[wire.TranscriptDone](it.env)
	if err != nil {
		return err
	}
	active := s.machine.ActiveRound()
	if active == nil || active.Type != round.TypeInterrogation {
		return fmt.Errorf("%w: no interrogation in progress", round.ErrInvalidTransition)
	}
	if req.RoundID != "" && req.RoundID != active.ID {
		return fmt.Errorf("%w: round %s", ErrStaleRound, req.RoundID)
	}
	if req.ResponseID == "" {
		return fmt.Errorf("user transcript without response id: %w", transcript.ErrUnknownResponse)
	}
	s.recordUserUtterance(active.ID, req.ResponseID, req.Text)
	if s.backendStream != nil {
		if err := s.backendStream.Commit(); err != nil {
			s.log.Warn("backend commit failed", "round", active.ID, "err", err)
		}
	}
	return nil
}

// handleRealtimeEnd completes the active interrogation. Ending when no
// interrogation is active is a silent no-op so that a user request and a
// countdown expiry can race without a spurious error.
func (s *Session) handleRealtimeEnd(it *intent) error {
	req, err := wire.Decode[wire.RealtimeEnd](it.env)
	if err != nil {
		return err
	}
	active := s.machine.ActiveRound()
	if active == nil || active.Type != round.TypeInterrogation {
		return fmt.Errorf("%w: no active interrogation", ErrStaleRound)
	}
	if req.RoundID != "" && req.RoundID != active.ID {
		return fmt.Errorf("%w: round %s", ErrStaleRound, req.RoundID)
	}
	if _, err := s.machine.EndInterrogation(s.rec.Items()); err != nil {
		return err
	}
	s.finishRound(active.ID)
	return nil
}

// finishRound tears down the audio path of a completed interrogation and
// broadcasts the advanced state.
func (s *Session) finishRound(roundID string) {
	s.relay.CloseStream(roundID)
	s.closeAudio()
	s.rec = transcript.New()
	if err := s.machine.CheckInvariant(); err != nil {
		s.log.Error("round invariant violated", "err", err)
	}
	s.mutated()
}

func (s *Session) closeAudio() {
	if s.backendStream != nil {
		s.backendStream.Close()
		s.backendStream = nil
	}
}

func (s *Session) handleTick() {
	r := s.machine.ActiveRound()
	if r == nil || r.Deadline.IsZero() {
		return
	}
	remaining := s.machine.Remaining()
	s.broadcast(wire.TypeRoundTick, wire.RoundTick{
		RoundID:     r.ID,
		RemainingMS: remaining.Milliseconds(),
	})
	if remaining > 0 {
		return
	}
	// The guard inside ExpireRound makes a tick that lost the race
	// against a manual end a no-op.
	if _, ok := s.machine.ExpireRound(r.ID, s.rec.Items()); ok {
		s.log.Info("round expired", "round", r.ID)
		s.finishRound(r.ID)
	}
}

func (s *Session) votingPhase() error {
	if s.machine.Phase() != round.PhaseVoting {
		return fmt.Errorf("%w: graph mutation in phase %s", round.ErrInvalidTransition, s.machine.Phase())
	}
	return nil
}

func (s *Session) handleNodeCreate(it *intent) error {
	if err := s.votingPhase(); err != nil {
		return err
	}
	req, err := wire.Decode[wire.NodeCreate](it.env)
	if err != nil {
		return err
	}
	nt, err := parseNodeType(req.NodeType)
	if err != nil {
		return err
	}
	if _, err := s.graph.AddNode(deduction.Node{
		ID:        req.ID,
		Type:      nt,
		Speaker:   req.Speaker,
		Text:      req.Text,
		SuspectID: req.SuspectID,
	}); err != nil {
		return err
	}
	s.mutated()
	return nil
}

func (s *Session) handleLeadCreate(it *intent) error {
	if err := s.votingPhase(); err != nil {
		return err
	}
	req, err := wire.Decode[wire.LeadCreate](it.env)
	if err != nil {
		return err
	}
	et, err := parseEdgeType(req.LeadType)
	if err != nil {
		return err
	}
	if _, err := s.graph.AddEdge(req.SourceID, req.TargetID, et); err != nil {
		return err
	}
	s.mutated()
	return nil
}

func (s *Session) handleLeadRemove(it *intent) error {
	if err := s.votingPhase(); err != nil {
		return err
	}
	req, err := wire.Decode[wire.LeadRemove](it.env)
	if err != nil {
		return err
	}
	if err := s.graph.RemoveEdge(req.LeadID); err != nil {
		return err
	}
	s.mutated()
	return nil
}

func (s *Session) handleDeductionSubmit(it *intent) error {
	if err := s.votingPhase(); err != nil {
		return err
	}
	s.graph.Freeze()
	verdict := s.graph.ComputeImplicatedSuspect()
	warmth := s.graph.Warmth()
	correct := verdict.SuspectID != "" && verdict.SuspectID == s.cfg.CulpritID
	result := &round.Result{
		SuspectID:  verdict.SuspectID,
		Correct:    correct,
		Warmth:     warmth,
		GuiltDelta: guiltDelta(correct, warmth),
	}
	if _, err := s.machine.SubmitDeduction(result); err != nil {
		return err
	}
	s.finish(result)
	return nil
}

func (s *Session) handleVoteSubmit(it *intent) error {
	req, err := wire.Decode[wire.VoteSubmit](it.env)
	if err != nil {
		return err
	}
	result, err := s.machine.SubmitVote(it.from, req.SuspectID)
	if err != nil {
		return err
	}
	if result == nil {
		s.mutated()
		return nil
	}
	result.Correct = !result.Tie && result.SuspectID == s.cfg.CulpritID
	result.GuiltDelta = guiltDelta(result.Correct, result.Warmth)
	s.finish(result)
	return nil
}

// finish records the outcome and fans the final state out: one snapshot
// broadcast, one persisted copy, one archive document.
func (s *Session) finish(result *round.Result) {
	s.result = result
	s.closeAudio()
	s.mutated()
	s.archive()
}

// guiltDelta turns the outcome into the score change handed to the
// external rating layer. A correct accusation pays out with the graph's
// warmth; a wrong one costs a flat penalty.
func guiltDelta(correct bool, warmth int) int {
	if correct {
		return 50 + warmth/2
	}
	return -25
}

func parseNodeType(name string) (deduction.NodeType, error) {
	switch name {
	case "statement":
		return deduction.NodeStatement, nil
	case "evidence":
		return deduction.NodeEvidence, nil
	case "suspect":
		return deduction.NodeSuspect, nil
	default:
		return deduction.NodeUnknown, fmt.Errorf("unknown node type %q", name)
	}
}

func parseEdgeType(name string) (deduction.EdgeType, error) {
	switch name {
	case "implicates":
		return deduction.EdgeImplicates, nil
	case "supports":
		return deduction.EdgeSupports, nil
	case "contradicts":
		return deduction.EdgeContradicts, nil
	default:
		return deduction.EdgeUnknown, fmt.Errorf("unknown lead type %q", name)
	}
}

// mutated runs after every accepted state change: bump the version,
// persist, and broadcast the canonical snapshot.
func (s *Session) mutated() {
	s.version++
	s.persist()
	s.broadcastSnapshot()
}

func (s *Session) reject(sub Subscriber, code string, err error) {
	if sub == nil {
		return
	}
	sub.Send(wire.NewError(code, err.Error()))
}

func (s *Session) broadcast(msgType string, payload any) {
	data, err := wire.Marshal(msgType, payload)
	if err != nil {
		s.log.Error("broadcast encode failed", "type", msgType, "err", err)
		return
	}
	for sub := range s.subscribers {
		sub.Send(data)
	}
}
