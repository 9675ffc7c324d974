package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haivivi/culprit/pkg/round"
	"github.com/haivivi/culprit/pkg/storage"
)

const archiveTimeout = 30 * time.Second

// archiveDoc is the finished-game record written to the archive store.
type archiveDoc struct {
	RoomID     string        `json:"room_id"`
	Mode       string        `json:"mode"`
	FinishedAt int64         `json:"finished_at"`
	CulpritID  string        `json:"culprit_id"`
	Result     *round.Result `json:"result"`
	Snapshot   *Snapshot     `json:"snapshot"`
}

// archive moves the finished game out of the hot store. The write runs
// off the worker so a slow bucket cannot stall broadcasts; Close still
// waits for it.
func (s *Session) archive() {
	if s.cfg.Archive == nil {
		return
	}
	snap := s.snapshot()
	finishedAt := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := writeArchive(ctx, s.cfg.Archive, snap, finishedAt); err != nil {
			s.log.Error("archive write failed", "err", err)
			return
		}
		s.log.Info("game archived", "room", s.roomID)
	}()
}

func writeArchive(ctx context.Context, store storage.FileStore, snap *Snapshot, finishedAt time.Time) error {
	doc := archiveDoc{
		RoomID:     snap.RoomID,
		Mode:       snap.Mode.String(),
		FinishedAt: finishedAt.UnixMilli(),
		CulpritID:  snap.CulpritID,
		Result:     snap.Result,
		Snapshot:   snap,
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode archive: %w", err)
	}
	base := "archive/" + snap.RoomID
	if err := storage.WriteAll(ctx, store, base+"/result.json", data); err != nil {
		return err
	}
	return storage.WriteAll(ctx, store, base+"/transcript.txt", []byte(renderTranscript(snap)))
}

// renderTranscript formats the interrogation logs for human review.
func renderTranscript(snap *Snapshot) string {
	names := make(map[string]string, len(snap.Suspects))
	for _, sp := range snap.Suspects {
		names[sp.ID] = sp.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "room %s (%s)\n", snap.RoomID, snap.Mode)
	for _, r := range snap.Machine.Rounds {
		if r.Type != round.TypeInterrogation {
			continue
		}
		suspectID := snap.RoundSuspects[r.ID]
		name := names[suspectID]
		if name == "" {
			name = suspectID
		}
		fmt.Fprintf(&b, "\n== interrogation of %s (%s) ==\n", name, r.ID)
		for _, item := range r.Conversation {
			fmt.Fprintf(&b, "%s: %s\n", item.Speaker, item.Text)
		}
	}
	if res := snap.Result; res != nil {
		fmt.Fprintf(&b, "\naccused: %s\ncorrect: %v\nwarmth: %d\n",
			res.SuspectID, res.Correct, res.Warmth)
	}
	return b.String()
}
