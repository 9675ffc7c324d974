package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/culprit/pkg/audio/pcm"
)

// collectSink records appended frames and can simulate a stalled backend.
type collectSink struct {
	mu     sync.Mutex
	frames [][]byte
	block  chan struct{} // when non-nil, AppendAudio waits on it
}

func (c *collectSink) AppendAudio(frame []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// clientWriter records chunks written toward the client.
type clientWriter struct {
	mu     sync.Mutex
	chunks []pcm.Chunk
}

func (c *clientWriter) Write(chunk pcm.Chunk) error {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
	return nil
}

func (c *clientWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// passthrough formats on both sides keep frame sizes predictable in tests.
func passthroughRelay(queue int) *Relay {
	return New(Config{
		ClientFormat:  pcm.L16Mono16K,
		BackendFormat: pcm.L16Mono16K,
		QueueFrames:   queue,
	})
}

func frame(n int) []byte {
	return make([]byte, n*2) // n samples
}

func TestOpen_SecondStreamRejected(t *testing.T) {
	r := passthroughRelay(4)
	sink := &collectSink{}
	cw := &clientWriter{}

	s, err := r.Open("round-1", "suspect-a", sink, cw, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	if _, err := r.Open("round-1", "suspect-a", sink, cw, nil); !errors.Is(err, ErrStreamAlreadyOpen) {
		t.Errorf("second Open = %v, want ErrStreamAlreadyOpen", err)
	}
	// A different round is fine.
	s2, err := r.Open("round-2", "suspect-b", sink, cw, nil)
	if err != nil {
		t.Fatalf("Open round-2 error: %v", err)
	}
	s2.Close()
}

func TestStream_ForwardsClientFrames(t *testing.T) {
	r := passthroughRelay(8)
	sink := &collectSink{}
	s, err := r.Open("round-1", "suspect-a", sink, &clientWriter{}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	for range 5 {
		if err := s.PushClientFrame(frame(160)); err != nil {
			t.Fatalf("PushClientFrame error: %v", err)
		}
	}
	s.Close() // waits for the forwarder to drain

	if got := sink.count(); got != 5 {
		t.Errorf("backend received %d frames, want 5", got)
	}
}

func TestStream_DropsOldestUnderBackpressure(t *testing.T) {
	r := passthroughRelay(2)
	block := make(chan struct{})
	sink := &collectSink{block: block}
	s, err := r.Open("round-1", "suspect-a", sink, &clientWriter{}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	// The forwarder takes one frame and stalls; the 2-slot queue then
	// overflows as more frames arrive. Pushes must not block.
	done := make(chan struct{})
	go func() {
		for range 10 {
			s.PushClientFrame(frame(160))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PushClientFrame blocked under backpressure")
	}

	close(block)
	s.Close()
	if s.Dropped() == 0 {
		t.Error("expected dropped frames under backpressure")
	}
	if got := sink.count(); got >= 10 {
		t.Errorf("backend received %d frames, want fewer than pushed", got)
	}
}

func TestStream_BackendFramesForwardedImmediately(t *testing.T) {
	r := passthroughRelay(4)
	cw := &clientWriter{}
	s, err := r.Open("round-1", "suspect-a", &collectSink{}, cw, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	if err := s.PushBackendFrame(frame(160)); err != nil {
		t.Fatalf("PushBackendFrame error: %v", err)
	}
	if got := cw.count(); got != 1 {
		t.Errorf("client received %d chunks, want 1 (no buffering)", got)
	}
}

func TestStream_CloseIdempotentAndSignalsEOU(t *testing.T) {
	r := passthroughRelay(4)
	var eou int
	s, err := r.Open("round-1", "suspect-a", &collectSink{}, &clientWriter{}, func() { eou++ })
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	s.Close()
	s.Close()
	if eou != 1 {
		t.Errorf("end-of-utterance fired %d times, want 1", eou)
	}

	if err := s.PushClientFrame(frame(160)); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("push after close = %v, want ErrStreamClosed", err)
	}
	if err := s.PushBackendFrame(frame(160)); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("backend push after close = %v, want ErrStreamClosed", err)
	}
}

func TestRelay_CloseStreamTwice(t *testing.T) {
	r := passthroughRelay(4)
	var eou int
	if _, err := r.Open("round-1", "suspect-a", &collectSink{}, &clientWriter{}, func() { eou++ }); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	r.CloseStream("round-1")
	r.CloseStream("round-1") // timer and manual end racing
	if eou != 1 {
		t.Errorf("end-of-utterance fired %d times, want 1", eou)
	}
	if r.Stream("round-1") != nil {
		t.Error("stream should be released after CloseStream")
	}
	// The round can be reopened after release.
	s, err := r.Open("round-1", "suspect-a", &collectSink{}, &clientWriter{}, nil)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	s.Close()
}

func TestStream_Resamples(t *testing.T) {
	r := New(Config{
		ClientFormat:  pcm.L16Mono16K,
		BackendFormat: pcm.L16Mono24K,
		QueueFrames:   8,
	})
	sink := &collectSink{}
	s, err := r.Open("round-1", "suspect-a", sink, &clientWriter{}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	for range 10 {
		if err := s.PushClientFrame(frame(320)); err != nil { // 20ms at 16k
			t.Fatalf("PushClientFrame error: %v", err)
		}
	}
	s.Close()

	var total int
	sink.mu.Lock()
	for _, f := range sink.frames {
		total += len(f)
	}
	sink.mu.Unlock()
	// 10 frames of 640 bytes upsampled by 1.5x, within filter slack.
	ideal := 10 * 640 * 3 / 2
	if total < ideal*7/10 || total > ideal*13/10 {
		t.Errorf("backend received %d bytes, want near %d", total, ideal)
	}
}
