package resampler

import (
	"bytes"
	"math"
	"testing"

	"github.com/haivivi/culprit/pkg/audio/pcm"
)

func TestConverter_Passthrough(t *testing.T) {
	c, err := New(pcm.L16Mono16K, pcm.L16Mono16K)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	in := []byte{1, 2, 3, 4}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("Convert = %v, want %v", out, in)
	}
	// Must be a copy, not an alias.
	out[0] = 99
	if in[0] == 99 {
		t.Error("Convert aliased the input frame")
	}
}

func TestConverter_RejectsUnalignedFrame(t *testing.T) {
	c, err := New(pcm.L16Mono16K, pcm.L16Mono24K)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := c.Convert([]byte{1, 2, 3}); err == nil {
		t.Error("Convert with odd-length frame should fail")
	}
}

func TestConverter_Upsample(t *testing.T) {
	c, err := New(pcm.L16Mono16K, pcm.L16Mono24K)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	// 100ms of a 440Hz sine at 16kHz.
	n := 1600
	in := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(10000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		in[i*2] = byte(s)
		in[i*2+1] = byte(s >> 8)
	}

	var total int
	// Feed in 20ms frames like the relay does.
	frame := int(pcm.L16Mono16K.BytesInDuration(20_000_000)) // 20ms in ns
	for off := 0; off < len(in); off += frame {
		out, err := c.Convert(in[off : off+frame])
		if err != nil {
			t.Fatalf("Convert error: %v", err)
		}
		if len(out)%2 != 0 {
			t.Fatalf("output length %d not sample-aligned", len(out))
		}
		total += len(out)
	}

	// Resampling filters buffer a little history, so allow slack around
	// the ideal 1.5x output size.
	ideal := int(float64(len(in)) * c.Ratio())
	if total < ideal*8/10 || total > ideal*12/10 {
		t.Errorf("total output = %d bytes, want within 20%% of %d", total, ideal)
	}
}
