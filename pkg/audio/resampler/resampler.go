// Package resampler converts mono 16-bit PCM frames between sample rates
// using a pure Go resampler (no CGO). The relay uses it to bridge the
// client's 16 kHz stream and the conversational backend's 24 kHz stream.
package resampler

import (
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/culprit/pkg/audio/pcm"
)

// Converter resamples PCM16 frames from a source to a destination format.
// It is stateful (the underlying filter carries history between frames) and
// safe for use by one producer at a time.
type Converter struct {
	src pcm.Format
	dst pcm.Format

	mu sync.Mutex
	rs resampling.Resampler
}

// New creates a Converter from src to dst. Both formats must be mono
// 16-bit. When the rates match the converter passes frames through.
func New(src, dst pcm.Format) (*Converter, error) {
	c := &Converter{src: src, dst: dst}
	if src.SampleRate() == dst.SampleRate() {
		return c, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(src.SampleRate()),
		OutputRate: float64(dst.SampleRate()),
		Channels:   dst.Channels(),
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	c.rs = rs
	return c, nil
}

// Convert resamples one frame. The input length must be a multiple of the
// source sample size. The returned slice is freshly allocated.
func (c *Converter) Convert(frame []byte) ([]byte, error) {
	if len(frame)%c.src.SampleBytes() != 0 {
		return nil, fmt.Errorf("resampler: frame length %d is not sample-aligned for %s", len(frame), c.src)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rs == nil {
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}

	input := bytesToFloat(frame)
	output, err := c.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	return floatToBytes(output), nil
}

// Ratio returns the output/input sample-rate ratio.
func (c *Converter) Ratio() float64 {
	return float64(c.dst.SampleRate()) / float64(c.src.SampleRate())
}

// bytesToFloat decodes little-endian int16 samples into [-1,1] floats.
func bytesToFloat(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// floatToBytes encodes [-1,1] floats as clamped little-endian int16 samples.
func floatToBytes(f []float64) []byte {
	out := make([]byte, len(f)*2)
	for i, v := range f {
		s := int16(v * 32767.0)
		if v > 1.0 {
			s = 32767
		} else if v < -1.0 {
			s = -32768
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
