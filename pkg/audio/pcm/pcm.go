// Package pcm provides types and math for raw PCM16 audio. The interrogation
// relay carries audio as fixed-duration mono little-endian frames; this
// package defines the format descriptors and the chunk plumbing between the
// gateway, the relay, and the conversational backend.
package pcm

import (
	"io"
	"time"
)

const (
	// FormatUnknown is the zero value; it is not a usable format.
	FormatUnknown Format = iota
	// L16Mono16K represents audio/L16; rate=16000; channels=1
	L16Mono16K
	// L16Mono24K represents audio/L16; rate=24000; channels=1
	L16Mono24K
	// L16Mono48K represents audio/L16; rate=48000; channels=1
	L16Mono48K
)

// Format represents an audio format configuration.
type Format int

// SampleRate returns the sample rate in Hz for this format.
func (f Format) SampleRate() int {
	switch f {
	case L16Mono16K:
		return 16000
	case L16Mono24K:
		return 24000
	case L16Mono48K:
		return 48000
	}
	panic("pcm: invalid audio format")
}

// Channels returns the number of audio channels for this format.
func (f Format) Channels() int {
	switch f {
	case L16Mono16K, L16Mono24K, L16Mono48K:
		return 1
	}
	panic("pcm: invalid audio format")
}

// Depth returns the bit depth for this format.
func (f Format) Depth() int {
	switch f {
	case L16Mono16K, L16Mono24K, L16Mono48K:
		return 16
	}
	panic("pcm: invalid audio format")
}

// SampleBytes returns the byte size of one sample across all channels.
func (f Format) SampleBytes() int {
	return f.Channels() * f.Depth() / 8
}

// Samples returns the number of samples in the given number of bytes.
func (f Format) Samples(bytes int64) int64 {
	return bytes * 8 / int64(f.Channels()) / int64(f.Depth())
}

// SamplesInDuration returns the number of samples in the given duration.
func (f Format) SamplesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate()) * d / time.Second)
}

// BytesInDuration returns the number of bytes in the given duration.
func (f Format) BytesInDuration(d time.Duration) int64 {
	return f.SamplesInDuration(d) * int64(f.Channels()) * int64(f.Depth()) / 8
}

// Duration returns the duration of the given number of bytes.
func (f Format) Duration(bytes int64) time.Duration {
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate())
}

// BytesRate returns the byte rate of the audio data.
func (f Format) BytesRate() int {
	return f.SampleRate() * f.Channels() * f.Depth() / 8
}

// String returns the MIME-style description of the format.
func (f Format) String() string {
	switch f {
	case L16Mono16K:
		return "audio/L16; rate=16000; channels=1"
	case L16Mono24K:
		return "audio/L16; rate=24000; channels=1"
	case L16Mono48K:
		return "audio/L16; rate=48000; channels=1"
	}
	panic("pcm: invalid audio format")
}

// Chunk is a chunk of audio data.
type Chunk interface {
	Len() int64
	Format() Format
	WriteTo(w io.Writer) (int64, error)
}

// DataChunk returns a chunk wrapping the given audio bytes.
func (f Format) DataChunk(data []byte) Chunk {
	return &dataChunk{data: data, fmt: f}
}

// SilenceChunk returns a chunk of silence of the given duration.
func (f Format) SilenceChunk(d time.Duration) Chunk {
	return &silenceChunk{len: f.BytesInDuration(d), fmt: f}
}

type dataChunk struct {
	data []byte
	fmt  Format
}

func (c *dataChunk) Len() int64     { return int64(len(c.data)) }
func (c *dataChunk) Format() Format { return c.fmt }

func (c *dataChunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.data)
	return int64(n), err
}

// Bytes exposes the raw data of a DataChunk, or nil for other chunk kinds.
func Bytes(c Chunk) []byte {
	if dc, ok := c.(*dataChunk); ok {
		return dc.data
	}
	return nil
}

type silenceChunk struct {
	len int64
	fmt Format
}

func (c *silenceChunk) Len() int64     { return c.len }
func (c *silenceChunk) Format() Format { return c.fmt }

var zeroes [8192]byte

func (c *silenceChunk) WriteTo(w io.Writer) (int64, error) {
	left := c.len
	var written int64
	for left > 0 {
		b := zeroes[:]
		if left < int64(len(b)) {
			b = b[:left]
		}
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, err
		}
		left -= int64(n)
	}
	return written, nil
}
