package pcm

import (
	"bytes"
	"testing"
	"time"
)

func TestFormat_Math(t *testing.T) {
	tests := []struct {
		format   Format
		rate     int
		bytes20  int64 // bytes in 20ms
		duration time.Duration
	}{
		{L16Mono16K, 16000, 640, 20 * time.Millisecond},
		{L16Mono24K, 24000, 960, 20 * time.Millisecond},
		{L16Mono48K, 48000, 1920, 20 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := tc.format.SampleRate(); got != tc.rate {
			t.Errorf("%v.SampleRate() = %d, want %d", tc.format, got, tc.rate)
		}
		if got := tc.format.BytesInDuration(20 * time.Millisecond); got != tc.bytes20 {
			t.Errorf("%v.BytesInDuration(20ms) = %d, want %d", tc.format, got, tc.bytes20)
		}
		if got := tc.format.Duration(tc.bytes20); got != tc.duration {
			t.Errorf("%v.Duration(%d) = %v, want %v", tc.format, tc.bytes20, got, tc.duration)
		}
		if got := tc.format.SampleBytes(); got != 2 {
			t.Errorf("%v.SampleBytes() = %d, want 2", tc.format, got)
		}
	}
}

func TestDataChunk_WriteTo(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	c := L16Mono16K.DataChunk(data)
	if c.Len() != 4 {
		t.Errorf("Len = %d, want 4", c.Len())
	}
	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	if err != nil || n != 4 {
		t.Fatalf("WriteTo = %d,%v, want 4,nil", n, err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("WriteTo wrote %v, want %v", buf.Bytes(), data)
	}
	if !bytes.Equal(Bytes(c), data) {
		t.Errorf("Bytes = %v, want %v", Bytes(c), data)
	}
}

func TestSilenceChunk(t *testing.T) {
	c := L16Mono16K.SilenceChunk(10 * time.Millisecond)
	if c.Len() != 320 {
		t.Errorf("Len = %d, want 320", c.Len())
	}
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	for i, b := range buf.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	if Bytes(c) != nil {
		t.Error("Bytes on silence chunk should be nil")
	}
}

func TestChunkWriter(t *testing.T) {
	var buf bytes.Buffer
	w := ChunkWriter(&buf)
	if err := w.Write(L16Mono24K.DataChunk([]byte{9, 8})); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{9, 8}) {
		t.Errorf("wrote %v, want [9 8]", buf.Bytes())
	}
}
