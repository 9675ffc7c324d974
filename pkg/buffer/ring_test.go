package buffer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		if dropped := r.Push(i); dropped {
			t.Errorf("Push(%d) dropped unexpectedly", i)
		}
	}
	for want := 1; want <= 3; want++ {
		got, ok := r.TryRecv()
		if !ok || got != want {
			t.Errorf("TryRecv = %d,%v, want %d,true", got, ok, want)
		}
	}
	if _, ok := r.TryRecv(); ok {
		t.Error("TryRecv on empty ring should report false")
	}
}

func TestRing_DropsOldestWhenFull(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", r.Dropped())
	}
	var got []int
	for {
		v, ok := r.TryRecv()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drained[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRing_RecvBlocksUntilPush(t *testing.T) {
	r := NewRing[string](2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Push("frame")
	}()

	got, err := r.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if got != "frame" {
		t.Errorf("Recv = %q, want %q", got, "frame")
	}
}

func TestRing_CloseDrainsThenErrClosed(t *testing.T) {
	r := NewRing[int](2)
	r.Push(7)
	r.Close()
	r.Close() // idempotent

	ctx := context.Background()
	got, err := r.Recv(ctx)
	if err != nil || got != 7 {
		t.Fatalf("Recv = %d,%v, want 7,nil", got, err)
	}
	if _, err := r.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after close = %v, want ErrClosed", err)
	}
	if dropped := r.Push(8); dropped {
		t.Error("Push after close should not report a drop")
	}
	if r.Len() != 0 {
		t.Errorf("Len after close push = %d, want 0", r.Len())
	}
}

func TestRing_RecvContextCancelled(t *testing.T) {
	r := NewRing[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv = %v, want context.Canceled", err)
	}
}
