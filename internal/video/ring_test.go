package video

import (
	"testing"
	"time"
)

func makeFrame(seq uint64, ts time.Time) *Frame {
	return &Frame{Seq: seq, Timestamp: ts, Width: 4, Height: 4, Pix: make([]byte, 16)}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		rb.Push(makeFrame(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}

	if rb.Len() != 3 {
		t.Fatalf("expected len 3 after wraparound, got %d", rb.Len())
	}

	frames := rb.Snapshot(0)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames in snapshot, got %d", len(frames))
	}
	// Oldest first; seqs 0 and 1 were evicted.
	for i, want := range []uint64{2, 3, 4} {
		if frames[i].Seq != want {
			t.Errorf("frame %d: expected seq %d, got %d", i, want, frames[i].Seq)
		}
	}

	newest := rb.Newest()
	if newest == nil || newest.Seq != 4 {
		t.Errorf("expected newest seq 4, got %+v", newest)
	}
}

func TestRingBuffer_SnapshotWindow(t *testing.T) {
	rb := NewRingBuffer(10)
	base := time.Now()

	for i := 0; i < 10; i++ {
		rb.Push(makeFrame(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}

	// Newest is at +9s; a 3s window keeps +6s..+9s.
	frames := rb.Snapshot(3 * time.Second)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames within 3s window, got %d", len(frames))
	}
	if frames[0].Seq != 6 || frames[len(frames)-1].Seq != 9 {
		t.Errorf("expected seqs 6..9, got %d..%d", frames[0].Seq, frames[len(frames)-1].Seq)
	}
}

func TestRingBuffer_CopyOut(t *testing.T) {
	rb := NewRingBuffer(2)
	f := makeFrame(1, time.Now())
	f.Pix[0] = 42
	rb.Push(f)

	// Mutating the pushed frame must not affect the stored copy.
	f.Pix[0] = 0
	got := rb.Snapshot(0)
	if got[0].Pix[0] != 42 {
		t.Error("ring buffer shares pixel storage with the writer")
	}

	// Mutating a snapshot must not affect subsequent snapshots.
	got[0].Pix[0] = 7
	again := rb.Snapshot(0)
	if again[0].Pix[0] != 42 {
		t.Error("snapshot shares pixel storage with the buffer")
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	rb := NewRingBuffer(4)
	if rb.Len() != 0 {
		t.Errorf("expected empty buffer, got len %d", rb.Len())
	}
	if rb.Newest() != nil {
		t.Error("expected nil newest on empty buffer")
	}
	if frames := rb.Snapshot(time.Second); frames != nil {
		t.Errorf("expected nil snapshot on empty buffer, got %d frames", len(frames))
	}
}
