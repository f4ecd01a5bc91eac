package pktbuf

import (
	"testing"

	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

func TestNewPanicsOnNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for capacity 3")
		}
	}()
	New(3)
}

func TestEmptyFullUsed(t *testing.T) {
	b := New(4)
	if !b.Empty() {
		t.Fatal("new buffer should be empty")
	}
	for i := 0; i < 4; i++ {
		b.Enqueue()
		if b.Used() != uint32(i+1) {
			t.Errorf("Used() = %d, want %d", b.Used(), i+1)
		}
	}
	if !b.Full() {
		t.Fatal("buffer should be full after 4 enqueues of capacity 4")
	}
	for i := 0; i < 4; i++ {
		b.Dequeue()
	}
	if !b.Empty() {
		t.Fatal("buffer should be empty after dequeuing everything")
	}
}

func TestEnqueueDequeueAlgebra(t *testing.T) {
	b := New(8)
	enqueues, dequeues := 0, 0
	ops := []bool{true, true, true, false, true, false, false, true, true, false}
	for _, enqueue := range ops {
		if enqueue {
			b.Enqueue()
			enqueues++
		} else if !b.Empty() {
			b.Dequeue()
			dequeues++
		}
	}
	if b.Used() != uint32(enqueues-dequeues) {
		t.Errorf("Used() = %d, want %d", b.Used(), enqueues-dequeues)
	}
}

func TestSlotForSeqDeterministic(t *testing.T) {
	b := New(16)
	s1 := b.SlotForSeq(5)
	s2 := b.SlotForSeq(5)
	if s1 != s2 {
		t.Errorf("SlotForSeq(5) returned different slots: %p != %p", s1, s2)
	}
	if s1.Seq != 5 {
		t.Errorf("slot.Seq = %d, want 5", s1.Seq)
	}
}

func TestSlotForSeqAllocatesIntervening(t *testing.T) {
	b := New(16)
	b.SlotForSeq(10)
	if b.Used() != 1 {
		t.Fatalf("Used() = %d, want 1", b.Used())
	}
	b.SlotForSeq(13)
	if b.Used() != 4 {
		t.Fatalf("Used() = %d, want 4 (seq 10,11,12,13)", b.Used())
	}
	for seq := uint8(10); seq <= 13; seq++ {
		slot := b.SlotForSeq(seq)
		if slot.Seq != seq {
			t.Errorf("slot for seq %d has Seq=%d", seq, slot.Seq)
		}
	}
}

func TestSlotForSeqWrapsModulo256(t *testing.T) {
	b := New(8)
	b.SlotForSeq(254)
	b.SlotForSeq(1) // wraps past 255 back to 1
	if b.Used() != 4 {
		t.Fatalf("Used() = %d, want 4 (254,255,0,1)", b.Used())
	}
}

func TestFirstLast(t *testing.T) {
	b := New(4)
	a := b.Enqueue()
	a.Seq = 1
	c := b.Enqueue()
	c.Seq = 2
	if b.First().Seq != 1 {
		t.Errorf("First().Seq = %d, want 1", b.First().Seq)
	}
	if b.Last().Seq != 2 {
		t.Errorf("Last().Seq = %d, want 2", b.Last().Seq)
	}
}

func TestForEachOrder(t *testing.T) {
	b := New(8)
	for _, seq := range []uint8{1, 2, 3} {
		slot := b.Enqueue()
		slot.Seq = seq
	}
	var got []uint8
	b.ForEach(func(p *wire.Packet) {
		got = append(got, p.Seq)
	})
	want := []uint8{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("ForEach visited %d slots, want %d", len(got), len(want))
	}
	for i, seq := range want {
		if got[i] != seq {
			t.Errorf("visit %d: got seq %d, want %d", i, got[i], seq)
		}
	}
}
