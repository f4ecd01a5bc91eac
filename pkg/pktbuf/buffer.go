// Package pktbuf implements the fixed-capacity circular buffer of wire
// packets shared by the sender and receiver engines, addressed by an 8-bit
// sequence space.
package pktbuf

import (
	"fmt"

	"github.com/ventosilenzioso/gorudt/pkg/wire"
)

// Buffer is a power-of-two-capacity ring of packet slots. first/last are
// monotonically increasing counters; masking them with capacity-1 gives the
// physical slot index, so the buffer never needs to shift elements.
type Buffer struct {
	slots    []wire.Packet
	capacity uint32
	first    uint32
	last     uint32
}

// New allocates an empty buffer. capacity must be a power of two.
func New(capacity uint32) *Buffer {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("pktbuf: capacity %d is not a power of 2", capacity))
	}
	return &Buffer{
		slots:    make([]wire.Packet, capacity),
		capacity: capacity,
	}
}

func (b *Buffer) mask(i uint32) uint32 { return i & (b.capacity - 1) }

// Empty reports whether the buffer holds no packets.
func (b *Buffer) Empty() bool { return b.first == b.last }

// Used returns the number of filled slots.
func (b *Buffer) Used() uint32 { return b.last - b.first }

// Full reports whether the buffer has no free slots.
func (b *Buffer) Full() bool { return b.Used() >= b.capacity }

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() uint32 { return b.capacity }

// First returns the oldest slot. Behavior is undefined if the buffer is
// empty; callers must check Empty() first.
func (b *Buffer) First() *wire.Packet {
	return &b.slots[b.mask(b.first)]
}

// Last returns the newest slot. Undefined if the buffer is empty.
func (b *Buffer) Last() *wire.Packet {
	return &b.slots[b.mask(b.last-1)]
}

// Enqueue appends a new slot and returns it for the caller to fill.
// Precondition: !Full().
func (b *Buffer) Enqueue() *wire.Packet {
	if b.Full() {
		panic("pktbuf: Enqueue on a full buffer")
	}
	slot := &b.slots[b.mask(b.last)]
	b.last++
	return slot
}

// Dequeue removes and returns the oldest slot. Precondition: !Empty().
func (b *Buffer) Dequeue() *wire.Packet {
	if b.Empty() {
		panic("pktbuf: Dequeue on an empty buffer")
	}
	slot := &b.slots[b.mask(b.first)]
	b.first++
	return slot
}

// At returns the slot for an absolute monotonic index previously handed out
// by Enqueue/SlotForSeq. Callers guarantee the index is in bounds.
func (b *Buffer) At(idx uint32) *wire.Packet {
	return &b.slots[b.mask(idx)]
}

// SlotForSeq returns the slot for sequence number s, allocating any
// intervening hole slots (pre-stamped with their running sequence number)
// as needed. If the buffer is empty, it enqueues a fresh slot stamped with
// s. Requires the offset from the current head to s to be within capacity.
func (b *Buffer) SlotForSeq(s uint8) *wire.Packet {
	if b.Empty() {
		slot := b.Enqueue()
		slot.Seq = s
		return slot
	}
	firstSeq := b.First().Seq
	offset := uint32(s - firstSeq) // modulo-256 distance, widened
	if offset > b.capacity {
		panic(fmt.Sprintf("pktbuf: seq %d is %d slots from head, capacity is %d", s, offset, b.capacity))
	}
	for offset >= b.Used() {
		slot := b.Enqueue()
		slot.Seq = firstSeq + uint8(b.Used()-1)
	}
	slot := b.At(b.first + offset)
	return slot
}

// ForEach invokes fn for every used slot in insertion (oldest-first) order.
func (b *Buffer) ForEach(fn func(p *wire.Packet)) {
	for i := b.first; i != b.last; i++ {
		fn(b.At(i))
	}
}
