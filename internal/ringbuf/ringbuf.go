// Package ringbuf implements the bounded byte queue between a transport
// producer and its transmitter.
package ringbuf

import (
	"errors"

	"go.uber.org/atomic"
)

var ErrInvalidSize = errors.New("ringbuf: size must be a power of two and at least 2")

// Ring is a fixed power-of-two byte queue for exactly one producer and one
// consumer. head == tail means empty, and the producer never advances head
// onto tail, so at most Cap()-1 bytes are live.
type Ring struct {
	buf  []byte
	mask uint32
	head atomic.Uint32 // written by the producer only
	tail atomic.Uint32 // written by the consumer only
}

func New(size int) (*Ring, error) {
	if size < 2 || size&(size-1) != 0 || size > 1<<30 {
		return nil, ErrInvalidSize
	}
	return &Ring{
		buf:  make([]byte, size),
		mask: uint32(size - 1),
	}, nil
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

func (r *Ring) Len() int {
	return int((r.head.Load() - r.tail.Load()) & r.mask)
}

func (r *Ring) Empty() bool {
	return r.head.Load() == r.tail.Load()
}

func (r *Ring) Full() bool {
	return (r.head.Load()+1)&r.mask == r.tail.Load()
}

// Push appends b and reports false without modifying the ring when it is full.
// Producer side only.
func (r *Ring) Push(b byte) bool {
	head := r.head.Load()
	next := (head + 1) & r.mask
	if next == r.tail.Load() {
		return false
	}
	r.buf[head] = b
	r.head.Store(next)
	return true
}

// Pop removes the oldest byte. It never blocks. Consumer side only.
func (r *Ring) Pop() (byte, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	b := r.buf[tail]
	r.tail.Store((tail + 1) & r.mask)
	return b, true
}

// PopInto drains up to len(p) bytes in FIFO order and returns how many were
// copied. Consumer side only.
func (r *Ring) PopInto(p []byte) int {
	n := 0
	for n < len(p) {
		b, ok := r.Pop()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n
}
