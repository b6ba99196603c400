package rtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Mode is the up-buffer policy when the host has not drained enough room.
type Mode int

const (
	// ModeNoBlockSkip writes all of p or nothing.
	ModeNoBlockSkip Mode = iota
	// ModeNoBlockTrim writes as much of p as fits.
	ModeNoBlockTrim
	// ModeBlockIfFull waits for the host to make room.
	ModeBlockIfFull
)

func (m Mode) String() string {
	switch m {
	case ModeNoBlockSkip:
		return "skip"
	case ModeNoBlockTrim:
		return "trim"
	case ModeBlockIfFull:
		return "block"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "skip", "":
		return ModeNoBlockSkip, nil
	case "trim":
		return ModeNoBlockTrim, nil
	case "block":
		return ModeBlockIfFull, nil
	default:
		return 0, fmt.Errorf("rtt: unknown mode %q", s)
	}
}

const DefaultMaxUpBuffers = 3

var (
	ErrInvalidSize  = errors.New("rtt: buffer size must be positive")
	ErrNoFreeBuffer = errors.New("rtt: no free up-buffer")
)

// Channel is the trace channel's write primitive. It returns how many bytes
// were accepted; depending on the channel mode that may be fewer than len(p).
type Channel interface {
	Put(p []byte) int
}

// ControlBlock hands out up-buffers, as the target's RTT control block does.
type ControlBlock struct {
	mu  sync.Mutex
	max int
	up  []*UpBuffer
}

func NewControlBlock(maxUp int) *ControlBlock {
	if maxUp <= 0 {
		maxUp = DefaultMaxUpBuffers
	}
	return &ControlBlock{max: maxUp}
}

func (cb *ControlBlock) AllocUpBuffer(name string, size int, mode Mode) (*UpBuffer, error) {
	if size <= 1 {
		return nil, ErrInvalidSize
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.up) >= cb.max {
		return nil, ErrNoFreeBuffer
	}
	u := &UpBuffer{
		name:  name,
		index: len(cb.up),
		mode:  mode,
		buf:   make([]byte, size),
		data:  make(chan struct{}, 1),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	cb.up = append(cb.up, u)
	return u, nil
}

func (cb *ControlBlock) UpBuffer(index int) (*UpBuffer, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if index < 0 || index >= len(cb.up) {
		return nil, false
	}
	return cb.up[index], true
}

// UpBuffer is a fixed-capacity target-to-host channel. One slot is kept free
// to tell full from empty, so it holds at most size-1 bytes.
type UpBuffer struct {
	name  string
	index int
	mode  Mode

	mu     sync.Mutex
	buf    []byte
	wr, rd int
	closed bool

	data  chan struct{}
	space chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (u *UpBuffer) Name() string { return u.name }
func (u *UpBuffer) Index() int   { return u.index }
func (u *UpBuffer) Mode() Mode   { return u.mode }

func (u *UpBuffer) Put(p []byte) int {
	if u.mode != ModeBlockIfFull {
		return u.putOnce(p, u.mode == ModeNoBlockTrim)
	}
	written := 0
	for written < len(p) {
		n := u.putOnce(p[written:], true)
		written += n
		if written == len(p) {
			break
		}
		if n == 0 {
			select {
			case <-u.space:
			case <-u.done:
				return written
			}
		}
	}
	return written
}

func (u *UpBuffer) putOnce(p []byte, trim bool) int {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return 0
	}
	avail := u.availLocked()
	if len(p) > avail && !trim {
		u.mu.Unlock()
		return 0
	}
	n := min(len(p), avail)
	for i := 0; i < n; i++ {
		u.buf[u.wr] = p[i]
		u.wr++
		if u.wr == len(u.buf) {
			u.wr = 0
		}
	}
	u.mu.Unlock()
	if n > 0 {
		notify(u.data)
	}
	return n
}

func (u *UpBuffer) availLocked() int {
	if u.rd > u.wr {
		return u.rd - u.wr - 1
	}
	return len(u.buf) - (u.wr - u.rd) - 1
}

// Buffered reports how many bytes wait for the host.
func (u *UpBuffer) Buffered() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buf) - 1 - u.availLocked()
}

// Read is the host side. It never blocks: it returns 0, nil when the buffer is
// empty, and io.EOF once the buffer is closed and drained.
func (u *UpBuffer) Read(p []byte) (int, error) {
	u.mu.Lock()
	n := 0
	for n < len(p) && u.rd != u.wr {
		p[n] = u.buf[u.rd]
		n++
		u.rd++
		if u.rd == len(u.buf) {
			u.rd = 0
		}
	}
	closed := u.closed
	u.mu.Unlock()
	if n > 0 {
		notify(u.space)
		return n, nil
	}
	if closed {
		return 0, io.EOF
	}
	return 0, nil
}

// ReadContext waits until data is available, the buffer is closed, or ctx is done.
func (u *UpBuffer) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := u.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-u.data:
		case <-u.done:
		}
	}
}

// Close wakes blocked writers and readers. Queued bytes stay readable.
func (u *UpBuffer) Close() error {
	u.once.Do(func() {
		u.mu.Lock()
		u.closed = true
		u.mu.Unlock()
		close(u.done)
	})
	return nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
